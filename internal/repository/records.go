package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ListEmployeeActivity returns active employees hired before hiredBefore with
// per-channel counts since the given time, lifetime counts and lifetime
// last-activity timestamps.
func (r *SQLRepository) ListEmployeeActivity(ctx context.Context, companyID string, hiredBefore, since time.Time) ([]domain.EmployeeActivity, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, company_id, name, email, department, position, salary, hire_date, is_active
		FROM employees
		WHERE company_id = ? AND is_active = 1 AND hire_date < ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyID, utc(hiredBefore))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]domain.EmployeeActivity, 0)
	index := make(map[string]int)
	for rows.Next() {
		var e domain.EmployeeActivity
		var hireDate nullTime
		if err := rows.Scan(&e.ID, &e.CompanyID, &e.Name, &e.Email, &e.Department, &e.Position,
			&e.Salary, &hireDate, &e.IsActive); err != nil {
			return nil, err
		}
		e.HireDate = hireDate.Time
		index[e.ID] = len(employees)
		employees = append(employees, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(employees) == 0 {
		return employees, nil
	}

	// One row per (employee, channel): window counts and sums, lifetime count and last.
	statsQuery := `
		SELECT employee_id, channel,
			COUNT(CASE WHEN created_at >= ? THEN 1 END),
			COUNT(*),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN created_at >= ? THEN hours ELSE 0 END), 0),
			MAX(created_at)
		FROM employee_activities
		WHERE company_id = ?
		GROUP BY employee_id, channel
	`

	s := utc(since)
	statRows, err := r.db.QueryContext(ctx, r.rebind(statsQuery), s, s, s, companyID)
	if err != nil {
		return nil, err
	}
	defer statRows.Close()

	for statRows.Next() {
		var employeeID, channel string
		var count, total int
		var amount, hours float64
		var last nullTime
		if err := statRows.Scan(&employeeID, &channel, &count, &total, &amount, &hours, &last); err != nil {
			return nil, err
		}

		i, ok := index[employeeID]
		if !ok {
			continue
		}
		e := &employees[i]
		stats := domain.ChannelStats{Count: count, Total: total, Last: last.ptr()}

		switch domain.ActivityChannel(channel) {
		case domain.ChannelExpense:
			e.Expenses = stats
			e.TotalExpenses = amount
		case domain.ChannelTimesheet:
			e.Timesheets = stats
			e.TotalHours = hours
		case domain.ChannelCommunication:
			e.Communications = stats
		case domain.ChannelProject:
			e.Projects = stats
		case domain.ChannelTask:
			e.Tasks = stats
		}
	}

	return employees, statRows.Err()
}

// ListTransactions returns vendor transactions dated at or after since, oldest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, companyID string, since time.Time) ([]domain.Transaction, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.company_id, t.vendor_id, COALESCE(v.name, ''), t.amount, t.description, t.transaction_date
		FROM transactions t
		LEFT JOIN vendors v ON v.company_id = t.company_id AND v.id = t.vendor_id
		WHERE t.company_id = ? AND t.transaction_date >= ?
		ORDER BY t.transaction_date, t.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyID, utc(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0)
	for rows.Next() {
		var tx domain.Transaction
		var date nullTime
		if err := rows.Scan(&tx.ID, &tx.CompanyID, &tx.VendorID, &tx.VendorName, &tx.Amount,
			&tx.Description, &date); err != nil {
			return nil, err
		}
		tx.TransactionDate = date.Time
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// ListInvoices returns all invoices, oldest first.
func (r *SQLRepository) ListInvoices(ctx context.Context, companyID string) ([]domain.Invoice, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `
		SELECT i.id, i.company_id, i.vendor_id, COALESCE(v.name, ''), i.invoice_number, i.amount, i.created_at
		FROM invoices i
		LEFT JOIN vendors v ON v.company_id = i.company_id AND v.id = i.vendor_id
		WHERE i.company_id = ?
		ORDER BY i.created_at, i.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0)
	for rows.Next() {
		var inv domain.Invoice
		var created nullTime
		if err := rows.Scan(&inv.ID, &inv.CompanyID, &inv.VendorID, &inv.VendorName, &inv.InvoiceNumber,
			&inv.Amount, &created); err != nil {
			return nil, err
		}
		inv.CreatedAt = created.Time
		invoices = append(invoices, inv)
	}

	return invoices, rows.Err()
}

// ListVendorActivity returns vendors with their lifetime transaction totals.
func (r *SQLRepository) ListVendorActivity(ctx context.Context, companyID string) ([]domain.VendorActivity, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `
		SELECT v.id, v.company_id, v.name, v.email, v.phone, v.address,
			COUNT(t.id), COALESCE(SUM(t.amount), 0), MAX(t.transaction_date)
		FROM vendors v
		LEFT JOIN transactions t ON t.company_id = v.company_id AND t.vendor_id = v.id
		WHERE v.company_id = ?
		GROUP BY v.id, v.company_id, v.name, v.email, v.phone, v.address
		ORDER BY v.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vendors := make([]domain.VendorActivity, 0)
	for rows.Next() {
		var v domain.VendorActivity
		var last nullTime
		if err := rows.Scan(&v.ID, &v.CompanyID, &v.Name, &v.Email, &v.Phone, &v.Address,
			&v.TransactionCount, &v.TotalAmount, &last); err != nil {
			return nil, err
		}
		v.LastTransaction = last.ptr()
		vendors = append(vendors, v)
	}

	return vendors, rows.Err()
}

// amountQueries maps each Benford sample to its positive-amount query.
var amountQueries = map[domain.DataType]string{
	domain.DataTransactions: `SELECT amount FROM transactions WHERE company_id = ? AND amount > 0`,
	domain.DataExpenses:     `SELECT amount FROM employee_activities WHERE company_id = ? AND channel = 'expense' AND amount > 0`,
	domain.DataInvoices:     `SELECT amount FROM invoices WHERE company_id = ? AND amount > 0`,
	domain.DataPayments:     `SELECT amount FROM payments WHERE company_id = ? AND amount > 0`,
}

// ListAmounts returns the strictly positive amounts of one Benford sample.
func (r *SQLRepository) ListAmounts(ctx context.Context, companyID string, dataType domain.DataType) ([]float64, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query, ok := amountQueries[dataType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedDataType, dataType)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	amounts := make([]float64, 0)
	for rows.Next() {
		var a float64
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		amounts = append(amounts, a)
	}

	return amounts, rows.Err()
}
