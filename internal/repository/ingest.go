package repository

import (
	"context"
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Record ingestion. The detection engine only reads these tables; the
// methods below feed them from the upstream books sync and from tests.

// SaveEmployee stores an employee record.
func (r *SQLRepository) SaveEmployee(ctx context.Context, companyID string, e *domain.Employee) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	query := `
		INSERT INTO employees (id, company_id, name, email, department, position, salary, hire_date, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		e.ID, companyID, e.Name, e.Email, e.Department, e.Position,
		e.Salary, utc(e.HireDate), boolInt(e.IsActive),
	)
	return err
}

// SaveActivity stores one expense, timesheet, communication, project or task entry.
func (r *SQLRepository) SaveActivity(ctx context.Context, companyID string, a *domain.Activity) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	switch a.Channel {
	case domain.ChannelExpense, domain.ChannelTimesheet, domain.ChannelCommunication,
		domain.ChannelProject, domain.ChannelTask:
	default:
		return fmt.Errorf("%w: unknown activity channel %q", ErrInvalidInput, a.Channel)
	}

	query := `
		INSERT INTO employee_activities (id, company_id, employee_id, channel, amount, hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, companyID, a.EmployeeID, string(a.Channel), a.Amount, a.Hours, utc(a.CreatedAt),
	)
	return err
}

// SaveVendor stores a vendor record.
func (r *SQLRepository) SaveVendor(ctx context.Context, companyID string, v *domain.Vendor) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	query := `INSERT INTO vendors (id, company_id, name, email, phone, address) VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query), v.ID, companyID, v.Name, v.Email, v.Phone, v.Address)
	return err
}

// SaveTransaction stores a vendor transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, companyID string, tx *domain.Transaction) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	query := `
		INSERT INTO transactions (id, company_id, vendor_id, amount, description, transaction_date)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, companyID, tx.VendorID, tx.Amount, tx.Description, utc(tx.TransactionDate),
	)
	return err
}

// SaveInvoice stores a vendor invoice.
func (r *SQLRepository) SaveInvoice(ctx context.Context, companyID string, inv *domain.Invoice) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	query := `
		INSERT INTO invoices (id, company_id, vendor_id, invoice_number, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		inv.ID, companyID, inv.VendorID, inv.InvoiceNumber, inv.Amount, utc(inv.CreatedAt),
	)
	return err
}

// SavePayment stores an outgoing payment.
func (r *SQLRepository) SavePayment(ctx context.Context, companyID string, p *domain.Payment) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	query := `INSERT INTO payments (id, company_id, amount, paid_at) VALUES (?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, r.rebind(query), p.ID, companyID, p.Amount, utc(p.PaidAt))
	return err
}
