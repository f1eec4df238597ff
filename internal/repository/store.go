package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const detectionColumns = `
	id, company_id, fraud_type, entity_type, entity_id, severity,
	description, detail, detected_at, is_resolved, resolved_at,
	resolution_notes, resolution_type`

// SaveDetection stores a new detection scoped to its company.
func (r *SQLRepository) SaveDetection(ctx context.Context, companyID string, d *domain.Detection) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	detail, err := json.Marshal(d.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal detection detail: %w", err)
	}

	query := `INSERT INTO detections (` + detectionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		d.ID, companyID, string(d.FraudType), string(d.EntityType), d.EntityID, string(d.Severity),
		d.Description, string(detail), utc(d.DetectedAt), boolInt(d.IsResolved), utcPtr(d.ResolvedAt),
		d.ResolutionNotes, d.ResolutionType,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDetection(row rowScanner) (*domain.Detection, error) {
	var d domain.Detection
	var fraudType, entityType, severity, detail string
	var detectedAt, resolvedAt nullTime

	err := row.Scan(
		&d.ID, &d.CompanyID, &fraudType, &entityType, &d.EntityID, &severity,
		&d.Description, &detail, &detectedAt, &d.IsResolved, &resolvedAt,
		&d.ResolutionNotes, &d.ResolutionType,
	)
	if err != nil {
		return nil, err
	}

	d.FraudType = domain.FraudType(fraudType)
	d.EntityType = domain.EntityType(entityType)
	d.Severity = domain.Severity(severity)
	d.DetectedAt = detectedAt.Time
	d.ResolvedAt = resolvedAt.ptr()

	if detail != "" {
		if err := json.Unmarshal([]byte(detail), &d.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode detail of detection %s: %w", d.ID, err)
		}
	}

	return &d, nil
}

// GetDetection retrieves a detection by ID scoped to its company.
func (r *SQLRepository) GetDetection(ctx context.Context, companyID string, id string) (*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `SELECT ` + detectionColumns + ` FROM detections WHERE company_id = ? AND id = ?`

	d, err := scanDetection(r.db.QueryRowContext(ctx, r.rebind(query), companyID, id))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

// ListDetections returns detections newest first.
func (r *SQLRepository) ListDetections(ctx context.Context, companyID string, filter domain.DetectionFilter) ([]*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `SELECT ` + detectionColumns + ` FROM detections WHERE company_id = ?`
	args := []any{companyID}

	if !filter.Since.IsZero() {
		query += ` AND detected_at >= ?`
		args = append(args, utc(filter.Since))
	}
	if filter.FraudType != "" {
		query += ` AND fraud_type = ?`
		args = append(args, string(filter.FraudType))
	}
	query += ` ORDER BY detected_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	detections := make([]*domain.Detection, 0)
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		detections = append(detections, d)
	}

	return detections, rows.Err()
}

// ResolveDetection closes an unresolved detection. A ghost employee report
// built from the detection is closed in the same transaction.
func (r *SQLRepository) ResolveDetection(ctx context.Context, companyID string, id string, res domain.Resolution, at time.Time) (*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `
		UPDATE detections
		SET is_resolved = 1, resolved_at = ?, resolution_notes = ?, resolution_type = ?
		WHERE company_id = ? AND id = ? AND is_resolved = 0
	`
	linked := `
		UPDATE ghost_employee_reports
		SET is_resolved = 1, resolved_at = ?, resolution_notes = ?, resolution_type = ?
		WHERE company_id = ? AND detection_id = ? AND is_resolved = 0
	`

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.resolveRow(ctx, tx, "detections", query, companyID, id, res, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.rebind(linked), utc(at), res.Notes, res.Type, companyID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetDetection(ctx, companyID, id)
}

// inTx runs fn in a transaction and commits when it succeeds.
func (r *SQLRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// resolveRow runs a conditional resolve update and classifies a miss.
func (r *SQLRepository) resolveRow(ctx context.Context, tx *sql.Tx, table, query, companyID, id string, res domain.Resolution, at time.Time) error {
	result, err := tx.ExecContext(ctx, r.rebind(query), utc(at), res.Notes, res.Type, companyID, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var resolved bool
	check := `SELECT is_resolved FROM ` + table + ` WHERE company_id = ? AND id = ?`
	if err := tx.QueryRowContext(ctx, r.rebind(check), companyID, id).Scan(&resolved); err != nil {
		return notFound(err)
	}
	if resolved {
		return fmt.Errorf("%w: %s %s", domain.ErrConflict, table, id)
	}
	return fmt.Errorf("resolve %s %s: no rows updated", table, id)
}

const benfordColumns = `
	id, company_id, data_type, total_records, benford_distribution,
	actual_distribution, chi_square_statistic, degrees_of_freedom, p_value,
	is_significant, confidence_level, anomalies, analyzed_at`

// SaveBenfordAnalysis stores a new analysis. Analyses are never updated.
func (r *SQLRepository) SaveBenfordAnalysis(ctx context.Context, companyID string, a *domain.BenfordAnalysis) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	expected, err := json.Marshal(a.BenfordDistribution)
	if err != nil {
		return fmt.Errorf("failed to marshal expected distribution: %w", err)
	}
	actual, err := json.Marshal(a.ActualDistribution)
	if err != nil {
		return fmt.Errorf("failed to marshal actual distribution: %w", err)
	}
	anomalies, err := json.Marshal(a.Anomalies)
	if err != nil {
		return fmt.Errorf("failed to marshal anomalies: %w", err)
	}

	query := `INSERT INTO benford_analyses (` + benfordColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, companyID, string(a.DataType), a.TotalRecords, string(expected),
		string(actual), a.ChiSquareStatistic, a.DegreesOfFreedom, a.PValue,
		boolInt(a.IsSignificant), a.ConfidenceLevel, string(anomalies), utc(a.AnalyzedAt),
	)
	return err
}

func scanBenford(row rowScanner) (*domain.BenfordAnalysis, error) {
	var a domain.BenfordAnalysis
	var dataType, expected, actual, anomalies string
	var analyzedAt nullTime

	err := row.Scan(
		&a.ID, &a.CompanyID, &dataType, &a.TotalRecords, &expected,
		&actual, &a.ChiSquareStatistic, &a.DegreesOfFreedom, &a.PValue,
		&a.IsSignificant, &a.ConfidenceLevel, &anomalies, &analyzedAt,
	)
	if err != nil {
		return nil, err
	}

	a.DataType = domain.DataType(dataType)
	a.AnalyzedAt = analyzedAt.Time
	if err := json.Unmarshal([]byte(expected), &a.BenfordDistribution); err != nil {
		return nil, fmt.Errorf("failed to decode benford distribution: %w", err)
	}
	if err := json.Unmarshal([]byte(actual), &a.ActualDistribution); err != nil {
		return nil, fmt.Errorf("failed to decode actual distribution: %w", err)
	}
	if err := json.Unmarshal([]byte(anomalies), &a.Anomalies); err != nil {
		return nil, fmt.Errorf("failed to decode anomalies: %w", err)
	}

	return &a, nil
}

// GetBenfordAnalysis retrieves an analysis by ID scoped to its company.
func (r *SQLRepository) GetBenfordAnalysis(ctx context.Context, companyID string, id string) (*domain.BenfordAnalysis, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `SELECT ` + benfordColumns + ` FROM benford_analyses WHERE company_id = ? AND id = ?`

	a, err := scanBenford(r.db.QueryRowContext(ctx, r.rebind(query), companyID, id))
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ListBenfordAnalyses returns analyses newest first.
func (r *SQLRepository) ListBenfordAnalyses(ctx context.Context, companyID string, since time.Time, limit int) ([]*domain.BenfordAnalysis, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `SELECT ` + benfordColumns + ` FROM benford_analyses WHERE company_id = ? AND analyzed_at >= ? ORDER BY analyzed_at DESC, id`
	args := []any{companyID, utc(since)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	analyses := make([]*domain.BenfordAnalysis, 0)
	for rows.Next() {
		a, err := scanBenford(rows)
		if err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}

	return analyses, rows.Err()
}

const ghostColumns = `
	id, company_id, detection_id, employee_id, department, activity_status,
	risk_score, salary, report, detected_at, is_resolved, resolved_at,
	resolution_notes, resolution_type`

// SaveGhostReport stores a ghost employee report. The full report is kept as
// JSON and the columns used for filtering and resolution are broken out.
func (r *SQLRepository) SaveGhostReport(ctx context.Context, companyID string, g *domain.GhostEmployeeReport) error {
	if err := requireCompany(companyID); err != nil {
		return err
	}

	report, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal ghost report: %w", err)
	}

	query := `INSERT INTO ghost_employee_reports (` + ghostColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		g.ID, companyID, g.DetectionID, g.EmployeeID, g.Department, string(g.ActivityStatus),
		g.RiskScore, g.Salary, string(report), utc(g.DetectedAt), boolInt(g.IsResolved), utcPtr(g.ResolvedAt),
		g.ResolutionNotes, g.ResolutionType,
	)
	return err
}

func scanGhostReport(row rowScanner) (*domain.GhostEmployeeReport, error) {
	var id, companyID, detectionID, employeeID, department, status, report string
	var riskScore int
	var salary float64
	var detectedAt, resolvedAt nullTime
	var isResolved bool
	var notes, resType string

	err := row.Scan(
		&id, &companyID, &detectionID, &employeeID, &department, &status,
		&riskScore, &salary, &report, &detectedAt, &isResolved, &resolvedAt,
		&notes, &resType,
	)
	if err != nil {
		return nil, err
	}

	var g domain.GhostEmployeeReport
	if err := json.Unmarshal([]byte(report), &g); err != nil {
		return nil, fmt.Errorf("failed to decode ghost report %s: %w", id, err)
	}

	// Columns are authoritative, the JSON is a snapshot at creation.
	g.ID = id
	g.CompanyID = companyID
	g.DetectionID = detectionID
	g.EmployeeID = employeeID
	g.Department = department
	g.ActivityStatus = domain.ActivityStatus(status)
	g.RiskScore = riskScore
	g.Salary = salary
	g.DetectedAt = detectedAt.Time
	g.IsResolved = isResolved
	g.ResolvedAt = resolvedAt.ptr()
	g.ResolutionNotes = notes
	g.ResolutionType = resType

	return &g, nil
}

// GetGhostReport retrieves a ghost report by ID scoped to its company.
func (r *SQLRepository) GetGhostReport(ctx context.Context, companyID string, id string) (*domain.GhostEmployeeReport, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ghostColumns + ` FROM ghost_employee_reports WHERE company_id = ? AND id = ?`

	g, err := scanGhostReport(r.db.QueryRowContext(ctx, r.rebind(query), companyID, id))
	if err != nil {
		return nil, notFound(err)
	}
	return g, nil
}

// ListGhostReports returns reports newest first, highest risk first within a timestamp.
func (r *SQLRepository) ListGhostReports(ctx context.Context, companyID string, since time.Time, limit int) ([]*domain.GhostEmployeeReport, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `SELECT ` + ghostColumns + ` FROM ghost_employee_reports WHERE company_id = ? AND detected_at >= ? ORDER BY detected_at DESC, risk_score DESC, id`
	args := []any{companyID, utc(since)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]*domain.GhostEmployeeReport, 0)
	for rows.Next() {
		g, err := scanGhostReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, g)
	}

	return reports, rows.Err()
}

// ResolveGhostReport closes an unresolved ghost employee report together
// with the detection it was built from.
func (r *SQLRepository) ResolveGhostReport(ctx context.Context, companyID string, id string, res domain.Resolution, at time.Time) (*domain.GhostEmployeeReport, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	query := `
		UPDATE ghost_employee_reports
		SET is_resolved = 1, resolved_at = ?, resolution_notes = ?, resolution_type = ?
		WHERE company_id = ? AND id = ? AND is_resolved = 0
	`
	linked := `
		UPDATE detections
		SET is_resolved = 1, resolved_at = ?, resolution_notes = ?, resolution_type = ?
		WHERE company_id = ? AND is_resolved = 0 AND id = (
			SELECT detection_id FROM ghost_employee_reports WHERE company_id = ? AND id = ?
		)
	`

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if err := r.resolveRow(ctx, tx, "ghost_employee_reports", query, companyID, id, res, at); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, r.rebind(linked), utc(at), res.Notes, res.Type, companyID, companyID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r.GetGhostReport(ctx, companyID, id)
}
