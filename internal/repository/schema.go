package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaEmployees = `
CREATE TABLE IF NOT EXISTS employees (
    id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    department TEXT NOT NULL DEFAULT '',
    position TEXT NOT NULL DEFAULT '',
    salary DOUBLE PRECISION NOT NULL DEFAULT 0,
    hire_date TIMESTAMP NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    PRIMARY KEY (company_id, id)
);

CREATE INDEX IF NOT EXISTS idx_employees_active ON employees(company_id, is_active, hire_date);
`

const schemaEmployeeActivities = `
CREATE TABLE IF NOT EXISTS employee_activities (
    id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    employee_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    hours DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (company_id, id)
);

CREATE INDEX IF NOT EXISTS idx_activities_employee ON employee_activities(company_id, employee_id, channel);
CREATE INDEX IF NOT EXISTS idx_activities_channel ON employee_activities(company_id, channel);
`

const schemaVendors = `
CREATE TABLE IF NOT EXISTS vendors (
    id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    address TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (company_id, id)
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    vendor_id TEXT NOT NULL DEFAULT '',
    amount DOUBLE PRECISION NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    transaction_date TIMESTAMP NOT NULL,
    PRIMARY KEY (company_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(company_id, transaction_date);
CREATE INDEX IF NOT EXISTS idx_transactions_vendor ON transactions(company_id, vendor_id);
`

const schemaInvoices = `
CREATE TABLE IF NOT EXISTS invoices (
    id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    vendor_id TEXT NOT NULL DEFAULT '',
    invoice_number TEXT NOT NULL DEFAULT '',
    amount DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (company_id, id)
);

CREATE INDEX IF NOT EXISTS idx_invoices_number ON invoices(company_id, vendor_id, invoice_number);
`

const schemaPayments = `
CREATE TABLE IF NOT EXISTS payments (
    id TEXT NOT NULL,
    company_id TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    paid_at TIMESTAMP NOT NULL,
    PRIMARY KEY (company_id, id)
);
`

const schemaDetections = `
CREATE TABLE IF NOT EXISTS detections (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    fraud_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    description TEXT NOT NULL,
    detail TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    is_resolved INTEGER NOT NULL DEFAULT 0,
    resolved_at TIMESTAMP,
    resolution_notes TEXT NOT NULL DEFAULT '',
    resolution_type TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_detections_company ON detections(company_id, detected_at);
CREATE INDEX IF NOT EXISTS idx_detections_type ON detections(company_id, fraud_type);
`

const schemaBenfordAnalyses = `
CREATE TABLE IF NOT EXISTS benford_analyses (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    data_type TEXT NOT NULL,
    total_records INTEGER NOT NULL,
    benford_distribution TEXT NOT NULL,
    actual_distribution TEXT NOT NULL,
    chi_square_statistic DOUBLE PRECISION NOT NULL,
    degrees_of_freedom INTEGER NOT NULL,
    p_value DOUBLE PRECISION NOT NULL,
    is_significant INTEGER NOT NULL,
    confidence_level DOUBLE PRECISION NOT NULL,
    anomalies TEXT NOT NULL,
    analyzed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_benford_company ON benford_analyses(company_id, analyzed_at);
`

const schemaGhostReports = `
CREATE TABLE IF NOT EXISTS ghost_employee_reports (
    id TEXT PRIMARY KEY,
    company_id TEXT NOT NULL,
    detection_id TEXT NOT NULL,
    employee_id TEXT NOT NULL,
    department TEXT NOT NULL DEFAULT '',
    activity_status TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    salary DOUBLE PRECISION NOT NULL DEFAULT 0,
    report TEXT NOT NULL,
    detected_at TIMESTAMP NOT NULL,
    is_resolved INTEGER NOT NULL DEFAULT 0,
    resolved_at TIMESTAMP,
    resolution_notes TEXT NOT NULL DEFAULT '',
    resolution_type TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_ghost_reports_company ON ghost_employee_reports(company_id, detected_at);
`

// AllSchemas returns all schema definitions in order.
func AllSchemas() []string {
	return []string{
		schemaEmployees,
		schemaEmployeeActivities,
		schemaVendors,
		schemaTransactions,
		schemaInvoices,
		schemaPayments,
		schemaDetections,
		schemaBenfordAnalyses,
		schemaGhostReports,
	}
}
