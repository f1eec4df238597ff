// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// RecordRepository is the read contract over a company's books.
// All methods require companyID for strict multi-tenancy isolation and
// return fully materialized rows.
type RecordRepository interface {
	// ListEmployeeActivity returns active employees hired before hiredBefore with
	// channel counts since the given time and lifetime last-activity timestamps.
	ListEmployeeActivity(ctx context.Context, companyID string, hiredBefore, since time.Time) ([]EmployeeActivity, error)

	// ListTransactions returns vendor transactions dated at or after since.
	ListTransactions(ctx context.Context, companyID string, since time.Time) ([]Transaction, error)

	// ListInvoices returns all invoices.
	ListInvoices(ctx context.Context, companyID string) ([]Invoice, error)

	// ListVendorActivity returns vendors with their transaction totals.
	ListVendorActivity(ctx context.Context, companyID string) ([]VendorActivity, error)

	// ListAmounts returns the strictly positive amounts of one Benford sample.
	ListAmounts(ctx context.Context, companyID string, dataType DataType) ([]float64, error)
}

// DetectionFilter narrows detection listings.
type DetectionFilter struct {
	Since     time.Time
	FraudType FraudType
	Limit     int
}

// DetectionStore persists findings and enforces the resolve-once lifecycle.
// Lookups for another company's record return ErrNotFound.
type DetectionStore interface {
	SaveDetection(ctx context.Context, companyID string, d *Detection) error
	GetDetection(ctx context.Context, companyID string, id string) (*Detection, error)
	ListDetections(ctx context.Context, companyID string, filter DetectionFilter) ([]*Detection, error)

	// ResolveDetection closes an unresolved detection. It returns ErrNotFound when the
	// detection does not exist for the company and ErrConflict when it is already resolved.
	// A ghost employee report built from the detection is closed with it.
	ResolveDetection(ctx context.Context, companyID string, id string, res Resolution, at time.Time) (*Detection, error)

	SaveBenfordAnalysis(ctx context.Context, companyID string, a *BenfordAnalysis) error
	GetBenfordAnalysis(ctx context.Context, companyID string, id string) (*BenfordAnalysis, error)
	ListBenfordAnalyses(ctx context.Context, companyID string, since time.Time, limit int) ([]*BenfordAnalysis, error)

	SaveGhostReport(ctx context.Context, companyID string, r *GhostEmployeeReport) error
	ListGhostReports(ctx context.Context, companyID string, since time.Time, limit int) ([]*GhostEmployeeReport, error)
	// ResolveGhostReport closes a ghost employee report and its detection together.
	ResolveGhostReport(ctx context.Context, companyID string, id string, res Resolution, at time.Time) (*GhostEmployeeReport, error)
}

// Repository is the full persistence surface backed by one database.
type Repository interface {
	RecordRepository
	DetectionStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
