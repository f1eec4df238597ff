package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// NeverActiveDays stands in for days-since-last-activity when no activity was ever recorded.
const NeverActiveDays = 999

// highSalary marks payroll entries whose missing expenses deserve a note.
const highSalary = 100000

// EmployeeSource lists employees joined with their activity.
type EmployeeSource interface {
	ListEmployeeActivity(ctx context.Context, companyID string, hiredBefore, since time.Time) ([]domain.EmployeeActivity, error)
}

// GhostRules scores payroll entries with no sign of real work.
var GhostRules = []domain.ScoreRule{
	{ID: "ghost-no-expenses", Description: "No expenses in window", Expression: "expense_count == 0", Points: 30},
	{ID: "ghost-no-timesheets", Description: "No timesheets in window", Expression: "timesheet_count == 0", Points: 30},
	{ID: "ghost-no-communications", Description: "No communications in window", Expression: "communication_count == 0", Points: 40},
	{ID: "ghost-inactive-90", Description: "Last activity over 90 days ago", Expression: "days_since_activity > 90", Points: 20},
	{ID: "ghost-inactive-180", Description: "Last activity over 180 days ago", Expression: "days_since_activity > 180", Points: 30},
}

var ghostVars = []rules.Variable{
	{Name: "expense_count", Type: cel.IntType},
	{Name: "timesheet_count", Type: cel.IntType},
	{Name: "communication_count", Type: cel.IntType},
	{Name: "project_count", Type: cel.IntType},
	{Name: "task_count", Type: cel.IntType},
	{Name: "days_since_activity", Type: cel.IntType},
	{Name: "salary", Type: cel.DoubleType},
}

// GhostSeverity bands the composite ghost score.
var GhostSeverity = rules.MustSeverityLadder(domain.SeverityLow,
	domain.SeverityBand{Min: 80, Severity: domain.SeverityHigh},
	domain.SeverityBand{Min: 50, Severity: domain.SeverityMedium},
)

// GhostDetector flags active employees with no recorded activity.
type GhostDetector struct {
	base
	source  EmployeeSource
	reports GhostReportStore
	rules   *rules.RuleSet
}

// NewGhostDetector creates a ghost employee detector. Reports are written
// alongside detections when store also implements GhostReportStore.
func NewGhostDetector(source EmployeeSource, store Store, cfg domain.DetectionConfig) *GhostDetector {
	d := &GhostDetector{
		base:   newBase(store, cfg),
		source: source,
		rules:  rules.MustRuleSet(string(domain.FraudGhostEmployee), ghostVars, GhostRules),
	}
	if rs, ok := store.(GhostReportStore); ok {
		d.reports = rs
	}
	return d
}

// Type implements Detector.
func (d *GhostDetector) Type() domain.FraudType {
	return domain.FraudGhostEmployee
}

// Detect implements Detector.
func (d *GhostDetector) Detect(ctx context.Context, companyID string) ([]*domain.Detection, error) {
	if err := requireCompany(companyID); err != nil {
		return nil, err
	}

	now := d.now()
	hiredBefore := d.daysAgo(d.cfg.GhostMinTenureDays)
	since := d.daysAgo(d.cfg.GhostLookbackDays)

	employees, err := d.source.ListEmployeeActivity(ctx, companyID, hiredBefore, since)
	if err != nil {
		return nil, domain.Upstream("list employee activity", err)
	}

	findings := make([]finding, 0)
	candidates := make([]domain.EmployeeActivity, 0)
	for _, e := range employees {
		if !e.IsActive || !e.HireDate.Before(hiredBefore) {
			continue
		}

		days := daysSinceActivity(&e, now)
		silent := e.Expenses.Count == 0 && e.Timesheets.Count == 0 && e.Communications.Count == 0
		if !silent && days <= d.cfg.GhostLookbackDays {
			continue
		}

		score, matched, err := d.rules.Score(map[string]any{
			"expense_count":       int64(e.Expenses.Count),
			"timesheet_count":     int64(e.Timesheets.Count),
			"communication_count": int64(e.Communications.Count),
			"project_count":       int64(e.Projects.Count),
			"task_count":          int64(e.Tasks.Count),
			"days_since_activity": int64(days),
			"salary":              e.Salary,
		})
		if err != nil {
			return nil, err
		}

		findings = append(findings, finding{
			fraudType:   domain.FraudGhostEmployee,
			entityType:  domain.EntityEmployee,
			entityID:    e.ID,
			severity:    GhostSeverity.Classify(float64(score)),
			description: ghostDescription(&e, days),
			detail:      ghostDetail(&e, days),
			score:       score,
			matched:     matched,
		})
		candidates = append(candidates, e)
	}

	return d.persistWith(ctx, companyID, findings, func(i int, det *domain.Detection) error {
		if d.reports == nil {
			return nil
		}
		report := NewGhostReport(det, &candidates[i], now)
		if err := d.reports.SaveGhostReport(ctx, companyID, report); err != nil {
			return fmt.Errorf("failed to save ghost employee report: %w", err)
		}
		return nil
	})
}

func daysSinceActivity(e *domain.EmployeeActivity, now time.Time) int {
	last := e.LastActivity()
	if last == nil {
		return NeverActiveDays
	}
	return daysBetween(*last, now)
}

func ghostDescription(e *domain.EmployeeActivity, days int) string {
	if e.LastActivity() == nil {
		return fmt.Sprintf("Potential ghost employee: %s (%s) has no expenses, timesheets or communications on record",
			e.Name, e.Department)
	}
	return fmt.Sprintf("Potential ghost employee: %s (%s) has been inactive for %d days", e.Name, e.Department, days)
}

func ghostDetail(e *domain.EmployeeActivity, days int) map[string]any {
	detail := map[string]any{
		"employeeName":       e.Name,
		"employeeEmail":      e.Email,
		"department":         e.Department,
		"position":           e.Position,
		"salary":             e.Salary,
		"hireDate":           formatDate(e.HireDate),
		"expenseCount":       e.Expenses.Count,
		"timesheetCount":     e.Timesheets.Count,
		"communicationCount": e.Communications.Count,
		"projectCount":       e.Projects.Count,
		"taskCount":          e.Tasks.Count,
		"lifetimeActivity":   e.Expenses.Total + e.Timesheets.Total + e.Communications.Total,
		"daysSinceActivity":  days,
	}
	if last := e.LastActivity(); last != nil {
		detail["lastActivity"] = formatDate(*last)
	}
	return detail
}

// ActivityStatusOf classifies a candidate's inactivity from its lifetime
// counts and last activity.
func ActivityStatusOf(e *domain.EmployeeActivity, now time.Time) domain.ActivityStatus {
	exp, ts, comm := e.Expenses.Total, e.Timesheets.Total, e.Communications.Total
	switch {
	case e.LastActivity() == nil:
		return domain.ActivityNone
	case exp == 0 && ts == 0 && comm < 5:
		return domain.ActivityMinimal
	case daysSinceActivity(e, now) > 180:
		return domain.ActivityInactive180
	default:
		return domain.ActivityInactive90
	}
}

// GhostRecommendations lists follow-up actions for a candidate.
func GhostRecommendations(e *domain.EmployeeActivity, status domain.ActivityStatus) []string {
	recs := make([]string, 0, 6)

	switch status {
	case domain.ActivityNone:
		recs = append(recs,
			"Immediate investigation required - no activity detected",
			"Verify employee status with HR department",
			"Check if employee is on leave or terminated",
		)
	case domain.ActivityMinimal:
		recs = append(recs,
			"Schedule check-in with employee",
			"Verify work assignments and expectations",
			"Review communication channels",
		)
	case domain.ActivityInactive90:
		recs = append(recs,
			"90-day inactivity review required",
			"Contact employee to verify status",
			"Review project assignments and workload",
		)
	case domain.ActivityInactive180:
		recs = append(recs,
			"180-day inactivity - termination review",
			"Verify employee termination status",
			"Update HR records and payroll",
		)
	}

	if e.Salary > highSalary && e.Expenses.Total == 0 {
		recs = append(recs, "High-salary employee with no expenses - verify status")
	}
	if e.Timesheets.Total == 0 {
		recs = append(recs, "No timesheets submitted - verify time tracking requirements")
	}
	if e.Communications.Total == 0 {
		recs = append(recs, "No communications recorded - verify communication channels")
	}

	return recs
}

// NewGhostReport builds the payroll view of a ghost employee detection.
func NewGhostReport(det *domain.Detection, e *domain.EmployeeActivity, now time.Time) *domain.GhostEmployeeReport {
	status := ActivityStatusOf(e, now)
	return &domain.GhostEmployeeReport{
		ID:                 uuid.New().String(),
		CompanyID:          det.CompanyID,
		DetectionID:        det.ID,
		EmployeeID:         e.ID,
		EmployeeName:       e.Name,
		EmployeeEmail:      e.Email,
		Department:         e.Department,
		Position:           e.Position,
		Salary:             e.Salary,
		HireDate:           e.HireDate,
		ActivityStatus:     status,
		RiskScore:          det.RiskScore(),
		TotalExpenses:      e.TotalExpenses,
		TotalHours:         e.TotalHours,
		ExpenseCount:       e.Expenses.Total,
		TimesheetCount:     e.Timesheets.Total,
		CommunicationCount: e.Communications.Total,
		ProjectCount:       e.Projects.Total,
		TaskCount:          e.Tasks.Total,
		LastExpense:        e.Expenses.Last,
		LastTimesheet:      e.Timesheets.Last,
		LastCommunication:  e.Communications.Last,
		LastProject:        e.Projects.Last,
		LastTask:           e.Tasks.Last,
		Recommendations:    GhostRecommendations(e, status),
		DetectedAt:         det.DetectedAt,
	}
}
