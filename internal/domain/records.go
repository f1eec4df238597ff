package domain

import (
	"time"
)

// Employee is a payroll record.
type Employee struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"companyId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Department string    `json:"department"`
	Position   string    `json:"position"`
	Salary     float64   `json:"salary"`
	HireDate   time.Time `json:"hireDate"`
	IsActive   bool      `json:"isActive"`
}

// ActivityChannel is a source of evidence that an employee actually works.
type ActivityChannel string

const (
	ChannelExpense       ActivityChannel = "expense"
	ChannelTimesheet     ActivityChannel = "timesheet"
	ChannelCommunication ActivityChannel = "communication"
	ChannelProject       ActivityChannel = "project"
	ChannelTask          ActivityChannel = "task"
)

// Activity is a single expense, timesheet, message, project assignment or task.
type Activity struct {
	ID         string          `json:"id"`
	CompanyID  string          `json:"companyId"`
	EmployeeID string          `json:"employeeId"`
	Channel    ActivityChannel `json:"channel"`
	Amount     float64         `json:"amount,omitempty"`
	Hours      float64         `json:"hours,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// ChannelStats summarizes one activity channel for one employee. Count covers
// the lookback window; Total and Last cover the whole history.
type ChannelStats struct {
	Count int        `json:"count"`
	Total int        `json:"total"`
	Last  *time.Time `json:"last,omitempty"`
}

// EmployeeActivity joins an employee with their activity. Window counts and
// sums cover the lookback window; lifetime totals and last timestamps cover
// the whole history so inactivity can be measured.
type EmployeeActivity struct {
	Employee
	Expenses       ChannelStats `json:"expenses"`
	Timesheets     ChannelStats `json:"timesheets"`
	Communications ChannelStats `json:"communications"`
	Projects       ChannelStats `json:"projects"`
	Tasks          ChannelStats `json:"tasks"`
	TotalExpenses  float64      `json:"totalExpenses"`
	TotalHours     float64      `json:"totalHours"`
}

// LastActivity returns the most recent expense, timesheet or communication.
func (e *EmployeeActivity) LastActivity() *time.Time {
	var last *time.Time
	for _, ts := range []*time.Time{e.Expenses.Last, e.Timesheets.Last, e.Communications.Last} {
		if ts != nil && (last == nil || ts.After(*last)) {
			last = ts
		}
	}
	return last
}

// Vendor is a supplier record.
type Vendor struct {
	ID        string `json:"id"`
	CompanyID string `json:"companyId"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

// VendorActivity is a vendor with its lifetime transaction totals.
type VendorActivity struct {
	Vendor
	TransactionCount int        `json:"transactionCount"`
	TotalAmount      float64    `json:"totalAmount"`
	LastTransaction  *time.Time `json:"lastTransaction,omitempty"`
}

// Transaction is a payment to a vendor.
type Transaction struct {
	ID              string    `json:"id"`
	CompanyID       string    `json:"companyId"`
	VendorID        string    `json:"vendorId"`
	VendorName      string    `json:"vendorName"`
	Amount          float64   `json:"amount"`
	Description     string    `json:"description"`
	TransactionDate time.Time `json:"transactionDate"`
}

// Invoice is a vendor bill.
type Invoice struct {
	ID            string    `json:"id"`
	CompanyID     string    `json:"companyId"`
	VendorID      string    `json:"vendorId"`
	VendorName    string    `json:"vendorName"`
	InvoiceNumber string    `json:"invoiceNumber"`
	Amount        float64   `json:"amount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Payment is an outgoing payment, sampled only for Benford analysis.
type Payment struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Amount    float64   `json:"amount"`
	PaidAt    time.Time `json:"paidAt"`
}
