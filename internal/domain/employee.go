package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StaffMember is an internally-held staff record, the application's own view
// of an employee. PayrollID links it to the external system once matched.
type StaffMember struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Email     string
	Phone     string
	PayrollID *string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName joins the name parts the way the external system formats them.
func (m StaffMember) FullName() string {
	return strings.TrimSpace(m.FirstName + " " + m.LastName)
}

// EmployeeRecord is the external payroll system's view of an employee,
// extracted from a profile payload.
type EmployeeRecord struct {
	PayrollID string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName joins the external name parts.
func (r EmployeeRecord) FullName() string {
	return strings.TrimSpace(r.FirstName + " " + r.LastName)
}

// EmployeeRecordFromPayload extracts the matcher-relevant fields from a
// profile snapshot payload.
func EmployeeRecordFromPayload(payrollID string, payload map[string]any) EmployeeRecord {
	return EmployeeRecord{
		PayrollID: payrollID,
		FirstName: payloadString(payload, "first_name"),
		LastName:  payloadString(payload, "last_name"),
		Email:     payloadString(payload, "email"),
		Phone:     payloadString(payload, "phone"),
	}
}

func payloadString(payload map[string]any, key string) string {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return ""
	}
	if text, ok := raw.(string); ok {
		return text
	}
	return fmt.Sprintf("%v", raw)
}
