package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeType distinguishes a field appearing for the first time from a field
// whose value moved.
type ChangeType string

const (
	ChangeTypeCreated ChangeType = "created"
	ChangeTypeUpdated ChangeType = "updated"
)

// ChangeRecord is a detected difference in one tracked field between two
// chronologically adjacent snapshots for the same employee/endpoint. Pure
// log: immutable once written.
type ChangeRecord struct {
	ID          uuid.UUID
	EmployeeID  string
	Endpoint    Endpoint
	FieldPath   string
	OldValue    *string
	NewValue    *string
	DetectedAt  time.Time
	ChangeType  ChangeType
	Significant bool
	Label       string
}

// TrackedField declares one business-meaningful payload path the detector
// diffs, with the display label used for timeline titles.
type TrackedField struct {
	Path        string
	Endpoint    Endpoint
	Label       string
	Significant bool
}

// TrackedFields is the fixed allow-list of diffed field paths. Payload keys
// outside this list never produce a ChangeRecord, which keeps metadata churn
// out of the timeline.
func TrackedFields() []TrackedField {
	return []TrackedField{
		{Path: "first_name", Endpoint: EndpointProfile, Label: "First name"},
		{Path: "last_name", Endpoint: EndpointProfile, Label: "Last name"},
		{Path: "email", Endpoint: EndpointProfile, Label: "Email address"},
		{Path: "phone", Endpoint: EndpointProfile, Label: "Phone number"},
		{Path: "hourly_wage", Endpoint: EndpointEmployment, Label: "Hourly wage", Significant: true},
		{Path: "month_wage", Endpoint: EndpointEmployment, Label: "Monthly wage", Significant: true},
		{Path: "hours_per_week", Endpoint: EndpointEmployment, Label: "Hours per week", Significant: true},
		{Path: "days_per_week", Endpoint: EndpointEmployment, Label: "Days per week"},
		{Path: "contract_type", Endpoint: EndpointEmployment, Label: "Contract type", Significant: true},
		{Path: "contract_start_date", Endpoint: EndpointEmployment, Label: "Contract start date"},
		{Path: "contract_end_date", Endpoint: EndpointEmployment, Label: "Contract end date"},
		{Path: "job_title", Endpoint: EndpointEmployment, Label: "Job title"},
		{Path: "department", Endpoint: EndpointEmployment, Label: "Department"},
		{Path: "employment_status", Endpoint: EndpointEmployment, Label: "Employment status", Significant: true},
	}
}

// TrackedFieldsForEndpoint filters the allow-list down to one data source.
func TrackedFieldsForEndpoint(endpoint Endpoint) []TrackedField {
	var fields []TrackedField
	for _, field := range TrackedFields() {
		if field.Endpoint == endpoint {
			fields = append(fields, field)
		}
	}
	return fields
}
