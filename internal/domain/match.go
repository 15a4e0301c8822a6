package domain

// MatchType records which strategy linked an external record to an internal
// one, if any.
type MatchType string

const (
	MatchTypeExactEmail MatchType = "exact_email"
	MatchTypeFuzzyName  MatchType = "fuzzy_name"
	MatchTypeNone       MatchType = "none"
)

// EmployeeMatch is the result of attempting to link one external employee to
// zero-or-one internal staff record. Computed on demand, not persisted.
type EmployeeMatch struct {
	External     EmployeeRecord
	Internal     *StaffMember
	MatchType    MatchType
	Confidence   int
	SyncRequired bool
	Conflicts    []string
}
