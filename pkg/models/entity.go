package models

// EntityRef is an explicit reference to a business entity owned by the host
// application. The engine never holds the entity itself, only the type tag
// and identifier plus a snapshot of its fields taken at trigger time.
type EntityRef struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id"   validate:"required"`
}

// EntitySnapshot is a read-only view of a business entity's fields captured
// when a workflow is triggered. Assignee resolution and condition evaluation
// read from it; it is never re-captured mid-step.
type EntitySnapshot map[string]any

// Snapshot fields the engine reads for dynamic assignee relations. Host
// applications populate whichever of these their entities carry.
const (
	SnapshotFieldCreator      = "created_by"
	SnapshotFieldDepartmentID = "department_id"
	SnapshotFieldBranchID     = "branch_id"
)

// String returns the named field as a string, or "" when absent or not a
// string.
func (s EntitySnapshot) String(field string) string {
	value, _ := s[field].(string)

	return value
}

// Number returns the named field coerced to float64. JSON decoding hands us
// float64 for all numbers; int values appear when snapshots are built in Go.
func (s EntitySnapshot) Number(field string) (float64, bool) {
	switch v := s[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (s EntitySnapshot) Has(field string) bool {
	_, ok := s[field]

	return ok
}
