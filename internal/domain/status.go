package domain

import "fmt"

// ProcessingStatus tracks a record's position in the RAW -> RENAMED -> PROCESSED lifecycle.
type ProcessingStatus string

const (
	// StatusRaw is the implicit status of a legacy record (no processing_status column value).
	StatusRaw ProcessingStatus = ""
	// StatusRenamed marks a record migrated to the working schema but not yet enriched.
	StatusRenamed ProcessingStatus = "RENAMED"
	// StatusProcessed marks a fully enriched record.
	StatusProcessed ProcessingStatus = "PROCESSED"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank below raw.
func (s ProcessingStatus) Rank() int {
	switch s {
	case StatusRaw:
		return 0
	case StatusRenamed:
		return 1
	case StatusProcessed:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s ProcessingStatus) Valid() bool {
	return s.Rank() >= 0
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle monotonic.
func (s ProcessingStatus) CanAdvanceTo(next ProcessingStatus) bool {
	return next.Valid() && next.Rank() >= s.Rank()
}

func (s ProcessingStatus) String() string {
	if s == StatusRaw {
		return "RAW"
	}
	return string(s)
}

// ParseProcessingStatus converts a stored column value into a status.
func ParseProcessingStatus(v string) (ProcessingStatus, error) {
	s := ProcessingStatus(v)
	if !s.Valid() {
		return StatusRaw, fmt.Errorf("%w: unknown processing_status %q", ErrSchemaMismatch, v)
	}
	return s, nil
}
