// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package srr

// Status is the outcome of a save, restore or reset, either for a whole
// request or for a single unit (group or feature) of it.
type Status string

const (
	// Success means every targeted unit was processed.
	Success Status = "SUCCESS"

	// PartialSuccess means at least one unit succeeded and at least one
	// failed.
	PartialSuccess Status = "PARTIAL_SUCCESS"

	// Failed means the request, or the unit, did not succeed.
	Failed Status = "FAILED"

	// Unknown is reserved for requests rejected before any agent was
	// contacted, for example when a data integrity check fails.
	Unknown Status = "UNKNOWN"
)

// String returns a string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// IsValid reports whether the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case Success, PartialSuccess, Failed, Unknown:
		return true
	}
	return false
}

// Aggregate returns the overall status of a request given how many of its
// units failed: Success when none did, PartialSuccess otherwise.
func Aggregate(failed int) Status {
	if failed == 0 {
		return Success
	}
	return PartialSuccess
}
