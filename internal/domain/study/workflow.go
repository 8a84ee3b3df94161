package study

import (
	"github.com/winnersdraw91/pacs-v2/internal/platform/apperror"
)

// manualTransitions lists the status changes a caller may request directly.
// report_generated and verified are only reached through report creation and
// verification.
var manualTransitions = map[Status][]Status{
	StatusUploaded: {StatusAssigned},
	StatusAssigned: {StatusInReview},
	StatusInReview: {StatusAssigned},
}

// ValidateTransition checks a requested status change of s.
func ValidateTransition(s *Study, to Status) error {
	const op = "study.transition"
	if !to.Valid() {
		return apperror.Validation(op, "unknown status %q", to)
	}
	if to == StatusReportGenerated || to == StatusVerified {
		return apperror.Conflict(op, "status %s is set by report workflow only", to)
	}
	allowed := false
	for _, next := range manualTransitions[s.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return apperror.Conflict(op, "cannot move study from %s to %s", s.Status, to)
	}
	if to == StatusAssigned && s.AssignedRadiologistID == nil {
		return apperror.Conflict(op, "study has no assigned radiologist")
	}
	return nil
}

// Assignable reports whether a radiologist may still be (re)assigned.
func Assignable(s Status) bool {
	return s == StatusUploaded || s == StatusAssigned || s == StatusInReview
}
