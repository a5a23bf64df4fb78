package custody

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BearBump/PacketCustody/internal/models"
)

var (
	ErrNotFound                    = errors.New("packet not found")
	ErrIncompleteLocationSelection = errors.New("incomplete location selection")
	ErrUnmappedTransition          = errors.New("unmapped custody transition")
	ErrInvalidTransition           = errors.New("invalid status transition")
	ErrTerminalPacket              = errors.New("packet is in a terminal status")
	ErrStaleBaseline               = errors.New("packet changed since the event was built")
	ErrInvalidEvent                = errors.New("invalid handover event")
	// ErrSubmissionFailure marks transport level failures towards the store.
	ErrSubmissionFailure = errors.New("submission failed")
	// ErrRateLimited means the store refused the call to slow this device down.
	// Callers wait for the next pass instead of retrying event by event.
	ErrRateLimited = errors.New("rate limited by custody store")
)

// IncompleteLocationSelectionError names the fields that keep a LocationRef
// from describing exactly one node of the hierarchy.
type IncompleteLocationSelectionError struct {
	Tier      models.Tier
	Missing   []string
	Forbidden []string
}

func (e *IncompleteLocationSelectionError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Forbidden) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Forbidden, ", "))
	}
	return fmt.Sprintf("incomplete location selection for tier %q: %s", e.Tier, strings.Join(parts, "; "))
}

func (e *IncompleteLocationSelectionError) Unwrap() error {
	return ErrIncompleteLocationSelection
}

// Reason maps a custody error onto the rejection reason used on the sync boundary.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return models.ReasonNotFound
	case errors.Is(err, ErrIncompleteLocationSelection):
		return models.ReasonInvalidLocation
	case errors.Is(err, ErrStaleBaseline):
		return models.ReasonStaleBaseline
	case errors.Is(err, ErrTerminalPacket):
		return models.ReasonTerminal
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrUnmappedTransition):
		return models.ReasonInvalidTransition
	case errors.Is(err, ErrInvalidEvent):
		return models.ReasonInvalidEvent
	case errors.Is(err, ErrSubmissionFailure), errors.Is(err, ErrRateLimited):
		return models.ReasonSubmissionFailed
	default:
		return models.ReasonInternal
	}
}
