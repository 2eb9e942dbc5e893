package sale

import "time"

// Phase is the time-derived position of now relative to a sale window.
type Phase string

const (
	PhaseUpcoming Phase = "upcoming"
	PhaseActive   Phase = "active"
	PhaseEnded    Phase = "ended"
)

// Evaluate places now relative to [start, end]. Both bounds are inclusive.
func Evaluate(now, start, end time.Time) Phase {
	switch {
	case now.Before(start):
		return PhaseUpcoming
	case now.After(end):
		return PhaseEnded
	default:
		return PhaseActive
	}
}

// State is the display lifecycle of a sale.
type State string

const (
	StateDraft     State = "draft"
	StateScheduled State = "scheduled"
	StateActive    State = "active"
	StateEnded     State = "ended"
	StateCancelled State = "cancelled"
)

// Lifecycle derives the display state of s at now. Apart from cancellation
// the stored admin status only matters before the window opens, where it
// tells a draft apart from a scheduled sale.
func Lifecycle(now time.Time, s *Sale) State {
	if s.Cancelled() {
		return StateCancelled
	}
	switch s.Phase(now) {
	case PhaseUpcoming:
		if s.AdminStatus == StatusDraft {
			return StateDraft
		}
		return StateScheduled
	case PhaseActive:
		return StateActive
	default:
		return StateEnded
	}
}
