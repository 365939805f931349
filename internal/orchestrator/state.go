package orchestrator

import (
	"github.com/xkilldash9x/claimpilot/internal/page"
	"github.com/xkilldash9x/claimpilot/internal/workstore"
)

// State is the orchestrator's view of where the run stands on the current page.
type State int

const (
	// Idle: no run is active.
	Idle State = iota
	// UnknownPage: the tab is somewhere the workflow does not drive.
	UnknownPage
	// AwaitingListPage: on the entry list with work left; open a new entry.
	AwaitingListPage
	// AwaitingFormReady: on the entry form with the fill latch armed.
	AwaitingFormReady
	// FormLatched: on the entry form but a fill has already been claimed.
	FormLatched
	// QueueEmpty: the run is active with nothing left to submit.
	QueueEmpty
	// AwaitingNavigation: this form was just submitted; wait for the site to
	// move on before doing anything else.
	AwaitingNavigation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case UnknownPage:
		return "unknown-page"
	case AwaitingListPage:
		return "awaiting-list-page"
	case AwaitingFormReady:
		return "awaiting-form-ready"
	case FormLatched:
		return "form-latched"
	case QueueEmpty:
		return "queue-empty"
	case AwaitingNavigation:
		return "awaiting-navigation"
	default:
		return "invalid"
	}
}

// Derive computes the state from the page kind, a fresh store snapshot and
// whether the current page was fenced after a submission. It has no side
// effects.
func Derive(kind page.Kind, snap workstore.Snapshot, fenced bool) State {
	if !snap.Running {
		return Idle
	}
	if kind == page.Unknown {
		return UnknownPage
	}
	if len(snap.Queue) == 0 {
		return QueueEmpty
	}
	if kind == page.EntryList {
		return AwaitingListPage
	}
	switch {
	case fenced:
		return AwaitingNavigation
	case !snap.ShouldFillForm:
		return FormLatched
	default:
		return AwaitingFormReady
	}
}
