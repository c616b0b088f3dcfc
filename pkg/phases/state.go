// Package phases defines the install orchestrator's states and the legal moves between them.
package phases

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a phase of a single component install
type State string

const (
	Start            State = "Start"
	Checking         State = "Checking"
	NotFound         State = "NotFound"
	AlreadyInstalled State = "AlreadyInstalled"
	Downloading      State = "Downloading"
	Downloaded       State = "Downloaded"
	DownloadFailed   State = "DownloadFailed"
	Installing       State = "Installing"
	Installed        State = "Installed"
	InstallFailed    State = "InstallFailed"
)

var transitions = map[State][]State{
	Start:       {Checking},
	Checking:    {NotFound, AlreadyInstalled},
	NotFound:    {Downloading, Downloaded},
	Downloading: {Downloaded, DownloadFailed},
	Downloaded:  {Installing},
	Installing:  {Installed, InstallFailed},
}

// ErrInvalidTransition is returned for moves the state machine does not allow
var ErrInvalidTransition = errors.New("invalid phase transition")

func (s State) String() string { return string(s) }

// IsTerminal reports whether no further transitions are possible
func (s State) IsTerminal() bool {
	switch s {
	case AlreadyInstalled, Installed, DownloadFailed, InstallFailed:
		return true
	}
	return false
}

// Succeeded reports whether s is a terminal success
func (s State) Succeeded() bool {
	return s == AlreadyInstalled || s == Installed
}

// CanTransition reports whether from -> to is allowed.
// NotFound -> Downloaded covers a pre-staged artifact that skips the network.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition is one recorded state change
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Tracker holds the current state and its history
type Tracker struct {
	mu       sync.Mutex
	current  State
	history  []Transition
	onChange func(from, to State)
}

// NewTracker starts in Start; onChange may be nil
func NewTracker(onChange func(from, to State)) *Tracker {
	return &Tracker{current: Start, onChange: onChange}
}

// Current returns the current state
func (t *Tracker) Current() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Transition moves to the next state
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()
	from := t.current
	if !CanTransition(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.current = to
	t.history = append(t.history, Transition{From: from, To: to, At: time.Now()})
	onChange := t.onChange
	t.mu.Unlock()

	if onChange != nil {
		onChange(from, to)
	}
	return nil
}

// History returns every transition so far, oldest first
func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

// Path returns the visited states including Start
func (t *Tracker) Path() []State {
	h := t.History()
	out := make([]State, 0, len(h)+1)
	out = append(out, Start)
	for _, tr := range h {
		out = append(out, tr.To)
	}
	return out
}
