package status

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/wppmon/internal/bus"
)

// Phase is a connection lifecycle phase.
type Phase string

const (
	Initializing    Phase = "Initializing"
	AwaitingPairing Phase = "AwaitingPairing"
	Authenticated   Phase = "Authenticated"
	Connected       Phase = "Connected"
	Disconnected    Phase = "Disconnected"
	Failed          Phase = "Failed"
)

// ErrInvalidTransition is wrapped by Transition when a move is not allowed.
var ErrInvalidTransition = errors.New("invalid transition")

// validTransitions defines allowed phase transitions.
var validTransitions = map[Phase][]Phase{
	Initializing:    {AwaitingPairing, Connected, Failed},
	AwaitingPairing: {Authenticated, Failed, Disconnected},
	Authenticated:   {Connected, Disconnected},
	Connected:       {Disconnected},
	Disconnected:    {AwaitingPairing, Initializing},
	Failed:          {Connected},
}

// CanTransition reports whether from -> to is an allowed move.
func CanTransition(from, to Phase) bool {
	return slices.Contains(validTransitions[from], to)
}

// Machine tracks and enforces connection phase transitions.
type Machine struct {
	mu      sync.RWMutex
	current Phase
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Initializing.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Initializing,
		bus:     b,
	}
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new phase.
func (m *Machine) Transition(to Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !CanTransition(m.current, to) {
		return fmt.Errorf("%w from %s to %s", ErrInvalidTransition, m.current, to)
	}
	m.set(to, false)
	return nil
}

// Force moves to the given phase without checking the transition table.
// Used when local state must be reset regardless of where it stands.
func (m *Machine) Force(to Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == to {
		return
	}
	m.set(to, true)
}

func (m *Machine) set(to Phase, forced bool) {
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.KindStatusChanged, StatusChange{
			From:   from,
			To:     to,
			Forced: forced,
		}))
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From   Phase
	To     Phase
	Forced bool
}
