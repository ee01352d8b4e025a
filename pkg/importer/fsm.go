package importer

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = fmt.Errorf("invalid state transition")
)

type State string

const (
	StateNew         State = "new"
	StateRetrieving  State = "retrieving"
	StateTruncating  State = "truncating"
	StateSchemaFetch State = "schema_fetch"
	StateLoading     State = "loading"
	StateCleanup     State = "cleanup"
	StateDone        State = "done"
)

// FSM tracks the phase of a single import run. Files cycle through
// truncating, schema_fetch and loading; every path ends in cleanup then done.
type FSM struct {
	mu          sync.Mutex
	Transitions map[State]map[State]struct{}

	current State
	err     error
	logger  *zap.Logger
}

type FSMOption func(*FSM)

func FSMWithLogger(logger *zap.Logger) FSMOption {
	return func(f *FSM) {
		f.logger = logger
	}
}

func FSMWithInitialState(state State) FSMOption {
	return func(f *FSM) {
		f.current = state
	}
}

func NewFSM(opts ...FSMOption) *FSM {
	f := &FSM{
		current: StateNew,
		logger:  zap.NewNop(),

		Transitions: map[State]map[State]struct{}{
			StateNew: {
				StateRetrieving: {},
				StateCleanup:    {}, // scratch area could not be created
			},
			StateRetrieving: {
				StateTruncating: {},
				StateCleanup:    {}, // nothing retrieved
			},
			StateTruncating: {
				StateSchemaFetch: {},
				StateCleanup:     {},
			},
			StateSchemaFetch: {
				StateLoading:    {},
				StateTruncating: {}, // schema unavailable, next file
				StateCleanup:    {},
			},
			StateLoading: {
				StateTruncating: {}, // next file
				StateCleanup:    {},
			},
			StateCleanup: {
				StateDone: {},
			},
			StateDone: {},
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *FSM) Current() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Err returns the first rejected transition, if any.
func (f *FSM) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *FSM) canTransition(to State) bool {
	if _, ok := f.Transitions[f.current][to]; ok {
		return true
	}
	return false
}

func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.canTransition(to) {
		f.logger.Error("Invalid state transition",
			zap.String("from", string(f.current)),
			zap.String("to", string(to)),
		)
		err := fmt.Errorf("%s -> %s: %w", f.current, to, ErrInvalidTransition)
		if f.err == nil {
			f.err = err
		}
		return err
	}
	previous := f.current
	f.current = to

	f.logger.Debug("State transitioned",
		zap.String("state", string(f.current)),
		zap.String("from", string(previous)),
	)
	return nil
}
