package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSM_Transition(t *testing.T) {
	testCases := []struct {
		name  string
		path  []State
		valid bool
	}{
		{
			name:  "two files",
			path:  []State{StateRetrieving, StateTruncating, StateSchemaFetch, StateLoading, StateTruncating, StateSchemaFetch, StateLoading, StateCleanup, StateDone},
			valid: true,
		},
		{
			name:  "retrieval failed",
			path:  []State{StateRetrieving, StateCleanup, StateDone},
			valid: true,
		},
		{
			name:  "schema unavailable skips file",
			path:  []State{StateRetrieving, StateTruncating, StateSchemaFetch, StateTruncating, StateSchemaFetch, StateCleanup, StateDone},
			valid: true,
		},
		{
			name:  "load before schema",
			path:  []State{StateRetrieving, StateTruncating, StateLoading},
			valid: false,
		},
		{
			name:  "done without cleanup",
			path:  []State{StateRetrieving, StateDone},
			valid: false,
		},
		{
			name:  "done is terminal",
			path:  []State{StateCleanup, StateDone, StateRetrieving},
			valid: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFSM()
			assert.Equal(t, StateNew, f.Current())

			var err error
			for _, s := range tc.path {
				if err = f.Transition(s); err != nil {
					break
				}
			}

			if tc.valid {
				require.NoError(t, err)
				assert.Equal(t, tc.path[len(tc.path)-1], f.Current())
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestFSM_InvalidTransitionKeepsState(t *testing.T) {
	f := NewFSM(FSMWithInitialState(StateLoading))
	assert.Error(t, f.Transition(StateRetrieving))
	assert.Equal(t, StateLoading, f.Current())
}

func TestFSM_ErrKeepsFirstRejection(t *testing.T) {
	f := NewFSM()
	assert.NoError(t, f.Err())

	require.NoError(t, f.Transition(StateRetrieving))
	assert.ErrorIs(t, f.Transition(StateLoading), ErrInvalidTransition)
	assert.ErrorIs(t, f.Transition(StateDone), ErrInvalidTransition)

	assert.EqualError(t, f.Err(), "retrieving -> loading: invalid state transition")
	assert.Equal(t, StateRetrieving, f.Current())
}
