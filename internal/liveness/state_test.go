package liveness

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	state := StateInitiated
	for _, ev := range []event{eventStart, eventCaptured, eventCaptured, eventCaptured, eventAccepted} {
		next, err := transition(state, ev)
		require.NoError(t, err)
		state = next
	}
	require.Equal(t, StateCompleted, state)
}

func TestTransitionFailAndExpireFromEveryOpenState(t *testing.T) {
	open := []State{StateInitiated, StateAwaitingCenter, StateAwaitingLeft, StateAwaitingRight, StateVerifying}
	for _, s := range open {
		next, err := transition(s, eventFail)
		require.NoError(t, err)
		require.Equal(t, StateFailed, next)

		next, err = transition(s, eventExpire)
		require.NoError(t, err)
		require.Equal(t, StateExpired, next)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateExpired} {
		require.True(t, s.Terminal())
		for _, ev := range []event{eventStart, eventCaptured, eventAccepted, eventFail, eventExpire} {
			next, err := transition(s, ev)
			require.ErrorIs(t, err, ErrInvalidTransition)
			require.Equal(t, s, next)
		}
	}
}

func TestTransitionRejectsSkippingVerification(t *testing.T) {
	_, err := transition(StateAwaitingRight, eventAccepted)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = transition(StateVerifying, eventCaptured)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExpectedPose(t *testing.T) {
	require.Equal(t, PoseCenter, StateAwaitingCenter.ExpectedPose())
	require.Equal(t, PoseLeft, StateAwaitingLeft.ExpectedPose())
	require.Equal(t, PoseRight, StateAwaitingRight.ExpectedPose())
	require.Equal(t, PoseUnknown, StateVerifying.ExpectedPose())
}
