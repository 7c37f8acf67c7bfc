package liveness

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid session transition")

type State string

const (
	StateInitiated      State = "INITIATED"
	StateAwaitingCenter State = "AWAITING_CENTER"
	StateAwaitingLeft   State = "AWAITING_LEFT"
	StateAwaitingRight  State = "AWAITING_RIGHT"
	StateVerifying      State = "VERIFYING"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
	StateExpired        State = "EXPIRED"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// ExpectedPose is the pose the state is waiting for, or PoseUnknown when the
// state does not accept captures.
func (s State) ExpectedPose() Pose {
	switch s {
	case StateAwaitingCenter:
		return PoseCenter
	case StateAwaitingLeft:
		return PoseLeft
	case StateAwaitingRight:
		return PoseRight
	default:
		return PoseUnknown
	}
}

type event string

const (
	eventStart    event = "start"
	eventCaptured event = "captured"
	eventAccepted event = "accepted"
	eventFail     event = "fail"
	eventExpire   event = "expire"
)

// transitions lists every legal edge. FAILED and EXPIRED are added for every
// non-terminal state in init.
var transitions = map[State]map[event]State{
	StateInitiated:      {eventStart: StateAwaitingCenter},
	StateAwaitingCenter: {eventCaptured: StateAwaitingLeft},
	StateAwaitingLeft:   {eventCaptured: StateAwaitingRight},
	StateAwaitingRight:  {eventCaptured: StateVerifying},
	StateVerifying:      {eventAccepted: StateCompleted},
}

func init() {
	for _, edges := range transitions {
		edges[eventFail] = StateFailed
		edges[eventExpire] = StateExpired
	}
}

func transition(from State, ev event) (State, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// Reason explains a refused frame or a failed session.
type Reason string

const (
	ReasonNoFace               Reason = "no-face"
	ReasonLowQuality           Reason = "low-quality"
	ReasonMultipleFaces        Reason = "multiple-faces"
	ReasonPoseMismatch         Reason = "pose-mismatch"
	ReasonInferenceError       Reason = "inference-error"
	ReasonInconsistentIdentity Reason = "inconsistent-identity"
	ReasonInsufficientMotion   Reason = "insufficient-motion"
	ReasonTooManyDiscards      Reason = "too-many-discards"
	ReasonAbandoned            Reason = "abandoned"
	ReasonPersistenceFailed    Reason = "persistence-failed"
	ReasonExpired              Reason = "expired"
)

// Guidance is the instruction shown to the person in front of the camera.
func Guidance(state State, reason Reason) string {
	switch reason {
	case ReasonNoFace:
		return "no face found, look at the camera"
	case ReasonMultipleFaces:
		return "only one person should be in front of the camera"
	case ReasonLowQuality:
		return "move closer to the camera and make sure your face is well lit"
	case ReasonInferenceError:
		return "could not process the frame, please hold still"
	}
	switch state {
	case StateAwaitingCenter:
		return "look straight at the camera"
	case StateAwaitingLeft:
		return "turn your head to the left"
	case StateAwaitingRight:
		return "turn your head to the right"
	case StateVerifying:
		return "verifying, please wait"
	case StateCompleted:
		return "enrollment complete"
	case StateExpired:
		return "session expired, start again"
	case StateFailed:
		return "enrollment failed, start again"
	default:
		return ""
	}
}
