package pipeline

import (
	"errors"
	"fmt"
)

// Collaborator stages reported in CollaboratorError
const (
	StageDetect  = "detect"
	StageLaneFit = "lane_fit"
)

// ErrInvalidFrame is matched by every InvalidFrameError
var ErrInvalidFrame = errors.New("invalid frame")

// InvalidFrameError reports a frame that cannot be processed. Sources return
// it for a single undecodable frame so the loop can skip it.
type InvalidFrameError struct {
	Reason string
	Err    error
}

func (e *InvalidFrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid frame: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid frame: %s", e.Reason)
}

func (e *InvalidFrameError) Is(target error) bool {
	return target == ErrInvalidFrame
}

func (e *InvalidFrameError) Unwrap() error {
	return e.Err
}

// CollaboratorError wraps a failure from the detector or lane pipeline
type CollaboratorError struct {
	Stage string
	Err   error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// recoverStage turns a collaborator panic into a CollaboratorError
func recoverStage(stage string, err *error) {
	if r := recover(); r != nil {
		*err = &CollaboratorError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
	}
}
