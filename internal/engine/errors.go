package engine

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrOverlayNotFound  = errors.New("overlay not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrValidationFailed = errors.New("selection validation failed")
	ErrNoSelection      = errors.New("apply refused: nothing selected")
	ErrDidNotClose      = errors.New("overlay did not close")
	ErrSubFormInvalid   = errors.New("sub-form invalid")
	ErrTimeout          = errors.New("watchdog timeout")
)

// Stage names one step of the per-item sequence.
type Stage string

const (
	StageContext Stage = "context"
	StageOpen    Stage = "open-form"
	StageFill    Stage = "fill-times"
	StageOverlay Stage = "open-overlay"
	StageSelect  Stage = "select-category"
	StageApply   Stage = "apply"
	StageSave    Stage = "save"
	StageItem    Stage = "item"
)

// StageError attributes a failure to one work item and one stage.
type StageError struct {
	ItemID string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.ItemID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(item WorkItem, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{ItemID: item.ID, Stage: stage, Err: err}
}

// StageOf extracts the failing stage, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Retryable reports whether a fresh attempt may fix err.
// Validation mismatches, watchdog expiry and cancellation are final. Deadline errors
// from individual remote calls stay retryable; Retry checks its own context separately.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrTimeout),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
