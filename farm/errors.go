package farm

import (
	"errors"
	"fmt"
)

var (
	ErrNoPreset  = errors.New("no preset configured")
	ErrNoVillage = errors.New("no village selectable")
)

// PreconditionError is returned by Start when automation cannot begin.
type PreconditionError struct {
	Reason error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot start: %v", e.Reason)
}

func (e *PreconditionError) Unwrap() error { return e.Reason }
