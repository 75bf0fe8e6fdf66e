package dispatch

import (
	"errors"
	"fmt"
)

// tooBusyError signals that no admission slot freed up within the wait.
type tooBusyError struct{ model string }

func (e tooBusyError) Error() string { return "too busy: " + e.model }

// IsTooBusy reports whether err is an admission timeout.
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}

type modelNotEnabledError struct{ model string }

func (e modelNotEnabledError) Error() string {
	return fmt.Sprintf("model %q is not available on this host", e.model)
}

// IsModelNotEnabled reports whether the work item named a model this host does not offer.
func IsModelNotEnabled(err error) bool {
	var e modelNotEnabledError
	return errors.As(err, &e)
}

type unknownTaskError struct{ task string }

func (e unknownTaskError) Error() string { return "unknown task type: " + e.task }

// IsUnknownTask reports whether the work item carried an unsupported task type.
func IsUnknownTask(err error) bool {
	var e unknownTaskError
	return errors.As(err, &e)
}

// errNoInput means the work item carried no messages or text.
var errNoInput = errors.New("work item has no input")
