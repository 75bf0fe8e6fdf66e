package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrUnparseable means the backend reply was neither a JSON object nor a JSON line stream.
	ErrUnparseable = errors.New("unparseable backend response")
	// ErrEmptyEmbedding means the backend answered 200 without a vector.
	ErrEmptyEmbedding = errors.New("backend returned an empty embedding")
)

// statusError is a non-2xx reply from the backend.
type statusError struct {
	path string
	code int
	body string
}

func (e statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("backend %s: http %d", e.path, e.code)
	}
	return fmt.Sprintf("backend %s: http %d: %s", e.path, e.code, e.body)
}

// StatusCode returns the HTTP status of a backend error, or 0.
func StatusCode(err error) int {
	var se statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

// IsStatus reports whether err is a backend reply with the given HTTP status.
func IsStatus(err error, code int) bool {
	return code != 0 && StatusCode(err) == code
}
