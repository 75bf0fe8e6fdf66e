package pool

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// statusError is a non-success reply from the coordinator.
type statusError struct {
	path string
	code int
	body string
}

func newStatusError(path string, code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return statusError{path: path, code: code, body: msg}
}

func (e statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("coordinator %s: http %d", e.path, e.code)
	}
	return fmt.Sprintf("coordinator %s: http %d: %s", e.path, e.code, e.body)
}

// StatusCode returns the HTTP status carried by err, or 0 for transport errors.
func StatusCode(err error) int {
	var se statusError
	if errors.As(err, &se) {
		return se.code
	}
	return 0
}

// IsHostUnknown reports whether the coordinator no longer knows our host_id (404).
func IsHostUnknown(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}

// IsStatus reports whether err is a coordinator reply with the given HTTP status.
func IsStatus(err error, code int) bool {
	return code != 0 && StatusCode(err) == code
}
