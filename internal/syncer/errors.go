package syncer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownSite        = errors.New("unknown source site")
	ErrSiteMismatch       = errors.New("source site does not match authenticated site")
	ErrSiteDisabled       = errors.New("source site is disabled")
	ErrDirectionForbidden = errors.New("site direction does not permit this transfer")
	ErrDomainDisabled     = errors.New("sync is disabled for this domain")
	ErrUnsupportedAction  = errors.New("unsupported sync action")
)

// ValidationError rejects a malformed inbound payload. It is terminal:
// the same message will never be accepted.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
