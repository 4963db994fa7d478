package repair

import "fmt"

// ValidationError is returned for bad operator input. It is raised before any I/O.
type ValidationError struct {
	Msg string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func validationErr(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// singleItem returns the only element of items.
func singleItem[T any](name string, items []T) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, validationErr("Expected a single %s but found none.", name)
	case 1:
		return items[0], nil
	default:
		return zero, validationErr("Expected a single %s but found multiple occurrences.", name)
	}
}
