package classindex

import (
	"errors"
	"fmt"
)

// MalformedInputError reports an input that cannot take part in a run: an
// unparsable class, a duplicate name, an ancestor that resolves nowhere or
// a superclass cycle. It is fatal and carries no method or line location.
type MalformedInputError struct {
	// Index is the position of the offending input, module first, or -1
	// when the failure concerns a name rather than one input.
	Index int

	// Class is the class name when it is known.
	Class string

	Err error
}

func (e *MalformedInputError) Error() string {
	switch {
	case e.Class != "" && e.Index >= 0:
		return fmt.Sprintf("malformed input #%d (%s): %v", e.Index, e.Class, e.Err)
	case e.Class != "":
		return fmt.Sprintf("malformed input (%s): %v", e.Class, e.Err)
	default:
		return fmt.Sprintf("malformed input #%d: %v", e.Index, e.Err)
	}
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// IsMalformedInput reports whether err is or wraps a *MalformedInputError.
func IsMalformedInput(err error) bool {
	var me *MalformedInputError
	return errors.As(err, &me)
}
