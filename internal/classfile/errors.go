package classfile

import "fmt"

// FormatError reports a class file that cannot be decoded or re-encoded.
type FormatError struct {
	Offset  int    // byte offset within the decoded unit, -1 if unknown
	Context string // what was being decoded, e.g. "constant pool"
	Message string
}

func (e *FormatError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at offset %d: %s", e.Context, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Context, e.Message)
}

func formatErrorf(offset int, context, format string, args ...any) *FormatError {
	return &FormatError{Offset: offset, Context: context, Message: fmt.Sprintf(format, args...)}
}
