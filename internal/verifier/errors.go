package verifier

import "errors"

// ErrUnsupportedVersion is returned by Verify for a verification version
// with no rule battery.
var ErrUnsupportedVersion = errors.New("unsupported verification version")
