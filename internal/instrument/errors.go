package instrument

import "errors"

// ErrHasErrors is returned by Instrument for a verification result that
// carries an error.
var ErrHasErrors = errors.New("verification result has errors")
