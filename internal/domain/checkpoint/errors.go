package checkpoint

import "errors"

// ErrMalformed indicates a string could not be decoded as either an
// encoded Checkpoint or the Latest sentinel.
var ErrMalformed = errors.New("checkpoint: malformed value")
