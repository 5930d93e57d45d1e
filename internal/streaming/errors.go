package streaming

import "errors"

// ErrCancelled is the carried error for a stream ended by cancellation
// rather than agent-side failure, distinguishing the two in Download.err.
var ErrCancelled = errors.New("stream cancelled")
