package recorder

import "errors"

// Error kinds recorded as the terminal session outcome
var (
	// ErrMuxerStart indicates the muxer refused to start the session
	ErrMuxerStart = errors.New("muxer refused to start session")
	// ErrMuxerWrite carries an append failure reported by the muxer
	ErrMuxerWrite = errors.New("muxer write failed")
	// ErrMuxerFinalize carries a failure during the asynchronous flush
	ErrMuxerFinalize = errors.New("muxer finalize failed")
)

// Result is the single write-once terminal outcome of a session.
// Completed sessions carry Path, failed sessions carry Err; both zero means
// no output was produced (the session never started or was cancelled), which
// is not an error.
type Result struct {
	Path string
	Err  error
}

// NoOutput reports the null outcome
func (r Result) NoOutput() bool {
	return r.Path == "" && r.Err == nil
}
