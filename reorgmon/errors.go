package reorgmon

import (
	"errors"
	"strconv"
)

var (
	// ErrFatal wraps the handful of conditions the tick loop cannot
	// recover from (see monitor.go's runTick and identity.go's maybeProbe).
	ErrFatal = errors.New("reorgmon: fatal error, stopping")

	// ErrNoRPCClient is returned at construction time when no RPCClient was
	// supplied. Configuration errors are fatal at construction, per spec §7.
	ErrNoRPCClient = errors.New("reorgmon: rpc client is nil")

	// ErrAlreadyRunning is returned by Run if the monitor is already ticking.
	ErrAlreadyRunning = errors.New("reorgmon: already running")

	// ErrBlockNotFoundSubstring is the substring RPCClient implementations
	// are expected to include in an error's message when a requested height
	// doesn't exist yet. It is not itself an error value to wrap; it exists
	// so the substring is declared once instead of repeated as a literal at
	// every call site that checks for it (see monitor.go's isBlockNotFound).
	ErrBlockNotFoundSubstring = "Block not found"
)

// NewBlockNotFoundError builds an error carrying the required substring, for
// use by RPCClient implementations and by tests.
func NewBlockNotFoundError(height uint64) error {
	return &blockNotFoundError{height: height}
}

type blockNotFoundError struct {
	height uint64
}

func (e *blockNotFoundError) Error() string {
	return ErrBlockNotFoundSubstring + ": height " + strconv.FormatUint(e.height, 10)
}
