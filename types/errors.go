package types

import "github.com/pkg/errors"

var (
	// ErrEndpointFailure means every price source failed for a cycle.
	ErrEndpointFailure = errors.New("all price endpoints failed")
	// ErrRPCFailure covers chain read, call and send errors.
	ErrRPCFailure = errors.New("chain rpc failure")
	// ErrSubmissionRejected means the node rejected the transaction itself.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrConfirmationTimeout means confirmations did not arrive in time.
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	// ErrConfigInvalid is fatal at startup.
	ErrConfigInvalid = errors.New("invalid configuration")
)
