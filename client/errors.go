package client

import (
	"regexp"

	"github.com/celer-network/oracle-updater/types"
	"github.com/pkg/errors"
)

// SendError wraps an error returned by a node on eth_sendRawTransaction so it
// can be classified.
type SendError struct {
	fatal bool
	err   error
}

var (
	nonceTooLowRegex                       = regexp.MustCompile(`(: |^)nonce too low`)
	replacementTransactionUnderpricedRegex = regexp.MustCompile(`(: |^)replacement transaction underpriced`)
	transactionAlreadyInMempoolRegex       = regexp.MustCompile(`(: |^)(?i)(known transaction|already known)`)
	terminallyUnderpricedRegex             = regexp.MustCompile(`(: |^)transaction underpriced`)
	insufficientEthRegex                   = regexp.MustCompile(`(: |^)(insufficient funds for transfer|insufficient funds for gas \* price \+ value|insufficient balance for transfer)`)
	feeCapTooLowRegex                      = regexp.MustCompile(`(: |^)(max fee per gas less than block base fee|fee cap less than block base fee)`)
	fatalRegex                             = regexp.MustCompile(`(: |^)(exceeds block gas limit|invalid sender|negative value|oversized data|gas uint64 overflow|intrinsic gas too low|nonce too high|execution reverted)`)
)

// NewSendError returns nil for a nil error.
func NewSendError(e error) *SendError {
	if e == nil {
		return nil
	}
	return &SendError{err: errors.WithStack(e), fatal: fatalRegex.MatchString(e.Error())}
}

func NewFatalSendError(e error) *SendError {
	if e == nil {
		return nil
	}
	return &SendError{err: errors.WithStack(e), fatal: true}
}

func (s *SendError) Error() string {
	return s.err.Error()
}

func (s *SendError) Cause() error {
	return s.err
}

// Fatal indicates the transaction can never be accepted as is.
func (s *SendError) Fatal() bool {
	return s != nil && s.fatal
}

func (s *SendError) IsNonceTooLowError() bool {
	return s != nil && s.err != nil && nonceTooLowRegex.MatchString(s.Error())
}

func (s *SendError) IsReplacementUnderpriced() bool {
	return s != nil && s.err != nil && replacementTransactionUnderpricedRegex.MatchString(s.Error())
}

func (s *SendError) IsTransactionAlreadyInMempool() bool {
	return s != nil && s.err != nil && transactionAlreadyInMempoolRegex.MatchString(s.Error())
}

func (s *SendError) IsTerminallyUnderpriced() bool {
	return s != nil && s.err != nil && (terminallyUnderpricedRegex.MatchString(s.Error()) || feeCapTooLowRegex.MatchString(s.Error()))
}

func (s *SendError) IsInsufficientEth() bool {
	return s != nil && s.err != nil && insufficientEthRegex.MatchString(s.Error())
}

// IsRejection reports whether the node refused the transaction itself, as
// opposed to the request failing in transit.
func (s *SendError) IsRejection() bool {
	return s.Fatal() || s.IsNonceTooLowError() || s.IsReplacementUnderpriced() ||
		s.IsTerminallyUnderpriced() || s.IsInsufficientEth()
}

// Classify maps the send error onto the updater error taxonomy. A transaction
// the node already knows is not an error.
func (s *SendError) Classify() error {
	if s == nil || s.IsTransactionAlreadyInMempool() {
		return nil
	}
	if s.IsRejection() {
		return errors.Wrap(types.ErrSubmissionRejected, s.Error())
	}
	return errors.Wrap(types.ErrRPCFailure, s.Error())
}
