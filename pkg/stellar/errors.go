package stellar

import "errors"

var (
	ErrSimulationFailed   = errors.New("stellar: contract simulation failed")
	ErrSubmissionRejected = errors.New("stellar: transaction submission rejected")
	ErrPollTimeout        = errors.New("stellar: transaction not final after polling")
	ErrTxNotFound         = errors.New("stellar: transaction not found")
	ErrNoSubscription     = errors.New("stellar: no subscription on contract")
	ErrEventSchema        = errors.New("stellar: contract event does not match schema")
	ErrPaymentNotFound    = errors.New("stellar: payment operation not found")
	ErrSearchTruncated    = errors.New("stellar: payment search stopped before the end of history")
	ErrNetworkUnavailable = errors.New("stellar: network not configured")
)
