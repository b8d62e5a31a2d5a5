package stellar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	"github.com/lumenpay/settlement-backend/pkg/logger"
)

// Call names a contract method and its arguments.
type Call struct {
	Method string
	Args   []xdr.ScVal
}

// InvokeResult is the outcome of a contract call. Successful is false when
// the transaction reached the ledger but failed; that is not an error.
type InvokeResult struct {
	Hash        string
	Successful  bool
	Ledger      uint32
	Events      []Event
	ReturnValue any
}

// ContractRPC is the Soroban RPC surface the invoker drives.
type ContractRPC interface {
	Simulate(ctx context.Context, envelopeXDR string) (Simulation, error)
	Send(ctx context.Context, envelopeXDR string) (SendResult, error)
	GetTransaction(ctx context.Context, hash string) (TransactionStatus, error)
}

// TxBuilder turns calls into envelopes: Draft for simulation, Assemble to
// apply the simulated footprint, auth and fee, Sign with the keeper key.
type TxBuilder interface {
	Draft(ctx context.Context, call Call) (Draft, error)
	Assemble(draft Draft, sim Simulation) (Draft, error)
	Sign(draft Draft) (string, error)
}

// Draft is an envelope in progress.
type Draft struct {
	Envelope string
	Sequence int64
	Call     Call
	Fee      int64

	tx *txnbuild.Transaction
}

// InvocationObserver receives the outcome of every contract call.
type InvocationObserver interface {
	ObserveInvocation(method, outcome string, duration time.Duration)
}

// InvokerOptions configures polling.
type InvokerOptions struct {
	PollInterval time.Duration
	PollAttempts int
	Logger       *logger.Logger
	Observer     InvocationObserver
	// Sleep waits between polls; defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Invoker runs contract calls through simulate, assemble, sign, send and poll.
// Submitting calls run one at a time from draft until the transaction is
// final or polling gives up, since every draft reads the keeper sequence.
type Invoker struct {
	submit sync.Mutex

	rpc      ContractRPC
	builder  TxBuilder
	interval time.Duration
	attempts int
	logg     *logger.Logger
	observer InvocationObserver
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewInvoker wires the invoker.
func NewInvoker(rpc ContractRPC, builder TxBuilder, opts InvokerOptions) (*Invoker, error) {
	if rpc == nil {
		return nil, errors.New("contract rpc required")
	}
	if builder == nil {
		return nil, errors.New("transaction builder required")
	}
	if opts.PollAttempts <= 0 {
		return nil, errors.New("poll attempts must be positive")
	}
	if opts.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Invoker{
		rpc:      rpc,
		builder:  builder,
		interval: opts.PollInterval,
		attempts: opts.PollAttempts,
		logg:     opts.Logger,
		observer: opts.Observer,
		sleep:    sleep,
	}, nil
}

// Invoke calls a contract method. Read-only calls stop after simulation and
// return the simulated value without signing.
func (i *Invoker) Invoke(ctx context.Context, call Call, readOnly bool) (result InvokeResult, err error) {
	started := time.Now()
	defer func() {
		if i.observer != nil {
			i.observer.ObserveInvocation(call.Method, invocationOutcome(result, err), time.Since(started))
		}
	}()

	ctx = i.withFields(ctx, map[string]any{"contract_method": call.Method, "read_only": readOnly})
	if !readOnly {
		i.submit.Lock()
		defer i.submit.Unlock()
	}

	draft, err := i.builder.Draft(ctx, call)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("build %s: %w", call.Method, err)
	}
	sim, err := i.rpc.Simulate(ctx, draft.Envelope)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("simulate %s: %w", call.Method, err)
	}
	if sim.Error != "" {
		return InvokeResult{}, fmt.Errorf("%w: %s: %s", ErrSimulationFailed, call.Method, sim.Error)
	}

	if readOnly {
		value, err := decodeReturnValue(sim.ReturnValue)
		if err != nil {
			return InvokeResult{}, fmt.Errorf("decode %s result: %w", call.Method, err)
		}
		return InvokeResult{Successful: true, ReturnValue: value}, nil
	}

	assembled, err := i.builder.Assemble(draft, sim)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("assemble %s: %w", call.Method, err)
	}
	signed, err := i.builder.Sign(assembled)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("sign %s: %w", call.Method, err)
	}

	sent, err := i.rpc.Send(ctx, signed)
	if err != nil {
		return InvokeResult{}, fmt.Errorf("send %s: %w", call.Method, err)
	}
	switch sent.Status {
	case SendStatusPending, SendStatusDuplicate:
	default:
		return InvokeResult{Hash: sent.Hash}, fmt.Errorf("%w: %s status %s %s", ErrSubmissionRejected, call.Method, sent.Status, sent.ErrorResultXDR)
	}

	ctx = i.withFields(ctx, map[string]any{"tx_hash": sent.Hash})
	i.debug(ctx, "contract transaction sent")
	return i.poll(ctx, sent.Hash)
}

func (i *Invoker) poll(ctx context.Context, hash string) (InvokeResult, error) {
	for attempt := 1; attempt <= i.attempts; attempt++ {
		if err := i.sleep(ctx, i.interval); err != nil {
			return InvokeResult{Hash: hash}, err
		}
		status, err := i.rpc.GetTransaction(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return InvokeResult{Hash: hash}, ctx.Err()
			}
			i.warn(i.withFields(ctx, map[string]any{"attempt": attempt, "error": err.Error()}), "contract transaction poll failed")
			continue
		}
		switch status.Status {
		case TxStatusSuccess:
			return InvokeResult{Hash: hash, Successful: true, Ledger: status.Ledger, Events: status.Events}, nil
		case TxStatusFailed:
			i.warn(ctx, "contract transaction failed on ledger")
			return InvokeResult{Hash: hash, Successful: false, Ledger: status.Ledger}, nil
		}
	}
	return InvokeResult{Hash: hash}, fmt.Errorf("%w: %s after %d attempts", ErrPollTimeout, hash, i.attempts)
}

// Transaction looks a sent transaction up once. It returns ErrTxNotFound
// while the network does not know the hash.
func (i *Invoker) Transaction(ctx context.Context, hash string) (InvokeResult, error) {
	status, err := i.rpc.GetTransaction(ctx, hash)
	if err != nil {
		return InvokeResult{Hash: hash}, fmt.Errorf("get transaction %s: %w", hash, err)
	}
	switch status.Status {
	case TxStatusSuccess:
		return InvokeResult{Hash: hash, Successful: true, Ledger: status.Ledger, Events: status.Events}, nil
	case TxStatusFailed:
		return InvokeResult{Hash: hash, Successful: false, Ledger: status.Ledger}, nil
	default:
		return InvokeResult{Hash: hash}, fmt.Errorf("%w: %s", ErrTxNotFound, hash)
	}
}

func decodeReturnValue(encoded string) (any, error) {
	if encoded == "" {
		return nil, nil
	}
	var value xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(encoded, &value); err != nil {
		return nil, err
	}
	return ScValToNative(value)
}

func invocationOutcome(result InvokeResult, err error) string {
	switch {
	case errors.Is(err, ErrPollTimeout):
		return "timeout"
	case err != nil:
		return "error"
	case !result.Successful:
		return "failed"
	default:
		return "success"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *Invoker) withFields(ctx context.Context, fields map[string]any) context.Context {
	if i.logg == nil {
		return ctx
	}
	return i.logg.WithFields(ctx, fields)
}

func (i *Invoker) debug(ctx context.Context, msg string) {
	if i.logg != nil {
		i.logg.Debug(ctx, msg)
	}
}

func (i *Invoker) warn(ctx context.Context, msg string) {
	if i.logg != nil {
		i.logg.Warn(ctx, msg)
	}
}
