package stellar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	rpcclient "github.com/stellar/go/clients/rpcclient"
	protocol "github.com/stellar/go/protocols/rpc"
)

// Send statuses reported by sendTransaction.
const (
	SendStatusPending       = "PENDING"
	SendStatusDuplicate     = "DUPLICATE"
	SendStatusTryAgainLater = "TRY_AGAIN_LATER"
	SendStatusError         = "ERROR"
)

// Transaction statuses reported by getTransaction.
const (
	TxStatusSuccess  = protocol.TransactionStatusSuccess
	TxStatusNotFound = protocol.TransactionStatusNotFound
	TxStatusFailed   = protocol.TransactionStatusFailed
)

var errRPCEndpointRequired = errors.New("stellar rpc endpoint is required")

// Simulation is the outcome of simulateTransaction.
type Simulation struct {
	TransactionData string
	MinResourceFee  int64
	Auth            []string
	ReturnValue     string
	Error           string
	LatestLedger    uint32
}

// SendResult is the outcome of sendTransaction.
type SendResult struct {
	Status         string
	Hash           string
	ErrorResultXDR string
}

// TransactionStatus is the outcome of getTransaction.
type TransactionStatus struct {
	Status string
	Ledger uint32
	Events []Event
}

// RPCClient adapts the Stellar RPC client to the invoker's ContractRPC surface.
type RPCClient struct {
	client *rpcclient.Client
}

type rpcOptions struct {
	httpClient *http.Client
}

// RPCOption configures optional client behavior.
type RPCOption func(*rpcOptions)

// WithRPCHTTPClient overrides the default HTTP client.
func WithRPCHTTPClient(client *http.Client) RPCOption {
	return func(o *rpcOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// NewRPCClient builds a Stellar RPC client for endpoint.
func NewRPCClient(endpoint string, opts ...RPCOption) (*RPCClient, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errRPCEndpointRequired
	}
	options := rpcOptions{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return &RPCClient{client: rpcclient.NewClient(trimmed, options.httpClient)}, nil
}

// Simulate runs simulateTransaction for an unsigned envelope.
func (c *RPCClient) Simulate(ctx context.Context, envelopeXDR string) (Simulation, error) {
	resp, err := c.client.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{Transaction: envelopeXDR})
	if err != nil {
		return Simulation{}, fmt.Errorf("simulateTransaction: %w", err)
	}
	sim := Simulation{
		TransactionData: resp.TransactionDataXDR,
		MinResourceFee:  resp.MinResourceFee,
		Error:           resp.Error,
		LatestLedger:    resp.LatestLedger,
	}
	if len(resp.Results) > 0 {
		first := resp.Results[0]
		if first.AuthXDR != nil {
			sim.Auth = *first.AuthXDR
		}
		if first.ReturnValueXDR != nil {
			sim.ReturnValue = *first.ReturnValueXDR
		}
	}
	return sim, nil
}

// Send runs sendTransaction for a signed envelope.
func (c *RPCClient) Send(ctx context.Context, envelopeXDR string) (SendResult, error) {
	resp, err := c.client.SendTransaction(ctx, protocol.SendTransactionRequest{Transaction: envelopeXDR})
	if err != nil {
		return SendResult{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return SendResult{Status: resp.Status, Hash: resp.Hash, ErrorResultXDR: resp.ErrorResultXDR}, nil
}

// GetTransaction runs getTransaction and decodes contract events of final transactions.
func (c *RPCClient) GetTransaction(ctx context.Context, hash string) (TransactionStatus, error) {
	resp, err := c.client.GetTransaction(ctx, protocol.GetTransactionRequest{Hash: hash})
	if err != nil {
		return TransactionStatus{}, fmt.Errorf("getTransaction: %w", err)
	}

	status := TransactionStatus{Status: resp.Status, Ledger: resp.Ledger}
	if resp.Status != TxStatusSuccess {
		return status, nil
	}
	events, err := decodeContractEvents(resp.Events.ContractEventsXDR, resp.ResultMetaXDR)
	if err != nil {
		return TransactionStatus{}, fmt.Errorf("decode events of %s: %w", hash, err)
	}
	status.Events = events
	return status, nil
}
