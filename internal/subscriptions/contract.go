package subscriptions

import (
	"context"

	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/stellar"
)

// Contract is the on-chain subscription contract of one network.
type Contract interface {
	CreateSubscription(ctx context.Context, terms stellar.SubscriptionTerms) (stellar.InvokeResult, error)
	Pause(ctx context.Context, customer, productID string) (stellar.InvokeResult, error)
	Resume(ctx context.Context, customer, productID string) (stellar.InvokeResult, error)
	Cancel(ctx context.Context, customer, productID string) (stellar.InvokeResult, error)
	Charge(ctx context.Context, customer, productID string) (stellar.InvokeResult, error)
	Transaction(ctx context.Context, hash string) (stellar.InvokeResult, error)
	Get(ctx context.Context, customer, productID string) (stellar.SubscriptionState, error)
}

// ContractResolver returns the subscription contract deployed on env.
type ContractResolver interface {
	Contract(env enums.Network) (Contract, error)
}

// NetworkContracts resolves contracts from the configured networks.
type NetworkContracts struct {
	Networks *stellar.Networks
}

func (n NetworkContracts) Contract(env enums.Network) (Contract, error) {
	contract, err := n.Networks.ContractFor(env)
	if err != nil {
		return nil, err
	}
	return contract, nil
}
