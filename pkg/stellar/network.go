package stellar

import (
	"fmt"
	"net/http"

	"github.com/stellar/go/network"

	"github.com/lumenpay/settlement-backend/pkg/config"
	"github.com/lumenpay/settlement-backend/pkg/enums"
	"github.com/lumenpay/settlement-backend/pkg/logger"
)

// Network bundles the ledger clients of one Stellar network. Contract is nil
// when no subscription contract is deployed there.
type Network struct {
	Name       enums.Network
	Passphrase string
	Horizon    *HorizonClient
	Contract   *SubscriptionContract
}

// Networks resolves per-environment ledger clients.
type Networks struct {
	byName map[enums.Network]*Network
}

type networkSettings struct {
	name       enums.Network
	passphrase string
	horizonURL string
	rpcURL     string
	contractID string
}

// NewNetworks builds Horizon clients for testnet and mainnet and contract
// invokers wherever a contract id and RPC endpoint are configured.
func NewNetworks(cfg config.StellarConfig, logg *logger.Logger, observer InvocationObserver) (*Networks, error) {
	settings := []networkSettings{
		{
			name:       enums.NetworkTestnet,
			passphrase: network.TestNetworkPassphrase,
			horizonURL: cfg.TestnetHorizonURL,
			rpcURL:     cfg.TestnetRPCURL,
			contractID: cfg.TestnetContractID,
		},
		{
			name:       enums.NetworkMainnet,
			passphrase: network.PublicNetworkPassphrase,
			horizonURL: cfg.MainnetHorizonURL,
			rpcURL:     cfg.MainnetRPCURL,
			contractID: cfg.MainnetContractID,
		},
	}

	out := &Networks{byName: make(map[enums.Network]*Network, len(settings))}
	for _, s := range settings {
		horizon := NewHorizonClient(s.horizonURL, cfg.HTTPTimeout, cfg.PaymentSearchPages)
		n := &Network{Name: s.name, Passphrase: s.passphrase, Horizon: horizon}

		if s.contractID != "" && s.rpcURL != "" && cfg.KeeperSecret != "" {
			rpc, err := NewRPCClient(s.rpcURL, WithRPCHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
			if err != nil {
				return nil, fmt.Errorf("%s rpc: %w", s.name, err)
			}
			builder, err := NewKeeperBuilder(BuilderConfig{
				KeeperSecret:      cfg.KeeperSecret,
				ContractID:        s.contractID,
				NetworkPassphrase: s.passphrase,
				BaseFee:           cfg.BaseFee,
				TimeoutSeconds:    cfg.TxTimeoutSeconds,
			}, horizon)
			if err != nil {
				return nil, fmt.Errorf("%s builder: %w", s.name, err)
			}
			invoker, err := NewInvoker(rpc, builder, InvokerOptions{
				PollInterval: cfg.PollInterval,
				PollAttempts: cfg.PollAttempts,
				Logger:       logg,
				Observer:     observer,
			})
			if err != nil {
				return nil, fmt.Errorf("%s invoker: %w", s.name, err)
			}
			n.Contract = NewSubscriptionContract(invoker)
		}
		out.byName[s.name] = n
	}
	return out, nil
}

// NewNetworksFrom builds a registry from prepared networks, mainly for tests.
func NewNetworksFrom(networks ...*Network) *Networks {
	out := &Networks{byName: make(map[enums.Network]*Network, len(networks))}
	for _, n := range networks {
		out.byName[n.Name] = n
	}
	return out
}

// For returns the clients of env.
func (n *Networks) For(env enums.Network) (*Network, error) {
	if net, ok := n.byName[env]; ok {
		return net, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNetworkUnavailable, env)
}

// ContractFor returns the subscription contract of env.
func (n *Networks) ContractFor(env enums.Network) (*SubscriptionContract, error) {
	net, err := n.For(env)
	if err != nil {
		return nil, err
	}
	if net.Contract == nil {
		return nil, fmt.Errorf("%w: no subscription contract on %s", ErrNetworkUnavailable, env)
	}
	return net.Contract, nil
}
