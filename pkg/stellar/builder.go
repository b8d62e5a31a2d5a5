package stellar

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
)

// SequenceSource loads the current sequence number of the signing account.
type SequenceSource interface {
	AccountSequence(ctx context.Context, address string) (int64, error)
}

// KeeperBuilder builds contract transactions sourced and signed by the keeper account.
type KeeperBuilder struct {
	keeper     *keypair.Full
	contract   xdr.ScAddress
	passphrase string
	baseFee    int64
	timeout    int64
	accounts   SequenceSource
}

// BuilderConfig configures a KeeperBuilder.
type BuilderConfig struct {
	KeeperSecret      string
	ContractID        string
	NetworkPassphrase string
	BaseFee           int64
	TimeoutSeconds    int64
}

// NewKeeperBuilder parses the keeper secret and contract id.
func NewKeeperBuilder(cfg BuilderConfig, accounts SequenceSource) (*KeeperBuilder, error) {
	if accounts == nil {
		return nil, errors.New("sequence source required")
	}
	kp, err := keypair.ParseFull(cfg.KeeperSecret)
	if err != nil {
		return nil, fmt.Errorf("parse keeper secret: %w", err)
	}
	contract, err := ContractAddress(cfg.ContractID)
	if err != nil {
		return nil, err
	}
	if cfg.NetworkPassphrase == "" {
		return nil, errors.New("network passphrase required")
	}
	fee := cfg.BaseFee
	if fee < txnbuild.MinBaseFee {
		fee = txnbuild.MinBaseFee
	}
	return &KeeperBuilder{
		keeper:     kp,
		contract:   contract,
		passphrase: cfg.NetworkPassphrase,
		baseFee:    fee,
		timeout:    cfg.TimeoutSeconds,
		accounts:   accounts,
	}, nil
}

// KeeperAddress is the public key that signs contract calls.
func (b *KeeperBuilder) KeeperAddress() string {
	return b.keeper.Address()
}

func (b *KeeperBuilder) Draft(ctx context.Context, call Call) (Draft, error) {
	seq, err := b.accounts.AccountSequence(ctx, b.keeper.Address())
	if err != nil {
		return Draft{}, err
	}
	tx, err := b.build(call, seq, b.baseFee, nil)
	if err != nil {
		return Draft{}, err
	}
	envelope, err := tx.Base64()
	if err != nil {
		return Draft{}, fmt.Errorf("encode draft: %w", err)
	}
	return Draft{Envelope: envelope, Sequence: seq, Call: call, Fee: b.baseFee, tx: tx}, nil
}

func (b *KeeperBuilder) Assemble(draft Draft, sim Simulation) (Draft, error) {
	fee := draft.Fee + sim.MinResourceFee
	tx, err := b.build(draft.Call, draft.Sequence, fee, &sim)
	if err != nil {
		return Draft{}, err
	}
	envelope, err := tx.Base64()
	if err != nil {
		return Draft{}, fmt.Errorf("encode assembled: %w", err)
	}
	return Draft{Envelope: envelope, Sequence: draft.Sequence, Call: draft.Call, Fee: fee, tx: tx}, nil
}

func (b *KeeperBuilder) Sign(draft Draft) (string, error) {
	tx := draft.tx
	if tx == nil {
		parsed, err := txnbuild.TransactionFromXDR(draft.Envelope)
		if err != nil {
			return "", fmt.Errorf("parse envelope: %w", err)
		}
		var ok bool
		if tx, ok = parsed.Transaction(); !ok {
			return "", errors.New("fee bump envelopes are not signed by the keeper")
		}
	}
	signed, err := tx.Sign(b.passphrase, b.keeper)
	if err != nil {
		return "", fmt.Errorf("sign envelope: %w", err)
	}
	return signed.Base64()
}

func (b *KeeperBuilder) build(call Call, seq, fee int64, sim *Simulation) (*txnbuild.Transaction, error) {
	op := &txnbuild.InvokeHostFunction{
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: b.contract,
				FunctionName:    xdr.ScSymbol(call.Method),
				Args:            call.Args,
			},
		},
		SourceAccount: b.keeper.Address(),
	}
	if sim != nil {
		var data xdr.SorobanTransactionData
		if err := xdr.SafeUnmarshalBase64(sim.TransactionData, &data); err != nil {
			return nil, fmt.Errorf("decode soroban data: %w", err)
		}
		op.Ext = xdr.TransactionExt{V: 1, SorobanData: &data}
		for _, encoded := range sim.Auth {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(encoded, &entry); err != nil {
				return nil, fmt.Errorf("decode auth entry: %w", err)
			}
			op.Auth = append(op.Auth, entry)
		}
	}

	account := txnbuild.NewSimpleAccount(b.keeper.Address(), seq)
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              fee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(b.timeout)},
	})
	if err != nil {
		return nil, fmt.Errorf("build %s transaction: %w", call.Method, err)
	}
	return tx, nil
}

// ContractAddress converts a C... strkey into a contract ScAddress.
func ContractAddress(contractID string) (xdr.ScAddress, error) {
	hash, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("decode contract id: %w", err)
	}
	raw := make([]byte, 4, 4+len(hash))
	binary.BigEndian.PutUint32(raw, uint32(xdr.ScAddressTypeScAddressTypeContract))
	raw = append(raw, hash...)

	var addr xdr.ScAddress
	if err := xdr.SafeUnmarshal(raw, &addr); err != nil {
		return xdr.ScAddress{}, fmt.Errorf("encode contract address: %w", err)
	}
	return addr, nil
}
