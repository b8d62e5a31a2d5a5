package stellar

import (
	"context"
	"fmt"
	"time"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// Subscription contract methods.
const (
	MethodCreateSubscription = "create_subscription"
	MethodPause              = "pause"
	MethodResume             = "resume"
	MethodCancel             = "cancel"
	MethodCharge             = "charge"
	MethodGetSubscription    = "get_subscription"
)

// ContractInvoker is implemented by Invoker.
type ContractInvoker interface {
	Invoke(ctx context.Context, call Call, readOnly bool) (InvokeResult, error)
	Transaction(ctx context.Context, hash string) (InvokeResult, error)
}

// SubscriptionContract exposes the recurring billing contract methods.
type SubscriptionContract struct {
	invoker ContractInvoker
}

func NewSubscriptionContract(invoker ContractInvoker) *SubscriptionContract {
	return &SubscriptionContract{invoker: invoker}
}

// SubscriptionTerms are the on-chain parameters of a new subscription.
type SubscriptionTerms struct {
	Customer    string
	ProductID   string
	Amount      int64
	PeriodStart time.Time
	PeriodEnd   time.Time
}

func (c *SubscriptionContract) CreateSubscription(ctx context.Context, terms SubscriptionTerms) (InvokeResult, error) {
	customer, err := AddressArg(terms.Customer)
	if err != nil {
		return InvokeResult{}, err
	}
	return c.invoker.Invoke(ctx, Call{
		Method: MethodCreateSubscription,
		Args: []xdr.ScVal{
			customer,
			StringArg(terms.ProductID),
			I128Arg(terms.Amount),
			U64Arg(uint64(terms.PeriodStart.Unix())),
			U64Arg(uint64(terms.PeriodEnd.Unix())),
		},
	}, false)
}

func (c *SubscriptionContract) Pause(ctx context.Context, customer, productID string) (InvokeResult, error) {
	return c.invokeCustomerProduct(ctx, MethodPause, customer, productID, false)
}

func (c *SubscriptionContract) Resume(ctx context.Context, customer, productID string) (InvokeResult, error) {
	return c.invokeCustomerProduct(ctx, MethodResume, customer, productID, false)
}

func (c *SubscriptionContract) Cancel(ctx context.Context, customer, productID string) (InvokeResult, error) {
	return c.invokeCustomerProduct(ctx, MethodCancel, customer, productID, false)
}

// Charge bills the customer for the current period; the outcome is reported
// through the sub_pay event.
func (c *SubscriptionContract) Charge(ctx context.Context, customer, productID string) (InvokeResult, error) {
	return c.invokeCustomerProduct(ctx, MethodCharge, customer, productID, false)
}

// Transaction reports the outcome of an earlier call by hash.
func (c *SubscriptionContract) Transaction(ctx context.Context, hash string) (InvokeResult, error) {
	return c.invoker.Transaction(ctx, hash)
}

// Get reads the on-chain subscription state without submitting a transaction.
func (c *SubscriptionContract) Get(ctx context.Context, customer, productID string) (SubscriptionState, error) {
	result, err := c.invokeCustomerProduct(ctx, MethodGetSubscription, customer, productID, true)
	if err != nil {
		return SubscriptionState{}, err
	}
	return decodeSubscriptionState(result.ReturnValue)
}

func (c *SubscriptionContract) invokeCustomerProduct(ctx context.Context, method, customer, productID string, readOnly bool) (InvokeResult, error) {
	addr, err := AddressArg(customer)
	if err != nil {
		return InvokeResult{}, err
	}
	return c.invoker.Invoke(ctx, Call{
		Method: method,
		Args:   []xdr.ScVal{addr, StringArg(productID)},
	}, readOnly)
}

// AddressArg encodes a G... account or C... contract strkey.
func AddressArg(address string) (xdr.ScVal, error) {
	if strkey.IsValidEd25519PublicKey(address) {
		accountID, err := xdr.AddressToAccountId(address)
		if err != nil {
			return xdr.ScVal{}, fmt.Errorf("encode account %s: %w", address, err)
		}
		addr := xdr.ScAddress{Type: xdr.ScAddressTypeScAddressTypeAccount, AccountId: &accountID}
		return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
	}
	addr, err := ContractAddress(address)
	if err != nil {
		return xdr.ScVal{}, fmt.Errorf("invalid address %q: %w", address, err)
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &addr}, nil
}

func StringArg(value string) xdr.ScVal {
	s := xdr.ScString(value)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &s}
}

func U64Arg(value uint64) xdr.ScVal {
	n := xdr.Uint64(value)
	return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &n}
}

// I128Arg encodes a stroop amount as i128.
func I128Arg(value int64) xdr.ScVal {
	parts := xdr.Int128Parts{Hi: 0, Lo: xdr.Uint64(uint64(value))}
	if value < 0 {
		parts.Hi = -1
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
}
