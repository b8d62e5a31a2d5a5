package stellar

import (
	"fmt"
	"math"
	"math/big"
	"time"
)

// SubPayTopic is emitted by the subscription contract on every charge attempt.
const SubPayTopic = "sub_pay"

// SubPayEvent is the decoded outcome of a charge.
type SubPayEvent struct {
	Success   bool
	Amount    int64
	PeriodEnd time.Time
}

// FindSubPay returns the first sub_pay event. It returns nil when the
// contract emitted none and ErrEventSchema when the payload is malformed.
func FindSubPay(events []Event) (*SubPayEvent, error) {
	for _, ev := range events {
		if ev.Topic != SubPayTopic {
			continue
		}
		return decodeSubPay(ev.Data)
	}
	return nil, nil
}

func decodeSubPay(data any) (*SubPayEvent, error) {
	fields, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: sub_pay data is %T, want map", ErrEventSchema, data)
	}
	success, ok := fields["success"].(bool)
	if !ok {
		return nil, fmt.Errorf("%w: sub_pay.success is %T, want bool", ErrEventSchema, fields["success"])
	}
	if !success {
		// A failed charge only has to say so; amount and period_end are kept
		// when the contract reports them.
		event := &SubPayEvent{}
		if amount, err := int64Field(SubPayTopic, fields, "amount"); err == nil {
			event.Amount = amount
		}
		if periodEnd, err := int64Field(SubPayTopic, fields, "period_end"); err == nil && periodEnd > 0 {
			event.PeriodEnd = time.Unix(periodEnd, 0).UTC()
		}
		return event, nil
	}

	amount, err := int64Field(SubPayTopic, fields, "amount")
	if err != nil {
		return nil, err
	}
	periodEnd, err := int64Field(SubPayTopic, fields, "period_end")
	if err != nil {
		return nil, err
	}
	if periodEnd <= 0 {
		return nil, fmt.Errorf("%w: sub_pay.period_end must be positive", ErrEventSchema)
	}
	return &SubPayEvent{
		Success:   true,
		Amount:    amount,
		PeriodEnd: time.Unix(periodEnd, 0).UTC(),
	}, nil
}

// SubscriptionState is the contract's view of one subscription.
type SubscriptionState struct {
	Status    string
	Amount    int64
	PeriodEnd time.Time
}

func decodeSubscriptionState(value any) (SubscriptionState, error) {
	if value == nil {
		return SubscriptionState{}, ErrNoSubscription
	}
	fields, ok := value.(map[string]any)
	if !ok {
		return SubscriptionState{}, fmt.Errorf("%w: subscription is %T, want map", ErrEventSchema, value)
	}
	periodEnd, err := int64Field(MethodGetSubscription, fields, "period_end")
	if err != nil {
		return SubscriptionState{}, err
	}
	if periodEnd <= 0 {
		return SubscriptionState{}, fmt.Errorf("%w: %s.period_end must be positive", ErrEventSchema, MethodGetSubscription)
	}
	state := SubscriptionState{PeriodEnd: time.Unix(periodEnd, 0).UTC()}
	if amount, err := int64Field(MethodGetSubscription, fields, "amount"); err == nil {
		state.Amount = amount
	}
	if status, ok := fields["status"].(string); ok {
		state.Status = status
	}
	return state, nil
}

func int64Field(kind string, fields map[string]any, name string) (int64, error) {
	switch v := fields[name].(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %s.%s overflows int64", ErrEventSchema, kind, name)
		}
		return int64(v), nil
	case *big.Int:
		if v == nil || !v.IsInt64() {
			return 0, fmt.Errorf("%w: %s.%s overflows int64", ErrEventSchema, kind, name)
		}
		return v.Int64(), nil
	default:
		return 0, fmt.Errorf("%w: %s.%s is %T, want integer", ErrEventSchema, kind, name, fields[name])
	}
}
