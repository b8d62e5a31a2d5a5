package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// SubscriptionData is the jsonb snapshot attached to checkouts for subscription products.
type SubscriptionData struct {
	PeriodStart       time.Time `json:"period_start"`
	PeriodEnd         time.Time `json:"period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}

// Validate checks the period bounds.
func (s SubscriptionData) Validate() error {
	if s.PeriodStart.IsZero() || s.PeriodEnd.IsZero() {
		return fmt.Errorf("subscription data: period bounds are required")
	}
	if !s.PeriodEnd.After(s.PeriodStart) {
		return fmt.Errorf("subscription data: period_end must be after period_start")
	}
	return nil
}

// Value marshals SubscriptionData to JSON.
func (s SubscriptionData) Value() (driver.Value, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan decodes a jsonb column.
func (s *SubscriptionData) Scan(value any) error {
	if value == nil {
		*s = SubscriptionData{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("subscription data: unsupported scan type %T", value)
	}
	return json.Unmarshal(raw, s)
}
