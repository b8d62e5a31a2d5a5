package router

import (
	"fmt"

	"github.com/lumenpay/settlement-backend/internal/analytics/types"
	analyticswriter "github.com/lumenpay/settlement-backend/internal/analytics/writer"
	"github.com/lumenpay/settlement-backend/internal/consumers/worker"
)

func buildBaseRow(event worker.Event, payload any) (types.SettlementEventRow, error) {
	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return types.SettlementEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	row := types.SettlementEventRow{
		EventID:        event.EventID.String(),
		EventType:      string(event.EventType),
		OrganizationID: event.OrganizationID.String(),
		Environment:    string(event.Environment),
		AggregateType:  string(event.AggregateType),
		AggregateID:    event.AggregateID,
		OccurredAt:     event.OccurredAt.UTC(),
		Payload:        payloadJSON,
	}
	if event.Actor != nil {
		row.Source = stringPtr(event.Actor.Source)
	}
	return row, nil
}
