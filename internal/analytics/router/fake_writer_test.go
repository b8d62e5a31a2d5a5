package router

import (
	"context"

	"github.com/lumenpay/settlement-backend/internal/analytics/types"
)

type fakeWriter struct {
	inserted []types.SettlementEventRow
	err      error
}

func (f *fakeWriter) InsertSettlement(_ context.Context, row types.SettlementEventRow) error {
	if f.err != nil {
		return f.err
	}
	f.inserted = append(f.inserted, row)
	return nil
}
