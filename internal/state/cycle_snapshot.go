package state

import (
	"context"

	"github.com/vmihailenco/msgpack/v5"
)

// CycleSnapshotKey is the kv key holding the last persisted cycle for a
// symbol.
func CycleSnapshotKey(symbol string) string {
	return "cycle:snapshot:" + symbol
}

// CycleSnapshot is the durable view of the trading cycle, written on every
// state transition. msgpack keeps the kv payload compact; the fields mirror
// the coordinator's RestingOrder and fill context without importing it.
type CycleSnapshot struct {
	State          string  `msgpack:"state"`
	Symbol         string  `msgpack:"symbol"`
	OrderID        string  `msgpack:"order_id"`
	LimitPrice     float64 `msgpack:"limit_price"`
	Quantity       float64 `msgpack:"quantity"`
	ReferencePrice float64 `msgpack:"reference_price"`
	FilledQty      float64 `msgpack:"filled_qty"`
	FilledAvgPrice float64 `msgpack:"filled_avg_price"`
	LastHedgeError string  `msgpack:"last_hedge_error"`
	UpdatedAtMS    int64   `msgpack:"updated_at_ms"`
}

func LoadCycleSnapshot(ctx context.Context, store Store, symbol string) (CycleSnapshot, bool, error) {
	if store == nil {
		return CycleSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, CycleSnapshotKey(symbol))
	if err != nil {
		return CycleSnapshot{}, false, err
	}
	if !ok || len(raw) == 0 {
		return CycleSnapshot{}, false, nil
	}
	var snapshot CycleSnapshot
	if err := msgpack.Unmarshal(raw, &snapshot); err != nil {
		return CycleSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveCycleSnapshot(ctx context.Context, store Store, snapshot CycleSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, CycleSnapshotKey(snapshot.Symbol), payload)
}

func ClearCycleSnapshot(ctx context.Context, store Store, symbol string) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return store.Delete(ctx, CycleSnapshotKey(symbol))
}
