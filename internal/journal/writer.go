package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"markup-arb-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// CycleEvent records a coordinator state transition.
type CycleEvent struct {
	Time     time.Time
	Symbol   string
	State    string
	Event    string
	OrderID  string
	Price    float64
	Quantity float64
	Detail   string
}

// FillRecord captures a completed CEX fill.
type FillRecord struct {
	Time        time.Time
	Symbol      string
	OrderID     string
	AvgPrice    float64
	ExecutedQty float64
	USDValue    float64
}

// HedgeRecord captures the terminal outcome of one hedge sequence.
type HedgeRecord struct {
	Time         time.Time
	Symbol       string
	Provider     string
	Success      bool
	TxRef        string
	InputAmount  string
	OutputAmount string
	Attempts     int
	Error        string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	cycles     chan CycleEvent
	fills      chan FillRecord
	hedges     chan HedgeRecord
	started    atomic.Bool
	dropCycle  atomic.Uint64
	dropFill   atomic.Uint64
	dropHedge  atomic.Uint64
}

func New(cfg config.JournalConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("journal dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		cycles: make(chan CycleEvent, queueSize),
		fills:  make(chan FillRecord, queueSize),
		hedges: make(chan HedgeRecord, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCycle(event CycleEvent) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- event:
		return
	default:
		if w.dropCycle.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal cycle queue full")
		}
	}
}

func (w *Writer) EnqueueFill(record FillRecord) {
	if w == nil {
		return
	}
	select {
	case w.fills <- record:
		return
	default:
		if w.dropFill.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal fill queue full")
		}
	}
}

func (w *Writer) EnqueueHedge(record HedgeRecord) {
	if w == nil {
		return
	}
	select {
	case w.hedges <- record:
		return
	default:
		if w.dropHedge.Add(1) == 1 && w.log != nil {
			w.log.Warn("journal hedge queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.cycles:
			w.writeCycle(ctx, event)
		case record := <-w.fills:
			w.writeFill(ctx, record)
		case record := <-w.hedges:
			w.writeHedge(ctx, record)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("journal db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		state TEXT NOT NULL,
		event TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT ''
	)`, w.table("arb_cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		order_id TEXT NOT NULL,
		avg_price DOUBLE PRECISION NOT NULL,
		executed_qty DOUBLE PRECISION NOT NULL,
		usd_value DOUBLE PRECISION NOT NULL
	)`, w.table("arb_fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		provider TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		tx_ref TEXT NOT NULL DEFAULT '',
		input_amount TEXT NOT NULL DEFAULT '',
		output_amount TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("arb_hedges"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	for _, table := range []string{"arb_cycles", "arb_fills", "arb_hedges"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(table))); err != nil && w.log != nil {
			w.log.Warn("journal hypertable create failed", zap.String("table", table), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, event CycleEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, symbol, state, event, order_id, price, quantity, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, w.table("arb_cycles"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Time,
		event.Symbol,
		event.State,
		event.Event,
		event.OrderID,
		event.Price,
		event.Quantity,
		event.Detail,
	); err != nil && w.log != nil {
		w.log.Warn("journal cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, record FillRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, symbol, order_id, avg_price, executed_qty, usd_value)
		VALUES ($1,$2,$3,$4,$5,$6)`, w.table("arb_fills"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.Symbol,
		record.OrderID,
		record.AvgPrice,
		record.ExecutedQty,
		record.USDValue,
	); err != nil && w.log != nil {
		w.log.Warn("journal fill insert failed", zap.Error(err))
	}
}

func (w *Writer) writeHedge(ctx context.Context, record HedgeRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, symbol, provider, success, tx_ref, input_amount, output_amount, attempts, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("arb_hedges"))
	if _, err := w.db.ExecContext(ctx, query,
		record.Time,
		record.Symbol,
		record.Provider,
		record.Success,
		record.TxRef,
		record.InputAmount,
		record.OutputAmount,
		record.Attempts,
		record.Error,
	); err != nil && w.log != nil {
		w.log.Warn("journal hedge insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
