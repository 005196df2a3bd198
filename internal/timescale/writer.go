package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"futu-bridge/internal/config"
	"futu-bridge/internal/history"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// HealthSample is one point of the watchdog's view of the connection.
type HealthSample struct {
	Time       time.Time
	State      string
	Failures   int
	Reconnects uint64
	Subs       int
}

// Writer archives fetched bars and health samples to a Timescale-backed
// Postgres. Writes are queued and flushed by one background goroutine;
// full queues drop rather than block the caller.
type Writer struct {
	db       *sql.DB
	log      *zap.Logger
	schema   string
	bars     chan history.Bar
	health   chan HealthSample
	started  atomic.Bool
	dropBars atomic.Uint64
	dropHlth atomic.Uint64
}

// New returns nil when archiving is disabled in config.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	w := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		bars:   make(chan history.Bar, 256),
		health: make(chan HealthSample, 64),
	}
	if err := w.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
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

func (w *Writer) EnqueueBars(bars []history.Bar) {
	if w == nil {
		return
	}
	for _, bar := range bars {
		select {
		case w.bars <- bar:
		default:
			if w.dropBars.Add(1) == 1 && w.log != nil {
				w.log.Warn("timescale bar queue full")
			}
		}
	}
}

func (w *Writer) EnqueueHealth(sample HealthSample) {
	if w == nil {
		return
	}
	select {
	case w.health <- sample:
	default:
		if w.dropHlth.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale health queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar := <-w.bars:
			w.writeBar(ctx, bar)
		case sample := <-w.health:
			w.writeHealth(ctx, sample)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		interval TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, symbol, interval)
	)`, w.table("bars"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		state TEXT NOT NULL,
		failures INTEGER NOT NULL,
		reconnects BIGINT NOT NULL,
		subscriptions INTEGER NOT NULL
	)`, w.table("health_samples"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeBar(ctx context.Context, bar history.Bar) {
	query := fmt.Sprintf(`INSERT INTO %s (ts, symbol, interval, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ts, symbol, interval) DO NOTHING`, w.table("bars"))
	w.execArgs(ctx, query, bar.Time, bar.Symbol, string(bar.Interval),
		bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
}

func (w *Writer) writeHealth(ctx context.Context, sample HealthSample) {
	query := fmt.Sprintf(`INSERT INTO %s (ts, state, failures, reconnects, subscriptions)
		VALUES ($1, $2, $3, $4, $5)`, w.table("health_samples"))
	w.execArgs(ctx, query, sample.Time, sample.State, sample.Failures,
		sample.Reconnects, sample.Subs)
}

func (w *Writer) exec(ctx context.Context, query string) error {
	execCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(execCtx, query)
	return err
}

func (w *Writer) execArgs(ctx context.Context, query string, args ...any) {
	execCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if _, err := w.db.ExecContext(execCtx, query, args...); err != nil && w.log != nil {
		w.log.Warn("timescale write failed", zap.Error(err))
	}
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
