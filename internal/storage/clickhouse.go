// Package storage provides a ClickHouse batch insert client, the
// queryable-at-scale archival sink alongside internal/filesource's flat
// file option.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/kubearch/retisgo/internal/constants"
	"github.com/kubearch/retisgo/internal/event"
	"github.com/kubearch/retisgo/internal/metadata"
)

// ClickHouseConfig holds connection settings.
type ClickHouseConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// DefaultClickHouseConfig returns lean defaults.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		DSN:      constants.ClickHouseDefaultDSN,
		MaxConns: constants.ClickHouseMaxConns,
	}
}

// ClickHouse is the batch-insert client.
type ClickHouse struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewClickHouse creates and pings a ClickHouse connection.
func NewClickHouse(cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouse, error) {
	opts, err := clickhouse.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	opts.MaxOpenConns = cfg.MaxConns
	opts.MaxIdleConns = cfg.MaxConns
	opts.ConnMaxLifetime = 10 * time.Minute

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	logger.Info("ClickHouse connected", zap.String("dsn", cfg.DSN))
	return &ClickHouse{conn: conn, logger: logger}, nil
}

// EventRow is one row for batch insert: the event's sections rendered to
// their persisted JSON form (spec §6 ToStructured), plus the columns
// queries filter on without parsing that JSON.
type EventRow struct {
	Timestamp  time.Time
	Node       string
	Namespace  string
	Pod        string
	TrackingId uint64
	Sections   []string
	Payload    json.RawMessage
}

// NewEventRow builds an EventRow from a decoded Event, resolving
// Namespace/Pod from the Common section's task pid via meta (meta may be
// nil, leaving those columns empty).
func NewEventRow(e *event.Event, node string, meta *metadata.Cache) (EventRow, error) {
	payload, err := e.MarshalJSON()
	if err != nil {
		return EventRow{}, fmt.Errorf("marshal event: %w", err)
	}

	sections := e.Sections()
	names := make([]string, len(sections))
	for i, id := range sections {
		names[i] = id.String()
	}

	row := EventRow{
		Timestamp: time.Now(),
		Node:      node,
		Sections:  names,
		Payload:   payload,
	}
	if e.Has(event.Common) {
		row.Timestamp = time.Unix(0, int64(e.CommonSec.Timestamp))
	}
	if id, ok := e.TrackingId(); ok {
		row.TrackingId = id
	}
	if meta != nil && e.Has(event.Common) && e.CommonSec.Task != nil {
		if m, ok := meta.Lookup(uint32(e.CommonSec.Task.Pid)); ok {
			row.Namespace = m.Namespace
			row.Pod = m.PodName
		}
	}
	return row, nil
}

// InsertBatch inserts a batch of events into ClickHouse.
// Uses native batch protocol for maximum throughput.
func (ch *ClickHouse) InsertBatch(ctx context.Context, rows []EventRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := ch.conn.PrepareBatch(ctx,
		"INSERT INTO retisgo.events (timestamp, node, namespace, pod, tracking_id, sections, payload)")
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(
			r.Timestamp,
			r.Node,
			r.Namespace,
			r.Pod,
			r.TrackingId,
			r.Sections,
			string(r.Payload),
		); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	ch.logger.Debug("Batch inserted", zap.Int("rows", len(rows)))
	return nil
}

// Close closes the ClickHouse connection.
func (ch *ClickHouse) Close() error {
	return ch.conn.Close()
}

// Query executes a query and returns rows. Used by the API layer.
func (ch *ClickHouse) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	return ch.conn.Query(ctx, query, args...)
}

// QueryRow executes a query returning a single row.
func (ch *ClickHouse) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	return ch.conn.QueryRow(ctx, query, args...)
}
