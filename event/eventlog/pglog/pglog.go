// Package pglog provides a PostgreSQL-backed eventlog.Log.
package pglog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jpkontreras/orderflow/event"
	"github.com/jpkontreras/orderflow/event/eventlog"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations. A violation of the (stream_id, seq) index means another writer
// appended first.
const uniqueViolation = "23505"

// Log is a PostgreSQL event log.
type Log struct {
	onceConnect   sync.Once
	connectionURL string
	table         string
	pool          *pgxpool.Pool
	reg           *event.Registry
}

var _ eventlog.Log = (*Log)(nil)

// Option is an option for the PostgreSQL event log.
type Option func(*Log)

// URL returns an Option that specifies the connection string to the
// PostgreSQL server. If unset, os.Getenv("POSTGRES_EVENTLOG") is used.
func URL(url string) Option {
	return func(l *Log) {
		l.connectionURL = url
	}
}

// Table returns an Option that configures the table used for events.
// Defaults to "events".
func Table(name string) Option {
	if name = strings.TrimSpace(name); name == "" {
		panic("table name cannot be empty")
	}

	return func(l *Log) {
		l.table = name
	}
}

// New returns a new PostgreSQL event log that uses reg to encode and decode
// event payloads.
func New(reg *event.Registry, opts ...Option) *Log {
	l := &Log{
		reg:           reg,
		table:         "events",
		connectionURL: os.Getenv("POSTGRES_EVENTLOG"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pool returns the underlying connection pool. Pool must only be called after
// the connection has been established.
func (l *Log) Pool() *pgxpool.Pool {
	return l.pool
}

// Connect connects to the PostgreSQL server and creates the events table and
// its indexes if they don't exist yet. Connect is automatically called from
// Append, ReadStream, and ReadAll if not called explicitly.
func (l *Log) Connect(ctx context.Context) error {
	var err error
	l.onceConnect.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if err = l.connect(ctx); err != nil {
			return
		}
		if err = l.createTable(ctx); err != nil {
			return
		}
	})
	return err
}

func (l *Log) connect(ctx context.Context) error {
	url := l.connectionURL
	if url == "" {
		return fmt.Errorf("missing connection string")
	}

	cfg, err := pgx.ParseConfig(url)
	if err != nil {
		return fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.Connect(ctx, cfg.ConnString())
	if err != nil {
		return fmt.Errorf("connect to postgres: %w [url=%s]", err, url)
	}
	l.pool = pool

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	return nil
}

func (l *Log) createTable(ctx context.Context) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		global_pos BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		time BIGINT NOT NULL,
		stream_id UUID NOT NULL,
		stream_name VARCHAR(255) NOT NULL,
		seq INTEGER NOT NULL,
		causer VARCHAR(255),
		correlation VARCHAR(255),
		data JSONB
	)`, l.table)); err != nil {
		return fmt.Errorf("create %q table: %w", l.table, err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s_stream_seq ON %s (stream_id, seq)",
		l.table, l.table,
	)); err != nil {
		return fmt.Errorf("create stream index: %w", err)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s_time ON %s (time)",
		l.table, l.table,
	)); err != nil {
		return fmt.Errorf("create time index: %w", err)
	}

	return tx.Commit(ctx)
}

// Append implements eventlog.Log. The version check and the inserts run in a
// single transaction; the unique (stream_id, seq) index guards against two
// writers that both passed the check.
func (l *Log) Append(ctx context.Context, streamID uuid.UUID, streamName string, expectedVersion int, events []event.Event) (int, error) {
	if err := l.Connect(ctx); err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}

	if len(events) == 0 {
		return expectedVersion, nil
	}

	if err := eventlog.ValidateSequence(streamID, expectedVersion, events); err != nil {
		return 0, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current int
	if err := tx.QueryRow(
		ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM %s WHERE stream_id = $1", l.table),
		streamID,
	).Scan(&current); err != nil {
		return 0, fmt.Errorf("query stream version: %w", err)
	}

	if current != expectedVersion {
		return 0, fmt.Errorf(
			"append to %q stream %s: %w [expected=%d current=%d]",
			streamName, streamID, eventlog.ErrVersionMismatch, expectedVersion, current,
		)
	}

	for _, evt := range events {
		b, err := l.reg.Marshal(evt.Data())
		if err != nil {
			return 0, fmt.Errorf("marshal %q payload: %w", evt.Name(), err)
		}

		meta := evt.Metadata()
		if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (
			id, name, time, stream_id, stream_name, seq, causer, correlation, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, l.table),
			evt.ID(), evt.Name(), evt.Time().UnixNano(), streamID, streamName,
			evt.AggregateVersion(), meta.CauserID, meta.CorrelationID, b,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return 0, fmt.Errorf(
					"append to %q stream %s: %w [seq=%d]",
					streamName, streamID, eventlog.ErrVersionMismatch, evt.AggregateVersion(),
				)
			}
			return 0, fmt.Errorf("insert %q event: %w", evt.Name(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, fmt.Errorf(
				"append to %q stream %s: %w",
				streamName, streamID, eventlog.ErrVersionMismatch,
			)
		}
		return 0, fmt.Errorf("commit: %w", err)
	}

	return expectedVersion + len(events), nil
}

// ReadStream implements eventlog.Log.
func (l *Log) ReadStream(ctx context.Context, streamID uuid.UUID, from int) (<-chan event.Event, <-chan error, error) {
	if err := l.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	sql, args, err := squirrel.
		Select("id", "name", "time", "stream_id", "stream_name", "seq", "causer", "correlation", "data").
		From(l.table).
		Where(squirrel.Eq{"stream_id": streamID}).
		Where(squirrel.Gt{"seq": from}).
		OrderBy("seq ASC").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query events: %w", err)
	}

	out := make(chan event.Event)
	errs := make(chan error)

	go func() {
		defer close(out)
		defer close(errs)
		defer rows.Close()

		want := from
		for rows.Next() {
			evt, _, err := l.scanEvent(rows)
			if err != nil {
				select {
				case <-ctx.Done():
				case errs <- err:
				}
				return
			}

			want++
			if evt.AggregateVersion() != want {
				select {
				case <-ctx.Done():
				case errs <- &eventlog.CorruptionError{StreamID: streamID, Sequence: want, Got: evt.AggregateVersion()}:
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case out <- evt:
			}
		}

		if err := rows.Err(); err != nil {
			select {
			case <-ctx.Done():
			case errs <- err:
			}
		}
	}()

	return out, errs, nil
}

// ReadAll implements eventlog.Log.
func (l *Log) ReadAll(ctx context.Context, after int64, limit int) ([]eventlog.Stored, error) {
	if err := l.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	builder := squirrel.
		Select("id", "name", "time", "stream_id", "stream_name", "seq", "causer", "correlation", "data", "global_pos").
		From(l.table).
		Where(squirrel.Gt{"global_pos": after}).
		OrderBy("global_pos ASC").
		PlaceholderFormat(squirrel.Dollar)

	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := l.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []eventlog.Stored
	for rows.Next() {
		evt, pos, err := l.scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, eventlog.Stored{Event: evt, GlobalPos: pos})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// scanEvent decodes a row into an event. The row must have been selected with
// the column order used by ReadStream and ReadAll; the trailing global_pos
// column is optional.
func (l *Log) scanEvent(rows pgx.Rows) (event.Event, int64, error) {
	var (
		id          uuid.UUID
		name        string
		nanos       int64
		streamID    uuid.UUID
		streamName  string
		seq         int
		causer      *string
		correlation *string
		data        []byte
		pos         int64
	)

	dest := []any{&id, &name, &nanos, &streamID, &streamName, &seq, &causer, &correlation, &data}
	if len(rows.FieldDescriptions()) > len(dest) {
		dest = append(dest, &pos)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, 0, fmt.Errorf("scan row: %w", err)
	}

	payload, err := l.reg.Unmarshal(data, name)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %q payload: %w", name, err)
	}

	var meta event.Metadata
	if causer != nil {
		meta.CauserID = *causer
	}
	if correlation != nil {
		meta.CorrelationID = *correlation
	}

	return event.New(
		name,
		payload,
		event.ID(id),
		event.Time(time.Unix(0, nanos)),
		event.Aggregate(streamID, streamName, seq),
		event.WithMetadata(meta),
	), pos, nil
}
