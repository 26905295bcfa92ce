// Package store archives final pipeline tables in PostgreSQL.
//
// Archiving is optional. The server only opens a pool when DATABASE_URL is
// set, and a failed archive never fails the run that produced the table.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/LotTrace/internal/config"
	"github.com/JonMunkholm/LotTrace/internal/core"
	"github.com/JonMunkholm/LotTrace/internal/logging"
)

// TableName is the archive table.
const TableName = "trace_rows"

// Columns of the archive table, in COPY order.
var Columns = []string{"job_id", "row_num", "sync_data", "lot_a", "lot_b", "melt_id", "data"}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS trace_rows (
	job_id      uuid    NOT NULL,
	row_num     integer NOT NULL,
	sync_data   text,
	lot_a       text,
	lot_b       text,
	melt_id     double precision,
	data        jsonb   NOT NULL,
	archived_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, row_num)
);
CREATE INDEX IF NOT EXISTS trace_rows_lot_a_idx ON trace_rows (lot_a);
CREATE INDEX IF NOT EXISTS trace_rows_lot_b_idx ON trace_rows (lot_b);
`

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store writes final tables to the trace_rows table.
type Store struct {
	db DB
}

// New returns a store over db. It does not touch the database.
func New(db DB) *Store {
	return &Store{db: db}
}

// Open parses the database URL, applies the pool settings and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to archive database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to archive database")
	}
	return pool, nil
}

// EnsureSchema creates the archive table and its indexes if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create %s: %w", TableName, err)
	}
	return nil
}

// Archive replaces the rows stored for jobID with the rows of t, in one
// transaction. It returns the number of rows copied.
func (s *Store) Archive(ctx context.Context, jobID uuid.UUID, t *core.Table) (int64, error) {
	rows, err := Rows(jobID, t)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM trace_rows WHERE job_id = $1", pgUUID(jobID)); err != nil {
		return 0, fmt.Errorf("clear previous rows: %w", err)
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{TableName}, Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("copy rows: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	logging.FromContext(ctx).Info("final table archived", "table", TableName, "rows", n)
	return n, nil
}

// Count returns the number of archived rows for jobID.
func (s *Store) Count(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, "SELECT count(*) FROM trace_rows WHERE job_id = $1", pgUUID(jobID)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

// Rows converts t into COPY rows matching Columns. The indexed columns are
// filled when t has them. data holds every cell as its CSV text, with
// missing cells as JSON null.
func Rows(jobID uuid.UUID, t *core.Table) ([][]any, error) {
	id := pgUUID(jobID)
	syncCol := t.Index(core.ColSyncData)
	lotACol := t.Index(core.ColLotA)
	lotBCol := t.Index(core.ColLotB)
	meltCol := t.Index(core.ColMeltID)

	out := make([][]any, 0, t.Len())
	for r, row := range t.Rows {
		doc := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			if core.IsMissing(row[i]) {
				doc[c] = nil
				continue
			}
			doc[c] = core.FormatCell(row[i])
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("row %d: encode data: %w", r, err)
		}

		out = append(out, []any{
			id,
			int32(r),
			textAt(row, syncCol),
			textAt(row, lotACol),
			textAt(row, lotBCol),
			floatAt(row, meltCol),
			data,
		})
	}
	return out, nil
}

func textAt(row []any, i int) pgtype.Text {
	if i < 0 || core.IsMissing(row[i]) {
		return pgtype.Text{}
	}
	s := core.FormatCell(row[i])
	return pgtype.Text{String: s, Valid: s != ""}
}

func floatAt(row []any, i int) pgtype.Float8 {
	if i < 0 {
		return pgtype.Float8{}
	}
	return core.CoerceFloat(row[i])
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
