// Package postgres stores accepted transcriptions in PostgreSQL so a
// session's subtitles can be reviewed or searched afterwards.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ElKroko/DISCORD-SUBTITLES/internal/sink"
)

// Compile-time interface checks.
var (
	_ sink.Sink   = (*Store)(nil)
	_ sink.Closer = (*Store)(nil)
)

// Store is a [sink.Sink] writing to the transcripts table.
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Name implements [sink.Sink].
func (s *Store) Name() string { return "postgres" }

// Deliver implements [sink.Sink]. Redelivering a message with the same ID
// is a no-op.
func (s *Store) Deliver(ctx context.Context, m sink.Message) error {
	const q = `
		INSERT INTO transcripts
		    (id, run_id, source, speaker, text, confidence, seq, spoken_at)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, q,
		m.ID,
		m.RunID,
		m.Source,
		m.Speaker,
		m.Text,
		m.Confidence,
		int64(m.Seq),
		m.At,
	)
	if err != nil {
		return fmt.Errorf("postgres store: insert: %w", err)
	}
	return nil
}

// Recent returns the messages of runID spoken within the last d, oldest
// first.
func (s *Store) Recent(ctx context.Context, runID string, d time.Duration) ([]sink.Message, error) {
	const q = `
		SELECT id::text, run_id, source, speaker, text, confidence, seq, spoken_at
		FROM   transcripts
		WHERE  run_id = $1
		  AND  spoken_at >= now() - ($2::bigint * interval '1 microsecond')
		ORDER  BY spoken_at, seq`

	rows, err := s.pool.Query(ctx, q, runID, d.Microseconds())
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent: %w", err)
	}
	return collectMessages(rows)
}

// SearchOpts narrows [Store.Search].
type SearchOpts struct {
	RunID  string
	Source string
	After  time.Time
	Limit  int
}

// Search runs a full-text query over transcript text.
func (s *Store) Search(ctx context.Context, query string, opts SearchOpts) ([]sink.Message, error) {
	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)"}
	if opts.RunID != "" {
		conditions = append(conditions, "run_id = "+next(opts.RunID))
	}
	if opts.Source != "" {
		conditions = append(conditions, "source = "+next(opts.Source))
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "spoken_at > "+next(opts.After))
	}

	q := "SELECT id::text, run_id, source, speaker, text, confidence, seq, spoken_at\n" +
		"FROM   transcripts\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY spoken_at, seq"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}
	return collectMessages(rows)
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func collectMessages(rows pgx.Rows) ([]sink.Message, error) {
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sink.Message, error) {
		var (
			m   sink.Message
			seq int64
		)
		if err := row.Scan(&m.ID, &m.RunID, &m.Source, &m.Speaker, &m.Text, &m.Confidence, &seq, &m.At); err != nil {
			return sink.Message{}, err
		}
		m.Seq = uint64(seq)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan: %w", err)
	}
	return msgs, nil
}
