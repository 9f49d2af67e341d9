package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/critique"
	"github.com/MrWong99/parley/internal/turn"
	"github.com/MrWong99/parley/pkg/audio"
)

const ddl = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    id          UUID              PRIMARY KEY,
    started_at  TIMESTAMPTZ       NOT NULL,
    ended_at    TIMESTAMPTZ       NOT NULL,
    provider    TEXT              NOT NULL DEFAULT '',
    persona     JSONB             NOT NULL DEFAULT '{}',
    transcript  TEXT              NOT NULL DEFAULT '',
    energy      DOUBLE PRECISION  NOT NULL DEFAULT 0,
    pace        INTEGER           NOT NULL DEFAULT 0,
    elapsed_ms  BIGINT            NOT NULL DEFAULT 0,
    critique    JSONB
);

CREATE INDEX IF NOT EXISTS idx_practice_sessions_started_at
    ON practice_sessions (started_at DESC);

CREATE TABLE IF NOT EXISTS practice_turns (
    session_id   UUID         NOT NULL REFERENCES practice_sessions (id) ON DELETE CASCADE,
    seq          INTEGER      NOT NULL,
    turn_id      TEXT         NOT NULL,
    role         TEXT         NOT NULL,
    text         TEXT         NOT NULL DEFAULT '',
    at           TIMESTAMPTZ  NOT NULL,
    wav          BYTEA,
    PRIMARY KEY (session_id, seq)
);
`

// Migrate creates the history tables if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Postgres is a Store backed by PostgreSQL. It is safe for concurrent use.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to dsn, pings the server, and runs [Migrate].
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Ping reports whether the database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements [Store].
func (p *Postgres) Close() {
	p.pool.Close()
}

// Save implements [Store]. The session row and its turns are written in one
// transaction.
func (p *Postgres) Save(ctx context.Context, r *Record) error {
	persona, err := json.Marshal(r.Persona)
	if err != nil {
		return fmt.Errorf("history: encode persona: %w", err)
	}
	var crit []byte
	if r.Critique != nil {
		if crit, err = json.Marshal(r.Critique); err != nil {
			return fmt.Errorf("history: encode critique: %w", err)
		}
	}

	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO practice_sessions
			    (id, started_at, ended_at, provider, persona, transcript, energy, pace, elapsed_ms, critique)
			VALUES ($1::uuid, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10::jsonb)
			ON CONFLICT (id) DO UPDATE SET
			    started_at = EXCLUDED.started_at,
			    ended_at   = EXCLUDED.ended_at,
			    provider   = EXCLUDED.provider,
			    persona    = EXCLUDED.persona,
			    transcript = EXCLUDED.transcript,
			    energy     = EXCLUDED.energy,
			    pace       = EXCLUDED.pace,
			    elapsed_ms = EXCLUDED.elapsed_ms,
			    critique   = EXCLUDED.critique`
		if _, err := tx.Exec(ctx, upsert,
			r.ID.String(), r.StartedAt, r.EndedAt, r.Provider, persona, r.Transcript,
			r.Vocal.Energy, r.Vocal.Pace, r.Vocal.Elapsed.Milliseconds(), crit,
		); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM practice_turns WHERE session_id = $1::uuid`, r.ID.String()); err != nil {
			return fmt.Errorf("clear turns: %w", err)
		}

		const insertTurn = `
			INSERT INTO practice_turns (session_id, seq, turn_id, role, text, at, wav)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)`
		batch := &pgx.Batch{}
		for i, t := range r.Turns {
			var wav []byte
			if t.Audio != nil {
				wav = t.Audio.Bytes()
			}
			batch.Queue(insertTurn, r.ID.String(), i, t.ID, string(t.Role), t.Text, t.At, wav)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save turns: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

// Get implements [Store].
func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	const qSession = `
		SELECT started_at, ended_at, provider, persona, transcript, energy, pace, elapsed_ms, critique
		FROM   practice_sessions
		WHERE  id = $1::uuid`

	r := &Record{ID: id}
	var (
		persona, crit []byte
		elapsedMS     int64
	)
	err := p.pool.QueryRow(ctx, qSession, id.String()).Scan(
		&r.StartedAt, &r.EndedAt, &r.Provider, &persona, &r.Transcript,
		&r.Vocal.Energy, &r.Vocal.Pace, &elapsedMS, &crit,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get session: %w", err)
	}
	r.Vocal.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if err := json.Unmarshal(persona, &r.Persona); err != nil {
		return nil, fmt.Errorf("history: decode persona: %w", err)
	}
	if crit != nil {
		r.Critique = &critique.Critique{}
		if err := json.Unmarshal(crit, r.Critique); err != nil {
			return nil, fmt.Errorf("history: decode critique: %w", err)
		}
	}

	const qTurns = `
		SELECT turn_id, role, text, at, wav
		FROM   practice_turns
		WHERE  session_id = $1::uuid
		ORDER  BY seq`
	rows, err := p.pool.Query(ctx, qTurns, id.String())
	if err != nil {
		return nil, fmt.Errorf("history: get turns: %w", err)
	}
	r.Turns, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (turn.Turn, error) {
		var (
			t    turn.Turn
			role string
			wav  []byte
		)
		if err := row.Scan(&t.ID, &role, &t.Text, &t.At, &wav); err != nil {
			return t, err
		}
		t.Role = turn.Role(role)
		if len(wav) > 0 {
			clip, err := audio.ParseClip(wav)
			if err != nil {
				return t, fmt.Errorf("turn %s: %w", t.ID, err)
			}
			t.Audio = clip
		}
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan turns: %w", err)
	}
	return r, nil
}

// List implements [Store].
func (p *Postgres) List(ctx context.Context, limit int) ([]Summary, error) {
	q := `
		SELECT s.id::text, s.started_at, s.ended_at, s.persona, s.pace, s.critique,
		       (SELECT count(*) FROM practice_turns t WHERE t.session_id = s.id)
		FROM   practice_sessions s
		ORDER  BY s.started_at DESC`
	var args []any
	if limit > 0 {
		q += "\nLIMIT $1"
		args = append(args, limit)
	}

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Summary, error) {
		var (
			id            string
			persona, crit []byte
			r             Record
			turns         int64
		)
		if err := row.Scan(&id, &r.StartedAt, &r.EndedAt, &persona, &r.Vocal.Pace, &crit, &turns); err != nil {
			return Summary{}, err
		}
		var err error
		if r.ID, err = uuid.Parse(id); err != nil {
			return Summary{}, err
		}
		if err := json.Unmarshal(persona, &r.Persona); err != nil {
			return Summary{}, err
		}
		if crit != nil {
			r.Critique = &critique.Critique{}
			if err := json.Unmarshal(crit, r.Critique); err != nil {
				return Summary{}, err
			}
		}
		s := summarise(&r)
		s.Turns = int(turns)
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan list: %w", err)
	}
	return out, nil
}
