package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-relay/internal/config"
	"github.com/loqalabs/loqa-relay/internal/protocol"
	_ "modernc.org/sqlite"
)

// Exchange is the persisted summary of one request. Conversation text is
// never stored.
type Exchange struct {
	ExchangeID       string
	TraceID          string
	Status           string
	ErrorKind        string
	ErrorStage       string
	UploadBytes      int
	UploadSuffix     string
	UploadDurationMS float64
	ReplyAudioBytes  int
	TranscriptChars  int
	ReplyChars       int
	FallbackPrompt   bool
	FallbackReply    bool
	DurationMS       float64
	CreatedAt        time.Time
}

// StageEvent is one timed pipeline stage of an exchange.
type StageEvent struct {
	ID         int64
	ExchangeID string
	Stage      string
	DurationMS float64
	OK         bool
}

// Store wraps a SQLite-backed exchange timeline.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the event store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS exchanges (
    exchange_id TEXT PRIMARY KEY,
    trace_id TEXT,
    status TEXT NOT NULL,
    error_kind TEXT,
    error_stage TEXT,
    upload_bytes INTEGER NOT NULL DEFAULT 0,
    upload_suffix TEXT,
    upload_duration_ms REAL,
    reply_audio_bytes INTEGER NOT NULL DEFAULT 0,
    transcript_chars INTEGER NOT NULL DEFAULT 0,
    reply_chars INTEGER NOT NULL DEFAULT 0,
    fallback_prompt INTEGER NOT NULL DEFAULT 0,
    fallback_reply INTEGER NOT NULL DEFAULT 0,
    duration_ms REAL,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stage_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    exchange_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    duration_ms REAL,
    ok INTEGER NOT NULL,
    FOREIGN KEY(exchange_id) REFERENCES exchanges(exchange_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at);
CREATE INDEX IF NOT EXISTS idx_stage_events_exchange ON stage_events(exchange_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Enabled reports whether exchanges are persisted.
func (s *Store) Enabled() bool {
	return s.cfg.RetentionMode != "ephemeral" && s.db != nil
}

// AppendExchange writes the exchange and its stage timings in one transaction.
func (s *Store) AppendExchange(ctx context.Context, evt protocol.ExchangeEvent) (err error) {
	if !s.Enabled() {
		return nil
	}
	created := evt.StartedAt
	if created.IsZero() {
		created = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exchanges(exchange_id, trace_id, status, error_kind, error_stage, upload_bytes, upload_suffix,
		    upload_duration_ms, reply_audio_bytes, transcript_chars, reply_chars, fallback_prompt, fallback_reply,
		    duration_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ExchangeID, evt.TraceID, evt.Status, evt.ErrorKind, evt.ErrorStage, evt.UploadBytes, evt.UploadSuffix,
		evt.UploadDurationMS, evt.ReplyAudioBytes, evt.TranscriptChars, evt.ReplyChars, evt.FallbackPrompt,
		evt.FallbackReply, evt.DurationMS, created.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	for _, st := range evt.Stages {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stage_events(exchange_id, stage, duration_ms, ok) VALUES(?, ?, ?, ?)`,
			evt.ExchangeID, st.Stage, st.DurationMS, st.OK)
		if err != nil {
			return fmt.Errorf("insert stage event: %w", err)
		}
	}
	err = tx.Commit()
	return err
}

// ObserveExchange records the exchange; failures are logged, never returned.
func (s *Store) ObserveExchange(ctx context.Context, evt protocol.ExchangeEvent) {
	if err := s.AppendExchange(ctx, evt); err != nil {
		s.log.Warn("failed to record exchange",
			slog.String("exchange_id", evt.ExchangeID),
			slog.String("error", err.Error()))
	}
}

// ListExchanges returns up to limit exchanges, newest first.
func (s *Store) ListExchanges(ctx context.Context, limit int) ([]Exchange, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT exchange_id, COALESCE(trace_id, ''), status, COALESCE(error_kind, ''), COALESCE(error_stage, ''),
		    upload_bytes, COALESCE(upload_suffix, ''), COALESCE(upload_duration_ms, 0), reply_audio_bytes,
		    transcript_chars, reply_chars, fallback_prompt, fallback_reply, COALESCE(duration_ms, 0), created_at
		 FROM exchanges ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var e Exchange
		var created int64
		if err := rows.Scan(&e.ExchangeID, &e.TraceID, &e.Status, &e.ErrorKind, &e.ErrorStage,
			&e.UploadBytes, &e.UploadSuffix, &e.UploadDurationMS, &e.ReplyAudioBytes,
			&e.TranscriptChars, &e.ReplyChars, &e.FallbackPrompt, &e.FallbackReply, &e.DurationMS, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListStageEvents returns the stage timings of an exchange in execution order.
func (s *Store) ListStageEvents(ctx context.Context, exchangeID string) ([]StageEvent, error) {
	if !s.Enabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exchange_id, stage, COALESCE(duration_ms, 0), ok
		 FROM stage_events WHERE exchange_id = ? ORDER BY id ASC`, exchangeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StageEvent
	for rows.Next() {
		var e StageEvent
		if err := rows.Scan(&e.ID, &e.ExchangeID, &e.Stage, &e.DurationMS, &e.OK); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune applies configured retention (called on startup and by RunPruner).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM exchanges WHERE created_at < ?`, cutoff.UTC().UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxExchanges > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM exchanges WHERE exchange_id IN (
			SELECT exchange_id FROM exchanges ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxExchanges)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// RunPruner prunes on every tick until ctx is done.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration) {
	if !s.Enabled() || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Ensure checks that an ephemeral store holds no database connection.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
