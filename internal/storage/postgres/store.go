package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pendingScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_frames (
	id           BIGSERIAL PRIMARY KEY,
	session_id   UUID        NOT NULL,
	endpoint     TEXT        NOT NULL,
	kind         TEXT        NOT NULL,
	tx_hash      TEXT,
	block_number BIGINT,
	methods      TEXT[]      NOT NULL DEFAULT '{}',
	payload      JSONB,
	raw          TEXT,
	received_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS pending_frames_tx_hash_idx ON pending_frames (tx_hash);
`

// Store persists received frames in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the frames table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutFrames inserts a batch of frames. Server replies are plain text and are
// kept in the raw column.
func (s *Store) PutFrames(ctx context.Context, frames []model.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, frame := range frames {
		args, err := frameArgs(frame)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO pending_frames (
				session_id, endpoint, kind, tx_hash, block_number, methods, payload, raw, received_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range frames {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert frame: %w", err)
		}
	}
	return nil
}

func frameArgs(frame model.Frame) ([]any, error) {
	session, err := uuid.Parse(frame.SessionID)
	if err != nil {
		return nil, fmt.Errorf("frame session id: %w", err)
	}
	var (
		txHash      *string
		blockNumber *int64
		payload     []byte
		raw         *string
	)
	if frame.TxHash != "" {
		txHash = &frame.TxHash
	}
	if frame.BlockNumber != 0 {
		n := int64(frame.BlockNumber)
		blockNumber = &n
	}
	if frame.Kind == model.FrameReply {
		var text string
		if err := json.Unmarshal(frame.Payload, &text); err != nil {
			text = string(frame.Payload)
		}
		raw = &text
	} else {
		payload = frame.Payload
	}
	methods := frame.Methods
	if methods == nil {
		methods = []string{}
	}
	return []any{session, frame.Endpoint, string(frame.Kind), txHash, blockNumber, methods, payload, raw, frame.ReceivedAt}, nil
}
