package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"pendingScope/internal/model"
)

func TestFrameArgs(t *testing.T) {
	session := uuid.New()
	now := time.Now().UTC()

	args, err := frameArgs(model.Frame{
		SessionID:  session.String(),
		Endpoint:   "pending",
		Kind:       model.FrameFiltered,
		TxHash:     "0x01",
		Methods:    []string{"swap"},
		Payload:    json.RawMessage(`{"filterMatches":[]}`),
		ReceivedAt: now,
	})
	if err != nil {
		t.Fatalf("frame args: %v", err)
	}
	if args[0].(uuid.UUID) != session {
		t.Fatalf("unexpected session %v", args[0])
	}
	if hash := args[3].(*string); hash == nil || *hash != "0x01" {
		t.Fatalf("unexpected tx hash %v", args[3])
	}
	if args[4].(*int64) != nil {
		t.Fatalf("pending frame should have no block number")
	}
	if string(args[6].([]byte)) != `{"filterMatches":[]}` || args[7].(*string) != nil {
		t.Fatalf("json payload should be stored as jsonb")
	}

	args, err = frameArgs(model.Frame{SessionID: session.String(), Kind: model.FrameReply, Payload: json.RawMessage(`"Exception occurred"`), ReceivedAt: now})
	if err != nil {
		t.Fatalf("frame args: %v", err)
	}
	if args[6].([]byte) != nil || *args[7].(*string) != "Exception occurred" {
		t.Fatalf("reply should be stored as raw text")
	}
	if methods := args[5].([]string); methods == nil || len(methods) != 0 {
		t.Fatalf("methods should default to an empty array")
	}

	if _, err := frameArgs(model.Frame{SessionID: "not-a-uuid"}); err == nil {
		t.Fatalf("expected invalid session error")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("PUSHD_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PUSHD_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	session := uuid.NewString()
	frames := []model.Frame{
		{SessionID: session, Endpoint: "pending", Kind: model.FrameTransaction, TxHash: "0x01", Payload: json.RawMessage(`{"hash":"0x01"}`), ReceivedAt: time.Now()},
		{SessionID: session, Endpoint: "pending", Kind: model.FrameReply, Payload: json.RawMessage("Exception occurred"), ReceivedAt: time.Now()},
	}
	if err := store.PutFrames(ctx, frames); err != nil {
		t.Fatalf("put frames: %v", err)
	}

	var count int
	if err := store.pool.QueryRow(ctx, `SELECT count(*) FROM pending_frames WHERE session_id = $1`, session).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

func TestNewStoreRequiresDSN(t *testing.T) {
	if _, err := NewStore(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}
