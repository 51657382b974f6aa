package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pendingScope/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "frames.jsonl")
	store := NewJsonlStorage(path)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	first := []model.Frame{{SessionID: "s", Endpoint: "pending", Kind: model.FrameTransaction, TxHash: "0x01", Payload: json.RawMessage(`{"hash":"0x01"}`), ReceivedAt: now}}
	second := []model.Frame{{SessionID: "s", Endpoint: "block", Kind: model.FrameBlock, BlockNumber: 9, Payload: json.RawMessage(`{"number":"0x9"}`), ReceivedAt: now}}
	if err := store.PutFrames(context.Background(), first); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutFrames(context.Background(), nil); err != nil {
		t.Fatalf("put empty: %v", err)
	}
	if err := store.PutFrames(context.Background(), second); err != nil {
		t.Fatalf("put: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.Frame
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var frame model.Frame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, frame)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].TxHash != "0x01" || string(got[0].Payload) != `{"hash":"0x01"}` {
		t.Fatalf("unexpected first frame %+v", got[0])
	}
	if got[1].Kind != model.FrameBlock || got[1].BlockNumber != 9 || !got[1].ReceivedAt.Equal(now) {
		t.Fatalf("unexpected second frame %+v", got[1])
	}
}
