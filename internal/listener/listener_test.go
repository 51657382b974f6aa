package listener

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"

	"pendingScope/internal/model"
)

func TestSubscriptionCommands(t *testing.T) {
	sub := Subscription{
		Tier:         " Events ",
		Filters:      []string{`{"signature":"0xa9059cbb"}`},
		Methods:      []string{"swap"},
		Contract:     "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
		GasThreshold: 500000,
	}
	cmds, err := sub.Commands()
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	want := []string{
		"events",
		`{"signature":"0xa9059cbb"}`,
		`{"contract":"0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc","signature":36441503}`,
		`{"gasLimit":500000}`,
	}
	if strings.Join(cmds, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected commands:\n%s", strings.Join(cmds, "\n"))
	}
}

func TestSubscriptionContractOnly(t *testing.T) {
	cmds, err := Subscription{Contract: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"}.Commands()
	if err != nil {
		t.Fatalf("commands: %v", err)
	}
	if len(cmds) != 1 || cmds[0] != `{"contract":"0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"}` {
		t.Fatalf("unexpected commands %v", cmds)
	}
}

func TestSubscriptionRejectsInvalid(t *testing.T) {
	cases := []Subscription{
		{Tier: "verbose"},
		{Filters: []string{`{"contract":"0x12"}`}},
		{Methods: []string{"mint"}},
		{Contract: "pair"},
	}
	for i, sub := range cases {
		if _, err := sub.Commands(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

type memoryStorage struct {
	mu     sync.Mutex
	frames []model.Frame
	err    error
}

func (s *memoryStorage) PutFrames(_ context.Context, frames []model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, frames...)
	return nil
}

func (s *memoryStorage) snapshot() []model.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Frame(nil), s.frames...)
}

// pushServer accepts websocket connections, records the commands each one
// sends and replies with the configured frames before hanging up.
type pushServer struct {
	*httptest.Server
	frames   [][]byte
	mu       sync.Mutex
	commands [][]string
}

func newPushServer(t *testing.T, expectCommands int, frames ...[]byte) *pushServer {
	t.Helper()
	ps := &pushServer{frames: frames}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		var got []string
		for i := 0; i < expectCommands; i++ {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			got = append(got, string(data))
		}
		ps.mu.Lock()
		ps.commands = append(ps.commands, got)
		ps.mu.Unlock()
		for _, frame := range ps.frames {
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.URL, "http") + "/pending"
}

func (ps *pushServer) connections() [][]string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([][]string(nil), ps.commands...)
}

func filteredFrame(t *testing.T) []byte {
	t.Helper()
	pair := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	tx := types.NewTx(&types.LegacyTx{Gas: 300000, To: &pair, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
	swap := model.CallEvent{To: &pair, Gas: 200000, Input: append(common.FromHex("0x022c0d9f"), make([]byte, 128)...)}
	unknown := model.CallEvent{To: &pair, Gas: 1000, Input: common.FromHex("0xdeadbeef")}
	msg := model.NewFilterMatchMessage(model.NewPendingTransaction(tx, nil), []model.CallEvent{swap, unknown, swap}, nil)
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met")
}

func TestRunnerRecordsFramesAndReconnects(t *testing.T) {
	reply := []byte("Exception occurred while processing request: unknown command \"x\"")
	server := newPushServer(t, 2, filteredFrame(t), reply)
	store := &memoryStorage{}

	runner := NewRunner(RunConfig{
		URL:           server.url(),
		Endpoint:      "pending",
		Commands:      []string{"events", `{"signature":"0x022c0d9f"}`},
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
		RetryBackoff:  10 * time.Millisecond,
	}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	waitFor(t, func() bool { return len(server.connections()) >= 2 && len(store.snapshot()) >= 4 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	conns := server.connections()
	if got := strings.Join(conns[0], "|"); got != `events|{"signature":"0x022c0d9f"}` {
		t.Fatalf("unexpected commands %s", got)
	}

	frames := store.snapshot()
	filtered, replied := frames[0], frames[1]
	if filtered.Kind != model.FrameFiltered || filtered.Endpoint != "pending" {
		t.Fatalf("unexpected frame %+v", filtered)
	}
	if filtered.SessionID != runner.Session().String() || filtered.TxHash == "" {
		t.Fatalf("frame missing session or hash: %+v", filtered)
	}
	if len(filtered.Methods) != 1 || filtered.Methods[0] != "swap" {
		t.Fatalf("unexpected methods %v", filtered.Methods)
	}
	if replied.Kind != model.FrameReply {
		t.Fatalf("expected reply frame, got %s", replied.Kind)
	}
	var text string
	if err := json.Unmarshal(replied.Payload, &text); err != nil || text != string(reply) {
		t.Fatalf("reply payload should be a JSON string, got %s", replied.Payload)
	}
}

func TestRunnerStopsOnStorageError(t *testing.T) {
	server := newPushServer(t, 0, filteredFrame(t))
	store := &memoryStorage{err: errors.New("disk full")}

	runner := NewRunner(RunConfig{URL: server.url(), BatchSize: 1, RetryBackoff: 10 * time.Millisecond}, store, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := runner.Run(ctx)
	if !errors.Is(err, errStore) || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestRunnerGivesUpDialing(t *testing.T) {
	server := newPushServer(t, 0)
	url := server.url()
	server.Close()

	runner := NewRunner(RunConfig{URL: url, MaxRetries: 1, RetryBackoff: 5 * time.Millisecond}, &memoryStorage{}, nil)
	if err := runner.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "dial") {
		t.Fatalf("expected dial error, got %v", err)
	}
}
