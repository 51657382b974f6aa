package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pendingScope/internal/methods"
	"pendingScope/internal/model"
	"pendingScope/internal/retry"
	"pendingScope/internal/storage"
)

const writeTimeout = 10 * time.Second

var errStore = errors.New("store frames")

// RunConfig holds runtime settings for the listener.
type RunConfig struct {
	URL           string
	Endpoint      string
	Commands      []string
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	// MaxBackoff caps the delay between reconnects.
	MaxBackoff time.Duration
}

// Runner streams frames from a push endpoint and writes them to storage.
type Runner struct {
	cfg     RunConfig
	storage storage.Storage
	logger  *zap.Logger
	session uuid.UUID
	dialer  *websocket.Dialer
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, storageSink storage.Storage, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Runner{
		cfg:     cfg,
		storage: storageSink,
		logger:  logger,
		session: uuid.New(),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
}

// Session identifies this run in stored frames.
func (r *Runner) Session() uuid.UUID {
	return r.session
}

// Run connects and records frames until ctx is done. Lost connections are
// re-established with exponential backoff.
func (r *Runner) Run(ctx context.Context) error {
	if r.storage == nil {
		return fmt.Errorf("storage is nil")
	}
	if r.cfg.URL == "" {
		return fmt.Errorf("url is required")
	}

	backoff := retry.Backoff{Base: r.cfg.RetryBackoff, Max: r.cfg.MaxBackoff}
	for {
		ws, err := r.dialWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		backoff.Reset()
		err = r.stream(ctx, ws)
		if errors.Is(err, errStore) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		delay := backoff.Next()
		r.logger.Warn("connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		if retry.Sleep(ctx, delay) != nil {
			return nil
		}
	}
}

func (r *Runner) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var ws *websocket.Conn
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		conn, _, err := r.dialer.DialContext(ctx, r.cfg.URL, nil)
		if err != nil {
			r.logger.Warn("dial failed", zap.String("url", r.cfg.URL), zap.Error(err))
			return err
		}
		ws = conn
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.cfg.URL, err)
	}
	return ws, nil
}

type received struct {
	data []byte
	at   time.Time
}

// stream sends the subscription commands and records frames until the
// connection fails or ctx is done. Frames already received are flushed
// before returning.
func (r *Runner) stream(ctx context.Context, ws *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = ws.Close()
	})
	defer stop()
	defer ws.Close()

	for _, cmd := range r.cfg.Commands {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
			return fmt.Errorf("send command: %w", err)
		}
	}
	r.logger.Info("listening",
		zap.String("url", r.cfg.URL),
		zap.String("session", r.session.String()),
		zap.Int("commands", len(r.cfg.Commands)),
	)

	done := make(chan struct{})
	defer close(done)
	frames := make(chan received, r.cfg.BatchSize)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- received{data: data, at: time.Now()}:
			case <-done:
				return
			}
		}
	}()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.Frame, 0, r.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.storage.PutFrames(context.WithoutCancel(ctx), batch); err != nil {
			return fmt.Errorf("%w: %w", errStore, err)
		}
		r.logger.Debug("batch stored", zap.Int("frames", len(batch)))
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case msg := <-frames:
			batch = append(batch, r.frame(msg))
			if len(batch) >= r.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case err := <-readErr:
			for drained := false; !drained; {
				select {
				case msg := <-frames:
					batch = append(batch, r.frame(msg))
				default:
					drained = true
				}
			}
			if flushErr := flush(); flushErr != nil {
				return flushErr
			}
			return err
		}
	}
}

// frame normalizes a received message and names the catalog methods its
// filter matches called.
func (r *Runner) frame(msg received) model.Frame {
	frame := model.Frame{
		SessionID:  r.session.String(),
		Endpoint:   r.cfg.Endpoint,
		Payload:    json.RawMessage(msg.data),
		ReceivedAt: msg.at.UTC(),
	}
	matches := model.ClassifyFrame(&frame)
	if frame.Kind == model.FrameReply {
		r.logger.Warn("server reply", zap.String("reply", string(msg.data)))
		frame.Payload, _ = json.Marshal(string(msg.data))
		return frame
	}

	seen := make(map[string]struct{})
	for _, call := range matches {
		method, ok := methods.Identify(call.Input)
		if !ok {
			continue
		}
		if _, dup := seen[method.Name]; dup {
			continue
		}
		seen[method.Name] = struct{}{}
		frame.Methods = append(frame.Methods, method.Name)
	}
	return frame
}
