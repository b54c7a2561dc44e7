// Package confirm waits for submitted batches to reach a confirmation
// depth, preferring pushed WebSocket events and falling back to RPC
// polling.
package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/midl-xyz/load-test/internal/rpc"
)

// Waiter blocks until a submission reaches a confirmation depth.
type Waiter interface {
	Wait(ctx context.Context, handle string, minConfirmations int) error
}

// Event is a confirmation notification pushed by the backend.
type Event struct {
	Handle        string `json:"handle"`
	Confirmations int    `json:"confirmations"`
	Failed        bool   `json:"failed"`
	Reason        string `json:"reason,omitempty"`
}

// Config for creating a Watcher.
type Config struct {
	Client rpc.Client

	// WSURL is the backend's confirmation event feed. Empty disables
	// the push path; the watcher then polls only.
	WSURL string

	// PollInterval is the fallback polling cadence (default 500ms).
	PollInterval time.Duration

	// Timeout bounds a single Wait call (default 2m).
	Timeout time.Duration

	Logger *slog.Logger
}

// Watcher implements Waiter.
type Watcher struct {
	client       rpc.Client
	wsURL        string
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	waiters map[string][]chan Event
	done    chan struct{}
	closed  bool
}

// NewWatcher creates a Watcher and, when a WS URL is configured, starts
// its event loop.
func NewWatcher(cfg Config) *Watcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	w := &Watcher{
		client:       cfg.Client,
		wsURL:        cfg.WSURL,
		pollInterval: pollInterval,
		timeout:      timeout,
		logger:       logger,
		waiters:      make(map[string][]chan Event),
		done:         make(chan struct{}),
	}

	if w.wsURL != "" {
		go w.eventLoop()
	}

	return w
}

// Close stops the event loop.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.done)
	}
}

// Wait blocks until the submission reaches minConfirmations, the
// submission fails, or the wait times out.
func (w *Watcher) Wait(ctx context.Context, handle string, minConfirmations int) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	events := w.subscribe(handle)
	defer w.unsubscribe(handle, events)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for confirmation of %s: %w", handle, ctx.Err())

		case ev := <-events:
			if ev.Failed {
				return fmt.Errorf("submission %s failed: %s", handle, ev.Reason)
			}
			if ev.Confirmations >= minConfirmations {
				return nil
			}

		case <-ticker.C:
			status, err := w.client.GetSubmission(ctx, handle)
			if err != nil {
				w.logger.Debug("confirmation poll failed",
					slog.String("handle", handle),
					slog.String("error", err.Error()),
				)
				continue
			}
			if status == nil {
				continue // Not known yet
			}
			if status.Failed {
				return fmt.Errorf("submission %s failed: %s", handle, status.Reason)
			}
			if status.Confirmations >= minConfirmations {
				return nil
			}
		}
	}
}

func (w *Watcher) subscribe(handle string) chan Event {
	ch := make(chan Event, 4)
	w.mu.Lock()
	w.waiters[handle] = append(w.waiters[handle], ch)
	w.mu.Unlock()
	return ch
}

func (w *Watcher) unsubscribe(handle string, ch chan Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	chans := w.waiters[handle]
	for i, c := range chans {
		if c == ch {
			w.waiters[handle] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(w.waiters[handle]) == 0 {
		delete(w.waiters, handle)
	}
}

// deliver fans an event out to its handle's waiters.
func (w *Watcher) deliver(ev Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.waiters[ev.Handle] {
		select {
		case ch <- ev:
		default: // Waiter is slow; it will catch up via polling
		}
	}
}

// eventLoop dials the confirmation feed and redials on drop.
func (w *Watcher) eventLoop() {
	redialDelay := time.Second

	for {
		select {
		case <-w.done:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(w.wsURL, nil)
		if err != nil {
			w.logger.Debug("confirmation feed dial failed, will retry",
				slog.String("url", w.wsURL),
				slog.String("error", err.Error()),
			)
			select {
			case <-w.done:
				return
			case <-time.After(redialDelay):
			}
			continue
		}

		if err := conn.WriteJSON(map[string]string{"subscribe": "confirmations"}); err != nil {
			w.logger.Debug("confirmation subscribe failed", slog.String("error", err.Error()))
			conn.Close()
			continue
		}

		w.logger.Debug("confirmation feed connected", slog.String("url", w.wsURL))
		w.readLoop(conn)
		conn.Close()
	}
}

func (w *Watcher) readLoop(conn *websocket.Conn) {
	// Close the connection when the watcher shuts down so ReadMessage
	// unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-w.done:
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Debug("confirmation feed read error", slog.String("error", err.Error()))
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			w.logger.Debug("malformed confirmation event", slog.String("error", err.Error()))
			continue
		}
		w.deliver(ev)
	}
}
