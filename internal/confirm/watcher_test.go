package confirm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/midl-xyz/load-test/internal/rpc"
	"github.com/midl-xyz/load-test/internal/rpc/rpctest"
)

func TestWaitViaPolling(t *testing.T) {
	fake := &rpctest.Fake{AutoConfirm: 1}
	handle, err := fake.SubmitBatch(context.Background(), [][]byte{{0x01}})
	if err != nil {
		t.Fatalf("SubmitBatch() error: %v", err)
	}

	w := NewWatcher(Config{
		Client:       fake,
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
	})
	defer w.Close()

	if err := w.Wait(context.Background(), handle, 1); err != nil {
		t.Errorf("Wait() error: %v", err)
	}
}

func TestWaitTimesOutForUnknownHandle(t *testing.T) {
	fake := &rpctest.Fake{}
	w := NewWatcher(Config{
		Client:       fake,
		PollInterval: 5 * time.Millisecond,
		Timeout:      50 * time.Millisecond,
	})
	defer w.Close()

	err := w.Wait(context.Background(), "never-submitted", 1)
	if err == nil {
		t.Fatal("Wait() succeeded for a handle the backend never saw")
	}
}

func TestWaitViaWebSocketEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(rw, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		// Consume the subscribe message, then push a confirmation.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		ev, _ := json.Marshal(Event{Handle: "h1", Confirmations: 1})
		conn.WriteMessage(websocket.TextMessage, ev)

		// Keep the connection open until the client goes away.
		conn.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	// Client with no polling result: only the WS event can satisfy the wait.
	fake := &rpctest.Fake{}
	w := NewWatcher(Config{
		Client:       fake,
		WSURL:        wsURL,
		PollInterval: time.Minute,
		Timeout:      2 * time.Second,
	})
	defer w.Close()

	if err := w.Wait(context.Background(), "h1", 1); err != nil {
		t.Errorf("Wait() error: %v", err)
	}
}

func TestWaitFailedSubmission(t *testing.T) {
	fake := &rpctest.Fake{}
	fake.SubmitFn = nil
	// Inject a failed status through a custom client.
	failed := &failingClient{Fake: fake}

	w := NewWatcher(Config{
		Client:       failed,
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
	})
	defer w.Close()

	err := w.Wait(context.Background(), "h-dead", 1)
	if err == nil || !strings.Contains(err.Error(), "rejected") {
		t.Errorf("Wait() error = %v, want submission failure reason", err)
	}
}

type failingClient struct {
	*rpctest.Fake
}

func (c *failingClient) GetSubmission(ctx context.Context, handle string) (*rpc.SubmissionStatus, error) {
	return &rpc.SubmissionStatus{Handle: handle, Failed: true, Reason: "rejected"}, nil
}
