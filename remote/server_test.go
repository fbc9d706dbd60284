package remote

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	mpv "github.com/agiangrant/mpvclient"
	"github.com/agiangrant/mpvclient/internal/fakempv"
	"github.com/agiangrant/mpvclient/internal/ffi"
)

type testEnv struct {
	server *Server
	client *mpv.Client
	lib    *fakempv.Library
	http   *httptest.Server
}

func newTestServer(t *testing.T) testEnv {
	t.Helper()
	native := ffi.NewPageAllocator()
	staging := ffi.NewPageAllocator()
	lib := fakempv.New(native)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := mpv.New(mpv.WithLibrary(lib), mpv.WithAllocator(staging), mpv.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}
	s := New(c, WithLogger(logger), WithTracerName("test"))
	ts := httptest.NewServer(s)

	t.Cleanup(func() {
		s.Close()
		ts.Close()
		c.Close()
		lib.Close()
		if staging.Live() != 0 || native.Live() != 0 {
			t.Errorf("leaked blocks: staging %d, core %d", staging.Live(), native.Live())
		}
	})
	return testEnv{server: s, client: c, lib: lib, http: ts}
}

// pump publishes client events until the test ends.
func (env testEnv) pump(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.client.Listen(ctx, func(ev mpv.Event) error {
			env.server.Publish(ev)
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (env testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ipc"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial error = %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	deadline := time.Now().Add(time.Second)
	for env.server.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return ws
}

func decode[T any](t *testing.T, r io.Reader) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	return v
}

func TestGetProperty(t *testing.T) {
	env := newTestServer(t)

	resp, err := http.Get(env.http.URL + "/properties/volume")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body := decode[struct {
		Error string   `json:"error"`
		Data  mpv.Node `json:"data"`
	}](t, resp.Body)
	if body.Error != "success" || !body.Data.Equal(mpv.IntNode(100)) && !body.Data.Equal(mpv.DoubleNode(100)) {
		t.Errorf("body = %+v", body)
	}

	missing, err := http.Get(env.http.URL + "/properties/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", missing.StatusCode)
	}
	if got := decode[Response](t, missing.Body); got.Error != "property not found" {
		t.Errorf("error = %q", got.Error)
	}
}

func TestSetProperty(t *testing.T) {
	env := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, env.http.URL+"/properties/volume", strings.NewReader(`35.5`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if v, _ := mpv.GetProperty[float64](env.client, "volume"); v != 35.5 {
		t.Errorf("volume = %v", v)
	}

	req, _ = http.NewRequest(http.MethodPut, env.http.URL+"/properties/pause", strings.NewReader(`{not json`))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCommandEndpoint(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		error  string
		data   mpv.Node
	}{
		{"expand", `{"command": ["expand-text", "hi"], "request_id": 1}`, http.StatusOK, "success", mpv.StringNode("hi")},
		{"client name", `{"command": ["client_name"], "request_id": 2}`, http.StatusOK, "success", mpv.StringNode("main")},
		{"string property", `{"command": ["get_property_string", "pause"], "request_id": 3}`, http.StatusOK, "success", mpv.StringNode("no")},
		{"set property", `{"command": ["set_property", "speed", 2], "request_id": 4}`, http.StatusOK, "success", mpv.None},
		{"unknown command", `{"command": ["frobnicate"], "request_id": 5}`, http.StatusBadRequest, "invalid parameter", mpv.None},
		{"missing argument", `{"command": ["get_property"], "request_id": 6}`, http.StatusBadRequest, "invalid parameter", mpv.None},
		{"no command", `{"request_id": 7}`, http.StatusBadRequest, "invalid parameter", mpv.None},
		{"negative request id", `{"command": ["expand-text", "x"], "request_id": -1, "async": true}`, http.StatusBadRequest, "invalid parameter", mpv.None},
		{"negative observer id", `{"command": ["observe_property", -3, "pause"], "request_id": 8}`, http.StatusBadRequest, "invalid parameter", mpv.None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(env.http.URL+"/command", "application/json", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			got := decode[struct {
				RequestID int64    `json:"request_id"`
				Error     string   `json:"error"`
				Data      mpv.Node `json:"data"`
			}](t, resp.Body)
			if got.Error != tt.error {
				t.Errorf("error = %q, want %q", got.Error, tt.error)
			}
			if !got.Data.Equal(tt.data) {
				t.Errorf("data = %v, want %v", got.Data, tt.data)
			}
		})
	}

	if v, _ := mpv.GetProperty[float64](env.client, "speed"); v != 2 {
		t.Errorf("speed = %v, want 2", v)
	}
	if n := env.lib.Observers(env.client.Handle()); n != 0 {
		t.Errorf("%d observers registered by rejected requests", n)
	}
}

type wsMessage struct {
	RequestID *int64   `json:"request_id"`
	Error     string   `json:"error"`
	Data      mpv.Node `json:"data"`
	Event     string   `json:"event"`
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Args      []string `json:"args"`
}

func readUntil(t *testing.T, ws *websocket.Conn, match func(wsMessage) bool) wsMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON error = %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestIPCRequests(t *testing.T) {
	env := newTestServer(t)
	env.pump(t)
	ws := env.dial(t)

	if err := ws.WriteJSON(map[string]any{"command": []any{"get_property", "volume"}, "request_id": 10}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, ws, func(m wsMessage) bool { return m.RequestID != nil && *m.RequestID == 10 })
	if msg.Error != "success" {
		t.Errorf("error = %q", msg.Error)
	}
	if f, ok := msg.Data.Number(); !ok || f != 100 {
		t.Errorf("data = %v", msg.Data)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("garbage")); err != nil {
		t.Fatal(err)
	}
	msg = readUntil(t, ws, func(m wsMessage) bool { return m.Event == "" })
	if msg.Error != "invalid parameter" {
		t.Errorf("garbage: error = %q", msg.Error)
	}
}

func TestIPCAsyncCommand(t *testing.T) {
	env := newTestServer(t)
	env.pump(t)
	ws := env.dial(t)

	req := map[string]any{"command": []any{"expand-text", "later"}, "request_id": 42, "async": true}
	if err := ws.WriteJSON(req); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, ws, func(m wsMessage) bool { return m.RequestID != nil && *m.RequestID == 42 })
	if msg.Error != "success" || !msg.Data.Equal(mpv.StringNode("later")) {
		t.Errorf("async reply = %+v", msg)
	}
}

func TestIPCObserveAndEvents(t *testing.T) {
	env := newTestServer(t)
	env.pump(t)
	ws := env.dial(t)

	if err := ws.WriteJSON(map[string]any{"command": []any{"observe_property", 3, "pause"}, "request_id": 1}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, ws, func(m wsMessage) bool { return m.Event == "property-change" })
	if msg.ID != 3 || msg.Name != "pause" || !msg.Data.Equal(mpv.BoolNode(false)) {
		t.Errorf("property-change = %+v", msg)
	}

	if err := env.client.Command("script-message", "hello", "world"); err != nil {
		t.Fatal(err)
	}
	msg = readUntil(t, ws, func(m wsMessage) bool { return m.Event == "client-message" })
	if len(msg.Args) != 2 || msg.Args[0] != "hello" {
		t.Errorf("client-message = %+v", msg)
	}

	if err := ws.WriteJSON(map[string]any{"command": []any{"unobserve_property", 3}, "request_id": 2}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, ws, func(m wsMessage) bool { return m.RequestID != nil && *m.RequestID == 2 })
	if n := env.lib.Observers(env.client.Handle()); n != 0 {
		t.Errorf("%d observers left", n)
	}
}

func TestPublishIgnoresForeignReplies(t *testing.T) {
	env := newTestServer(t)
	ws := env.dial(t)

	// A reply id below the base belongs to another user of the client.
	if err := env.client.CommandAsync(7, "expand-text", "x"); err != nil {
		t.Fatal(err)
	}
	env.lib.Emit(env.client.Handle(), fakempv.EventSeek, 0, 0)
	for i := 0; i < 2; i++ {
		env.server.Publish(env.client.WaitEvent(time.Second))
	}

	msg := readUntil(t, ws, func(wsMessage) bool { return true })
	if msg.Event != "seek" {
		t.Errorf("first message = %+v, want the seek event", msg)
	}
}
