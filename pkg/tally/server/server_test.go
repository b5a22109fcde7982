package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chosenoffset/tally/pkg/tally"
	"github.com/chosenoffset/tally/pkg/tally/commands"
	"github.com/chosenoffset/tally/pkg/tally/parser"
)

const owner = "1001"

func newTestServer(t *testing.T, maxClients int) (*Server, *httptest.Server) {
	t.Helper()

	engine := tally.NewEngine()
	registry := commands.NewRegistry()
	require.NoError(t, commands.RegisterDefaults(registry, engine, ""))
	logger := log.New(io.Discard, "", 0)
	dispatcher := commands.NewDispatcher(registry, commands.NewAllowList(owner), "", logger)

	s := NewServer(engine, dispatcher, Options{MaxClients: maxClients, Logger: logger})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func post(t *testing.T, url, body string) (int, evaluateResponse) {
	t.Helper()
	resp, err := http.Post(url+"/api/evaluate", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out evaluateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestIndex(t *testing.T) {
	_, ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tally is running!", string(body))
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, 0)

	status, _ := post(t, ts.URL, `{"expression":"1+1"}`)
	require.Equal(t, http.StatusOK, status)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health struct {
		Status      string `json:"status"`
		Bot         string `json:"bot"`
		Goroutines  int    `json:"goroutines"`
		WSClients   int    `json:"ws_clients"`
		Evaluations struct {
			Total     int64 `json:"total"`
			Succeeded int64 `json:"succeeded"`
		} `json:"evaluations"`
		HTTP struct {
			RequestCount int64 `json:"request_count"`
		} `json:"http"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))

	assert.Equal(t, "alive", health.Status)
	assert.Equal(t, "running", health.Bot)
	assert.Positive(t, health.Goroutines)
	assert.Zero(t, health.WSClients)
	assert.Equal(t, int64(1), health.Evaluations.Total)
	assert.Equal(t, int64(1), health.Evaluations.Succeeded)
	assert.Equal(t, int64(1), health.HTTP.RequestCount)
}

func TestCommandsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/api/commands")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out struct {
		Commands []commandInfo `json:"commands"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Commands, 3)
	assert.Equal(t, "calc", out.Commands[0].Name)
	assert.Equal(t, []string{"c"}, out.Commands[0].Aliases)
	assert.Equal(t, ".calc [expression]", out.Commands[0].Usage)
}

func TestEvaluate(t *testing.T) {
	_, ts := newTestServer(t, 0)

	status, out := post(t, ts.URL, `{"expression":" 1000 * 1000 + 0.5 "}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1,000,000.5", out.Result)
	assert.Equal(t, "1000*1000+0.5", out.Expression)
	assert.Nil(t, out.Error)
}

func TestEvaluateErrors(t *testing.T) {
	_, ts := newTestServer(t, 0)

	tests := []struct {
		name    string
		body    string
		status  int
		kind    string
		message string
	}{
		{"bad json", `{"expression":`, http.StatusBadRequest, "BAD_REQUEST", "Invalid JSON request"},
		{"empty", `{"expression":"  "}`, http.StatusUnprocessableEntity, "EMPTY_EXPRESSION", "Error: Please provide an expression.\nExample: .calc 2+2"},
		{"invalid character", `{"expression":"2+x"}`, http.StatusUnprocessableEntity, "INVALID_CHARACTER", "Error: Invalid character 'x'.\nOnly numbers and + - * / ( ) . % are allowed."},
		{"malformed", `{"expression":"(1+2"}`, http.StatusUnprocessableEntity, "MALFORMED_SYNTAX", "Error: Invalid expression syntax.\nExample: .calc (10+5)*2"},
		{"division by zero", `{"expression":"1/0"}`, http.StatusUnprocessableEntity, "DIVISION_BY_ZERO", "Error: Division by zero is not allowed."},
		{"too long", `{"expression":"` + strings.Repeat("1", 300) + `"}`, http.StatusRequestEntityTooLarge, "LIMIT_EXCEEDED", "Error: Expression is too long."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := post(t, ts.URL, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, out.Error)
			assert.Equal(t, tt.kind, out.Error.Kind)
			assert.Equal(t, tt.message, out.Error.Message)
			assert.Empty(t, out.Result)
		})
	}
}

func TestEvaluateMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/api/evaluate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(v))
}

func TestWebSocketCalc(t *testing.T) {
	s, ts := newTestServer(t, 0)

	sender := dial(t, ts)
	watcher := dial(t, ts)
	require.Eventually(t, func() bool { return s.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sender.WriteJSON(commands.Message{SenderID: owner, Text: ".calc (10+5)*2"}))

	var reply Reply
	readJSON(t, sender, &reply)
	assert.Equal(t, "reply", reply.Type)
	assert.True(t, reply.Handled)
	assert.Equal(t, "calc", reply.Command)
	assert.Equal(t, "```\n🧮 (10+5)*2 = 30\n```", reply.Text)

	var event struct {
		Type string     `json:"type"`
		Data Evaluation `json:"data"`
	}
	readJSON(t, watcher, &event)
	assert.Equal(t, "evaluation", event.Type)
	assert.Equal(t, owner, event.Data.Sender)
	assert.Equal(t, "(10+5)*2", event.Data.Expression)
	assert.Equal(t, "30", event.Data.Result)
	assert.Empty(t, event.Data.Error)

	// The sender sees the broadcast too, after its reply.
	readJSON(t, sender, &event)
	assert.Equal(t, "evaluation", event.Type)
}

func TestWebSocketEvaluationError(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(commands.Message{SenderID: owner, Text: ".c 5%0"}))

	var reply Reply
	readJSON(t, conn, &reply)
	assert.Equal(t, "```\nError: Division by zero is not allowed.\n```", reply.Text)

	var event struct {
		Type string     `json:"type"`
		Data Evaluation `json:"data"`
	}
	readJSON(t, conn, &event)
	assert.Equal(t, "5%0", event.Data.Expression)
	assert.Contains(t, event.Data.Error, "modulo by zero")
	assert.Empty(t, event.Data.Result)
}

func TestWebSocketIgnoresStrangersAndText(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	for _, msg := range []commands.Message{
		{SenderID: "9999", Text: ".calc 1+1"},
		{SenderID: owner, Text: "hello"},
	} {
		require.NoError(t, conn.WriteJSON(msg))

		var reply Reply
		readJSON(t, conn, &reply)
		assert.Equal(t, "reply", reply.Type)
		assert.False(t, reply.Handled)
		assert.Empty(t, reply.Text)
	}

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var reply Reply
	readJSON(t, conn, &reply)
	assert.Equal(t, "error", reply.Type)
}

func TestWebSocketMaxClients(t *testing.T) {
	s, ts := newTestServer(t, 1)
	dial(t, ts)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	_, ts := newTestServer(t, 0)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCloseDisconnectsClients(t *testing.T) {
	s, ts := newTestServer(t, 0)
	conn := dial(t, ts)
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	s.Close()
	s.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Eventually(t, func() bool { return s.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeAndStop(t *testing.T) {
	var logs bytes.Buffer
	s := NewServer(tally.NewEngine(), nil, Options{Logger: log.New(&logs, "", 0)})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
	assert.Contains(t, logs.String(), "server: listening on")
}

func TestSameOrigin(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	assert.True(t, sameOrigin(r))

	r.Header.Set("Origin", "http://example.com")
	assert.True(t, sameOrigin(r))

	r.Header.Set("Origin", "http://other.com")
	assert.False(t, sameOrigin(r))

	r.Header.Set("Origin", "://bad")
	assert.False(t, sameOrigin(r))
}

func TestConcurrentEvaluateRequests(t *testing.T) {
	_, ts := newTestServer(t, 0)

	numGoroutines := 10
	requestsPerGoroutine := 20

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < requestsPerGoroutine; j++ {
				body := fmt.Sprintf(`{"expression":"%d*1000+%d"}`, id, j)
				resp, err := http.Post(ts.URL+"/api/evaluate", "application/json", strings.NewReader(body))
				if !assert.NoError(t, err) {
					return
				}
				var out evaluateResponse
				assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
				resp.Body.Close()
				assert.Equal(t, tally.Format(float64(id*1000+j)), out.Result)
			}
		}(i)
	}
	wg.Wait()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health struct {
		Evaluations struct {
			Succeeded int64 `json:"succeeded"`
		} `json:"evaluations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, int64(numGoroutines*requestsPerGoroutine), health.Evaluations.Succeeded)
}

func TestAddClientEnforcesCap(t *testing.T) {
	s := NewServer(tally.NewEngine(), nil, Options{MaxClients: 1, Logger: log.New(io.Discard, "", 0)})
	defer s.Close()

	first := &client{send: make(chan []byte, 1)}
	second := &client{send: make(chan []byte, 1)}

	assert.True(t, s.addClient(first))
	assert.False(t, s.addClient(second))
	assert.Equal(t, 1, s.ClientCount())

	s.removeClient(first)
	assert.True(t, s.addClient(second))
}

func TestSendToLogsDroppedReply(t *testing.T) {
	var logs bytes.Buffer
	s := NewServer(tally.NewEngine(), nil, Options{Logger: log.New(&logs, "", 0)})
	defer s.Close()
	s.replyWait = 20 * time.Millisecond

	c := &client{send: make(chan []byte, 1)}
	require.True(t, s.addClient(c))
	c.send <- []byte("queued")

	s.sendTo(c, Reply{Type: "reply", Text: "late"})

	assert.Len(t, c.send, 1)
	assert.Contains(t, logs.String(), "dropping reply")
}

func TestSendToWaitsForRoom(t *testing.T) {
	var logs bytes.Buffer
	s := NewServer(tally.NewEngine(), nil, Options{Logger: log.New(&logs, "", 0)})
	defer s.Close()
	s.replyWait = 2 * time.Second

	c := &client{send: make(chan []byte, 1)}
	require.True(t, s.addClient(c))
	c.send <- []byte("queued")

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-c.send
	}()

	s.sendTo(c, Reply{Type: "reply", Text: "on time"})

	select {
	case data := <-c.send:
		var reply Reply
		require.NoError(t, json.Unmarshal(data, &reply))
		assert.Equal(t, "on time", reply.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("reply was not queued")
	}
	assert.Empty(t, logs.String())
}

func TestErrorBodyUsesCommandPrefix(t *testing.T) {
	status, body := errorBody(parser.ErrMalformedSyntax, "!")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Error: Invalid expression syntax.\nExample: !calc (10+5)*2", body.Message)
}
