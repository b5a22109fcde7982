package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/chosenoffset/tally/pkg/tally/commands"
)

// Reply is sent only to the client whose message produced it.
type Reply struct {
	Type    string `json:"type"`
	Command string `json:"command,omitempty"`
	Text    string `json:"text"`
	Handled bool   `json:"handled"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.ClientCount() >= s.maxClients {
		http.Error(w, "Maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("server: websocket upgrade error: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	if !s.addClient(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Maximum clients reached"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go s.writePump(c)
	s.readPump(c)
}

// readPump dispatches incoming messages until the connection closes. It owns
// removal of the client.
func (s *Server) readPump(c *client) {
	defer func() {
		s.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxRequestBody)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Printf("server: websocket read error: %v", err)
			}
			return
		}

		var msg commands.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendTo(c, Reply{Type: "error", Text: "Invalid JSON message"})
			continue
		}

		s.handleMessage(c, msg)
	}
}

func (s *Server) handleMessage(c *client, msg commands.Message) {
	if s.dispatcher == nil {
		s.sendTo(c, Reply{Type: "reply", Handled: false})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	reply, handled := s.dispatcher.Dispatch(ctx, msg)
	s.sendTo(c, Reply{Type: "reply", Command: reply.Command, Text: reply.Text, Handled: handled})

	if handled && reply.Command == "calc" {
		ev := Evaluation{
			Timestamp:  time.Now(),
			Sender:     msg.SenderID,
			Expression: commandArgs(msg.Text),
		}
		if reply.Err != nil {
			ev.Error = reply.Err.Error()
		} else {
			ev.Result = reply.Result
		}
		s.Publish(Event{Type: "evaluation", Data: ev})
	}
}

// writePump is the only writer on the connection.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.stop:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

func (s *Server) broadcast() {
	for {
		select {
		case event := <-s.events:
			s.broadcastMessage(event)
		case <-s.stop:
			return
		}
	}
}

func (s *Server) broadcastMessage(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Printf("server: error marshaling message: %v", err)
		return
	}

	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Slow client; its buffer is full so this event is skipped for it.
		}
	}
}

// sendTo queues a direct reply for c, waiting up to replyWait for room in its
// buffer. It must only be called from c's readPump: that goroutine is also the
// only one that removes c, so c.send stays open for the duration.
func (s *Server) sendTo(c *client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Printf("server: error marshaling reply: %v", err)
		return
	}

	s.clientsMutex.RLock()
	registered := s.clients[c]
	s.clientsMutex.RUnlock()
	if !registered {
		return
	}

	select {
	case c.send <- data:
		return
	default:
	}

	timer := time.NewTimer(s.replyWait)
	defer timer.Stop()

	select {
	case c.send <- data:
	case <-timer.C:
		s.logger.Printf("server: client buffer full, dropping reply")
	case <-s.stop:
	}
}

// addClient registers c unless the server is at capacity.
func (s *Server) addClient(c *client) bool {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	if len(s.clients) >= s.maxClients {
		return false
	}
	s.clients[c] = true
	return true
}

func (s *Server) removeClient(c *client) {
	s.clientsMutex.Lock()
	defer s.clientsMutex.Unlock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
}

// commandArgs returns the text after the command name.
func commandArgs(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		return strings.TrimSpace(text[i:])
	}
	return ""
}
