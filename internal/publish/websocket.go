// Package publish streams ingest records to a websocket consumer.
package publish

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"dota-ingest/internal/ingest"
)

const writeTimeout = 10 * time.Second

// Message is the frame sent for every record
type Message struct {
	Type   string        `json:"type"`
	Record ingest.Record `json:"record"`
}

// WebSocketPublisher is an ingest.Sink that writes each record as a JSON text
// frame. The connection is dialed lazily and redialed once after a failed write.
type WebSocketPublisher struct {
	url    string
	header http.Header
	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	isConnected bool
	sent        int
}

// NewWebSocketPublisher creates a publisher for a ws:// or wss:// url
func NewWebSocketPublisher(url string, header http.Header) *WebSocketPublisher {
	return &WebSocketPublisher{
		url:    url,
		header: header,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// connect must be called with mu held
func (p *WebSocketPublisher) connect(ctx context.Context) error {
	if p.isConnected {
		return nil
	}

	conn, _, err := p.dialer.DialContext(ctx, p.url, p.header)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.url, err)
	}

	p.conn = conn
	p.isConnected = true
	go p.listen(conn)

	log.Printf("[Publish] Connected to %s", p.url)
	return nil
}

// listen drains incoming frames so control messages are processed, and marks
// the connection dead when the peer goes away.
func (p *WebSocketPublisher) listen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			p.mu.Lock()
			if p.conn == conn {
				p.isConnected = false
				p.conn = nil
			}
			p.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func (p *WebSocketPublisher) Emit(ctx context.Context, rec ingest.Record) error {
	data, err := json.Marshal(Message{Type: "record", Record: rec})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		if err = p.connect(ctx); err != nil {
			return err
		}
		if err = p.write(data); err == nil {
			p.sent++
			return nil
		}
		log.Printf("[Publish] Write failed, reconnecting: %v", err)
		p.drop()
	}
	return fmt.Errorf("failed to publish match %d: %w", rec.MatchID, err)
}

func (p *WebSocketPublisher) write(data []byte) error {
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// drop must be called with mu held
func (p *WebSocketPublisher) drop() {
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn = nil
	p.isConnected = false
}

// Sent returns the number of records written
func (p *WebSocketPublisher) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Close sends a close frame and closes the connection
func (p *WebSocketPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isConnected {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ingest finished")
	p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	p.drop()
	return nil
}
