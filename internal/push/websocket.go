package push

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSource dials a WebSocket endpoint that sends one JSON envelope per
// text frame.
type WebSocketSource struct {
	URL    string
	Header http.Header
	// HeaderFunc, when set, is called on every dial and its headers are
	// added to Header. Credentials that change between reconnects go here.
	HeaderFunc func() http.Header
	Dialer     *websocket.Dialer
}

// Open dials the endpoint. The connection is closed when ctx is done.
func (s *WebSocketSource) Open(ctx context.Context) (Stream, error) {
	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, s.URL, s.dialHeader())
	if err != nil {
		return nil, fmt.Errorf("push: dialing %s: %w", s.URL, err)
	}
	ws := &wsStream{conn: conn, closed: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-ws.closed:
		}
	}()
	return ws, nil
}

func (s *WebSocketSource) dialHeader() http.Header {
	if s.HeaderFunc == nil {
		return s.Header
	}
	h := s.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	for k, vs := range s.HeaderFunc() {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	return h
}

type wsStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func (w *wsStream) Recv(ctx context.Context) (Message, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			select {
			case <-w.closed:
				return Message{}, ErrStreamClosed
			default:
			}
			return Message{}, fmt.Errorf("push: reading websocket: %w", err)
		}
		if kind != websocket.TextMessage {
			continue
		}
		return DecodeEnvelope(data)
	}
}

func (w *wsStream) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		deadline := time.Now().Add(time.Second)
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
