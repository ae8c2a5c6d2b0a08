// Package bridge carries protocol messages between the background daemon and
// the page agents over a websocket. Either side may send requests; each
// request frame is answered by exactly one response frame with the same ID.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/dgnsrekt/cayt_agent/internal/protocol"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// ErrClosed is returned for requests on a closed connection.
var ErrClosed = errors.New("bridge: connection closed")

// HandlerFunc answers a request received from the peer.
type HandlerFunc func(ctx context.Context, msg protocol.Message) protocol.Response

// Conn is one end of a bridge connection.
type Conn struct {
	conn    net.Conn
	side    ws.State
	handler HandlerFunc

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.Response
	closed    bool

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(c net.Conn, side ws.State, h HandlerFunc) *Conn {
	if h == nil {
		h = func(context.Context, protocol.Message) protocol.Response {
			return protocol.ErrorResponse(protocol.NewError(protocol.CodeUnknownAction, "peer accepts no requests", nil))
		}
	}
	return &Conn{
		conn:    c,
		side:    side,
		handler: h,
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}
}

// bufferedConn drains bytes the handshake reader already buffered before
// reading from the socket.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// Dial opens a client connection to a bridge endpoint such as
// ws://127.0.0.1:8790/ws?tab_id=42.
func Dial(ctx context.Context, url string, h HandlerFunc) (*Conn, error) {
	conn, br, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("bridge: dial: %w", err)
	}
	var nc net.Conn = conn
	if br != nil {
		nc = &bufferedConn{Conn: conn, r: br}
	}
	slog.Debug("bridge connected", "url", url)
	return newConn(nc, ws.StateClientSide, h), nil
}

// Upgrade accepts a server-side connection from an HTTP request.
func Upgrade(r *http.Request, w http.ResponseWriter, h HandlerFunc) (*Conn, error) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("bridge: upgrade: %w", err)
	}
	return newConn(conn, ws.StateServerSide, h), nil
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down and fails in-flight requests.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.pendingMu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		err = c.conn.Close()
		close(c.done)
	})
	return err
}

// Serve reads frames until the connection fails or ctx ends. Incoming
// requests are handled concurrently with ctx.
func (c *Conn) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.Close()

	for {
		data, op, err := wsutil.ReadData(c.conn, c.side)
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			slog.Debug("bridge read loop exit", "error", err)
			return err
		}
		if op != ws.OpText {
			continue
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.malformed(data, err)
			continue
		}

		switch frame.Kind {
		case protocol.FrameResponse:
			c.resolve(frame)
		case protocol.FrameRequest:
			go c.answer(ctx, frame)
		default:
			slog.Warn("bridge rejected frame of unknown kind", "kind", frame.Kind, "id", frame.ID)
			c.reject(frame.ID, fmt.Sprintf("unknown frame kind %q", frame.Kind))
		}
	}
}

// malformed handles a frame that does not decode. When its id is still
// readable the peer gets an error response, or its own waiter is failed if
// the frame claims to be a response.
func (c *Conn) malformed(data []byte, err error) {
	var head struct {
		ID   string            `json:"id"`
		Kind protocol.FrameKind `json:"kind"`
	}
	if json.Unmarshal(data, &head) != nil || head.ID == "" {
		slog.Warn("bridge dropped malformed frame", "error", err)
		return
	}
	slog.Warn("bridge rejected malformed frame", "id", head.ID, "kind", head.Kind, "error", err)
	if head.Kind == protocol.FrameResponse {
		resp := protocol.ErrorResponse(protocol.NewError(protocol.CodeValidation, "malformed response frame", err))
		c.resolve(protocol.Frame{ID: head.ID, Kind: protocol.FrameResponse, Response: &resp})
		return
	}
	c.reject(head.ID, "malformed request frame")
}

func (c *Conn) reject(id, msg string) {
	if id == "" {
		return
	}
	resp := protocol.ErrorResponse(protocol.NewError(protocol.CodeValidation, msg, nil))
	if err := c.write(protocol.Frame{ID: id, Kind: protocol.FrameResponse, Response: &resp}); err != nil {
		slog.Debug("bridge rejection write failed", "id", id, "error", err)
	}
}

func (c *Conn) resolve(frame protocol.Frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[frame.ID]
	if ok {
		delete(c.pending, frame.ID)
	}
	c.pendingMu.Unlock()
	if !ok {
		slog.Debug("bridge response without waiter", "id", frame.ID)
		return
	}
	resp := protocol.Response{}
	if frame.Response != nil {
		resp = *frame.Response
	}
	ch <- resp
}

func (c *Conn) answer(ctx context.Context, frame protocol.Frame) {
	var resp protocol.Response
	if frame.Message == nil {
		resp = protocol.ErrorResponse(protocol.NewError(protocol.CodeValidation, "request frame has no message", nil))
	} else {
		resp = c.handler(ctx, *frame.Message)
	}
	out := protocol.Frame{ID: frame.ID, Kind: protocol.FrameResponse, Response: &resp}
	if err := c.write(out); err != nil {
		slog.Debug("bridge response write failed", "id", frame.ID, "error", err)
	}
}

// Request sends msg to the peer and waits for its response.
func (c *Conn) Request(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	id := uuid.NewString()
	ch := make(chan protocol.Response, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return protocol.Response{}, ErrClosed
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(protocol.Frame{ID: id, Kind: protocol.FrameRequest, Message: &msg}); err != nil {
		c.forget(id)
		return protocol.Response{}, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(id)
		return protocol.Response{}, ctx.Err()
	}
}

func (c *Conn) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Conn) write(frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("bridge: marshal: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := wsutil.WriteMessage(c.conn, c.side, ws.OpText, data); err != nil {
		return fmt.Errorf("bridge: write: %w", err)
	}
	return nil
}
