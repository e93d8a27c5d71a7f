// Package transport frames and unframes JSON-RPC messages over a byte duplex.
// Reads are single-threaded (the owning loop goroutine); writes serialize
// through one mutex so every outgoing frame is complete and ordered.
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"cjls/internal/logging"
	"cjls/internal/protocol"
)

// LoopResult is the exhaustive set of loop exit reasons.
type LoopResult int

const (
	// NormalExit: the handler requested a clean stop (exit after shutdown).
	NormalExit LoopResult = iota
	// AbnormalExit: the stream closed before a clean shutdown.
	AbnormalExit
	// IOErr: a read failed or a frame was malformed beyond recovery.
	IOErr
)

func (r LoopResult) String() string {
	switch r {
	case NormalExit:
		return "normal_exit"
	case AbnormalExit:
		return "abnormal_exit"
	case IOErr:
		return "io_err"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// ErrClosed is returned from writes after the connection closed.
var ErrClosed = errors.New("transport closed")

// Handler consumes one inbound request or notification.
// Returning stop=true ends the read loop with NormalExit.
type Handler func(msg *protocol.Message) (stop bool)

// ReplyHandler consumes the reply to an outgoing call.
type ReplyHandler func(result json.RawMessage, err *protocol.ResponseError)

// Conn is a framed JSON-RPC connection over an io.ReadWriteCloser.
type Conn struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	nextID  int64
	pending map[int64]ReplyHandler
}

// New wraps a duplex byte stream.
func New(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc:     rwc,
		reader:  bufio.NewReader(rwc),
		nextID:  1,
		pending: make(map[int64]ReplyHandler),
	}
}

// Loop reads frames until EOF, a fatal framing error, or the handler asks to
// stop. Replies to our own outgoing calls are routed to their reply handlers;
// everything else goes to handler.
func (c *Conn) Loop(handler Handler) LoopResult {
	for {
		payload, err := c.readFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe) {
				logging.Transport("read loop: stream closed")
				return AbnormalExit
			}
			logging.Get(logging.CategoryTransport).Error("read loop: %v", err)
			return IOErr
		}

		var msg protocol.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			logging.Get(logging.CategoryTransport).Error("malformed frame payload: %v", err)
			return IOErr
		}

		if msg.IsReply() {
			c.dispatchReply(&msg)
			continue
		}

		if handler(&msg) {
			logging.Transport("read loop: handler requested stop")
			return NormalExit
		}
	}
}

// readFrame reads one Content-Length framed payload.
func (c *Conn) readFrame() ([]byte, error) {
	contentLength := -1
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // end of headers
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("bad Content-Length %q: %w", v, err)
			}
			contentLength = n
		}
		// Other headers (Content-Type) are tolerated and ignored.
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("frame missing Content-Length header")
	}
	payload := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		return nil, err
	}
	logging.TransportDebug("read frame: %d bytes", contentLength)
	return payload, nil
}

// dispatchReply routes a reply to the handler registered by Call.
func (c *Conn) dispatchReply(msg *protocol.Message) {
	var id int64
	if msg.ID != nil {
		if err := json.Unmarshal(*msg.ID, &id); err != nil {
			logging.Get(logging.CategoryTransport).Warn("reply with non-numeric id: %s", string(*msg.ID))
			return
		}
	}
	c.mu.Lock()
	h, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		logging.Get(logging.CategoryTransport).Warn("reply for unknown id %d", id)
		return
	}
	h(msg.Result, msg.Error)
}

// Reply sends a result or error for the given request id.
// Exactly one of result/respErr should be set; a nil result with nil error
// encodes the feature-level null reply.
func (c *Conn) Reply(id json.RawMessage, result interface{}, respErr *protocol.ResponseError) error {
	msg := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(id),
	}
	if respErr != nil {
		msg["error"] = respErr
	} else {
		// result is always present on success, encoded null when empty.
		if result == nil {
			msg["result"] = json.RawMessage("null")
		} else {
			msg["result"] = result
		}
	}
	return c.writeFrame(msg)
}

// Notify sends a notification.
func (c *Conn) Notify(method string, params interface{}) error {
	return c.writeFrame(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// Call sends a request and registers a handler for its reply.
// The reader loop invokes the handler when the reply frame arrives.
func (c *Conn) Call(method string, params interface{}, onReply ReplyHandler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	id := c.nextID
	c.nextID++
	if onReply != nil {
		c.pending[id] = onReply
	}
	c.mu.Unlock()

	err := c.writeFrame(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}
	return err
}

// writeFrame marshals and writes one complete frame under the write mutex.
func (c *Conn) writeFrame(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := fmt.Fprintf(c.rwc, "Content-Length: %d\r\n\r\n", len(data)); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := c.rwc.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	logging.TransportDebug("wrote frame: %d bytes", len(data))
	return nil
}

// Close closes the underlying stream and drops pending reply handlers.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, h := range c.pending {
		delete(c.pending, id)
		go h(nil, protocol.NewError(protocol.CodeInternalError, "connection closed"))
	}
	c.mu.Unlock()
	return c.rwc.Close()
}
