package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cjls/internal/protocol"
)

// duplex is an in-memory ReadWriteCloser: reads from in, writes to out.
type duplex struct {
	in  io.Reader
	out *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (d *duplex) Read(p []byte) (int, error)  { return d.in.Read(p) }
func (d *duplex) Write(p []byte) (int, error) { return d.out.Write(p) }
func (d *duplex) Close() error                { return nil }

func frame(payload string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload)
}

func TestLoopDispatchesRequestsAndNotifications(t *testing.T) {
	input := frame(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`) +
		frame(`{"jsonrpc":"2.0","method":"initialized"}`)

	conn := New(&duplex{in: strings.NewReader(input), out: &lockedBuffer{}})
	var got []string
	result := conn.Loop(func(msg *protocol.Message) bool {
		got = append(got, msg.Method)
		return false
	})

	assert.Equal(t, AbnormalExit, result, "EOF without shutdown is abnormal")
	assert.Equal(t, []string{"initialize", "initialized"}, got)
}

func TestLoopStopsOnHandlerRequest(t *testing.T) {
	input := frame(`{"jsonrpc":"2.0","method":"exit"}`) +
		frame(`{"jsonrpc":"2.0","method":"never-seen"}`)

	conn := New(&duplex{in: strings.NewReader(input), out: &lockedBuffer{}})
	var seen int
	result := conn.Loop(func(msg *protocol.Message) bool {
		seen++
		return msg.Method == "exit"
	})

	assert.Equal(t, NormalExit, result)
	assert.Equal(t, 1, seen)
}

func TestLoopMalformedFrameIsIOErr(t *testing.T) {
	conn := New(&duplex{in: strings.NewReader("Content-Length: nope\r\n\r\n"), out: &lockedBuffer{}})
	result := conn.Loop(func(*protocol.Message) bool { return false })
	assert.Equal(t, IOErr, result)
}

func TestReplyWritesOneCompleteFrame(t *testing.T) {
	out := &lockedBuffer{}
	conn := New(&duplex{in: strings.NewReader(""), out: out})

	require.NoError(t, conn.Reply(json.RawMessage("7"), map[string]string{"ok": "yes"}, nil))

	written := out.String()
	require.True(t, strings.HasPrefix(written, "Content-Length: "))
	parts := strings.SplitN(written, "\r\n\r\n", 2)
	require.Len(t, parts, 2)

	var msg struct {
		JSONRPC string            `json:"jsonrpc"`
		ID      int               `json:"id"`
		Result  map[string]string `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(parts[1]), &msg))
	assert.Equal(t, "2.0", msg.JSONRPC)
	assert.Equal(t, 7, msg.ID)
	assert.Equal(t, "yes", msg.Result["ok"])
}

func TestReplyNilResultEncodesNull(t *testing.T) {
	out := &lockedBuffer{}
	conn := New(&duplex{in: strings.NewReader(""), out: out})
	require.NoError(t, conn.Reply(json.RawMessage("3"), nil, nil))
	assert.Contains(t, out.String(), `"result":null`)
}

func TestCallRoutesReplyToHandler(t *testing.T) {
	// Reply for the first outgoing call (id 1) arrives on the read side.
	input := frame(`{"jsonrpc":"2.0","id":1,"result":{"applied":true}}`)
	out := &lockedBuffer{}
	conn := New(&duplex{in: strings.NewReader(input), out: out})

	var mu sync.Mutex
	var gotResult json.RawMessage
	require.NoError(t, conn.Call("workspace/applyEdit", map[string]string{}, func(result json.RawMessage, err *protocol.ResponseError) {
		mu.Lock()
		defer mu.Unlock()
		gotResult = result
	}))

	conn.Loop(func(*protocol.Message) bool { return false })

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"applied":true}`, string(gotResult))
	assert.Contains(t, out.String(), `"method":"workspace/applyEdit"`)
}

func TestNotifyAfterCloseFails(t *testing.T) {
	conn := New(&duplex{in: strings.NewReader(""), out: &lockedBuffer{}})
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Notify("textDocument/publishDiagnostics", nil), ErrClosed)
}
