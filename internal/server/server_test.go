package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cjls/internal/protocol"
	"cjls/internal/transport"
)

// wireClient drives a server over an in-memory duplex: frames written to the
// pipe reach the server's read loop; server writes are re-framed into a
// message channel.
type wireClient struct {
	t      *testing.T
	w      *io.PipeWriter
	msgs   chan *protocol.Message
	result chan transport.LoopResult
	nextID int64
}

// serverEnd is the io.ReadWriteCloser handed to the server.
type serverEnd struct {
	r *io.PipeReader
	c *frameCollector
}

func (e *serverEnd) Read(p []byte) (int, error)  { return e.r.Read(p) }
func (e *serverEnd) Write(p []byte) (int, error) { return e.c.Write(p) }
func (e *serverEnd) Close() error                { return e.r.Close() }

// frameCollector re-parses the server's outgoing byte stream into messages.
type frameCollector struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	msgs chan *protocol.Message
}

func (c *frameCollector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Write(p)
	for {
		data := c.buf.Bytes()
		sep := bytes.Index(data, []byte("\r\n\r\n"))
		if sep < 0 {
			return len(p), nil
		}
		header := string(data[:sep])
		var length int
		for _, line := range strings.Split(header, "\r\n") {
			if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
				length, _ = strconv.Atoi(strings.TrimSpace(v))
			}
		}
		total := sep + 4 + length
		if len(data) < total {
			return len(p), nil
		}
		payload := make([]byte, length)
		copy(payload, data[sep+4:total])
		c.buf.Next(total)

		var msg protocol.Message
		if err := json.Unmarshal(payload, &msg); err == nil {
			c.msgs <- &msg
		}
	}
}

// startServer lays root files on disk, boots a server and returns the client.
func startServer(t *testing.T, files map[string]string) (*wireClient, string) {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	pr, pw := io.Pipe()
	collector := &frameCollector{msgs: make(chan *protocol.Message, 256)}
	srv := New(&serverEnd{r: pr, c: collector}, Options{
		CacheRoot:       t.TempDir(),
		CompilerVersion: "test",
		TestMode:        true,
	})

	client := &wireClient{
		t:      t,
		w:      pw,
		msgs:   collector.msgs,
		result: make(chan transport.LoopResult, 1),
		nextID: 1,
	}
	go func() { client.result <- srv.Run() }()
	return client, root
}

// send writes one framed message.
func (c *wireClient) send(msg map[string]interface{}) {
	c.t.Helper()
	msg["jsonrpc"] = "2.0"
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	_, err = fmt.Fprintf(c.w, "Content-Length: %d\r\n\r\n%s", len(data), data)
	require.NoError(c.t, err)
}

// call sends a request and returns its id.
func (c *wireClient) call(method string, params interface{}) int64 {
	id := c.nextID
	c.nextID++
	c.send(map[string]interface{}{"id": id, "method": method, "params": params})
	return id
}

func (c *wireClient) notify(method string, params interface{}) {
	c.send(map[string]interface{}{"method": method, "params": params})
}

// waitFor drains messages until pred matches; unmatched messages are skipped.
func (c *wireClient) waitFor(pred func(*protocol.Message) bool) *protocol.Message {
	c.t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg := <-c.msgs:
			if pred(msg) {
				return msg
			}
		case <-deadline:
			c.t.Fatal("timed out waiting for message")
			return nil
		}
	}
}

// waitReply waits for the response to a request id.
func (c *wireClient) waitReply(id int64) *protocol.Message {
	c.t.Helper()
	return c.waitFor(func(m *protocol.Message) bool {
		if m.ID == nil || m.Method != "" {
			return false
		}
		var got int64
		return json.Unmarshal(*m.ID, &got) == nil && got == id
	})
}

// initialize performs the handshake against root with the given options.
func (c *wireClient) initialize(root string, opts map[string]interface{}) {
	c.t.Helper()
	id := c.call("initialize", map[string]interface{}{
		"rootUri":               string(protocol.PathToURI(root)),
		"initializationOptions": opts,
	})
	reply := c.waitReply(id)
	require.Nil(c.t, reply.Error)
	c.notify("initialized", map[string]interface{}{})
}

func (c *wireClient) didOpen(path, text string, version int64) {
	c.notify("textDocument/didOpen", map[string]interface{}{
		"textDocument": map[string]interface{}{
			"uri":        string(protocol.PathToURI(path)),
			"languageId": "cangjie",
			"version":    version,
			"text":       text,
		},
	})
}

// waitDiagnostics waits for a publish for the given file.
func (c *wireClient) waitDiagnostics(path string) protocol.PublishDiagnosticsParams {
	c.t.Helper()
	uri := string(protocol.PathToURI(path))
	msg := c.waitFor(func(m *protocol.Message) bool {
		if !strings.Contains(m.Method, "ublishDiagnostics") {
			return false
		}
		var p protocol.PublishDiagnosticsParams
		return json.Unmarshal(m.Params, &p) == nil && string(p.URI) == uri
	})
	var p protocol.PublishDiagnosticsParams
	require.NoError(c.t, json.Unmarshal(msg.Params, &p))
	return p
}

func posParams(path string, line, char int) map[string]interface{} {
	return map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": string(protocol.PathToURI(path))},
		"position":     map[string]interface{}{"line": line, "character": char},
	}
}

// ---------------------------------------------------------------------------
// Scenario a: open -> definition across files.
// ---------------------------------------------------------------------------

func TestOpenThenDefinition(t *testing.T) {
	client, root := startServer(t, map[string]string{
		"a.cj": "package demo\nfunc f() { g() }\n",
		"g.cj": "package demo\nfunc g() {}\n",
	})
	client.initialize(root, nil)

	aPath := filepath.Join(root, "a.cj")
	client.didOpen(aPath, "package demo\nfunc f() { g() }\n", 1)
	client.waitDiagnostics(aPath)

	// Position of the `g` call on line 1: "func f() { g() }".
	id := client.call("textDocument/definition", posParams(aPath, 1, 11))
	reply := client.waitReply(id)
	require.Nil(t, reply.Error)

	var loc protocol.Location
	require.NoError(t, json.Unmarshal(reply.Result, &loc))
	assert.Equal(t, protocol.PathToURI(filepath.Join(root, "g.cj")), loc.URI)
	assert.Equal(t, 1, loc.Range.Start.Line, "declaration of g sits on line 1 of g.cj")
	assert.Equal(t, 5, loc.Range.Start.Character)
}

// ---------------------------------------------------------------------------
// Scenario b: rename across packages.
// ---------------------------------------------------------------------------

func TestRenameAcrossPackages(t *testing.T) {
	p1Src := "package p1\npublic class K {\n    public func m() {}\n}\n"
	p2Src := "package p2\nimport p1.K\nfunc use() { let k = K()\n}\n"
	client, root := startServer(t, map[string]string{
		"p1/k.cj":   p1Src,
		"p2/use.cj": p2Src,
	})
	client.initialize(root, nil)

	kPath := filepath.Join(root, "p1", "k.cj")
	usePath := filepath.Join(root, "p2", "use.cj")
	client.didOpen(kPath, p1Src, 1)
	client.waitDiagnostics(kPath)
	client.didOpen(usePath, p2Src, 1)
	client.waitDiagnostics(usePath)

	// prepareRename on K's declaration (line 1 "public class K {", col 13).
	prepID := client.call("textDocument/prepareRename", posParams(kPath, 1, 13))
	prepReply := client.waitReply(prepID)
	require.Nil(t, prepReply.Error)
	var prepRange protocol.Range
	require.NoError(t, json.Unmarshal(prepReply.Result, &prepRange))
	assert.Equal(t, 1, prepRange.Start.Line)
	assert.Equal(t, 13, prepRange.Start.Character)
	assert.Equal(t, 14, prepRange.End.Character)

	params := posParams(kPath, 1, 13)
	params["newName"] = "K2"
	renameID := client.call("textDocument/rename", params)
	renameReply := client.waitReply(renameID)
	require.Nil(t, renameReply.Error)

	var edit protocol.WorkspaceEdit
	require.NoError(t, json.Unmarshal(renameReply.Result, &edit))
	kURI := protocol.PathToURI(kPath)
	useURI := protocol.PathToURI(usePath)
	require.Contains(t, edit.Changes, kURI, "declaration edit present")
	require.Contains(t, edit.Changes, useURI, "cross-package reference edit present")
	for _, edits := range edit.Changes {
		for _, te := range edits {
			assert.Equal(t, "K2", te.NewText)
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario c: incremental completion after the dot.
// ---------------------------------------------------------------------------

func TestIncrementalMemberCompletion(t *testing.T) {
	src := "package demo\npublic class K {\n    public func m() {}\n    public func n() {}\n}\nfunc f() {\n    let foo = K()\n}\n"
	client, root := startServer(t, map[string]string{"a.cj": src})
	client.initialize(root, nil)

	aPath := filepath.Join(root, "a.cj")
	client.didOpen(aPath, src, 1)
	client.waitDiagnostics(aPath)

	// Two incremental patches append "    foo." as a new line 7.
	client.notify("textDocument/didChange", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": string(protocol.PathToURI(aPath)), "version": 2},
		"contentChanges": []map[string]interface{}{{
			"range": map[string]interface{}{
				"start": map[string]int{"line": 7, "character": 0},
				"end":   map[string]int{"line": 7, "character": 0},
			},
			"text": "    foo\n",
		}},
	})
	client.notify("textDocument/didChange", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": string(protocol.PathToURI(aPath)), "version": 3},
		"contentChanges": []map[string]interface{}{{
			"range": map[string]interface{}{
				"start": map[string]int{"line": 7, "character": 7},
				"end":   map[string]int{"line": 7, "character": 7},
			},
			"text": ".",
		}},
	})

	id := client.call("textDocument/completion", posParams(aPath, 7, 8))
	reply := client.waitReply(id)
	require.Nil(t, reply.Error)
	require.NotEqual(t, "null", string(reply.Result))

	var list protocol.CompletionList
	require.NoError(t, json.Unmarshal(reply.Result, &list))
	require.NotEmpty(t, list.Items)

	memberNames := map[string]bool{"m": true, "n": true}
	for _, item := range list.Items {
		assert.True(t, memberNames[item.Label],
			"member-only completion must not include %q", item.Label)
	}

	// Invariant: items sorted ascending by the 6-digit padded sort key.
	for i := 1; i < len(list.Items); i++ {
		assert.LessOrEqual(t, list.Items[i-1].SortText, list.Items[i].SortText)
	}
	for _, item := range list.Items {
		assert.Len(t, item.SortText, 6)
	}
}

// ---------------------------------------------------------------------------
// Scenario d: diagnostic with add-import quick fix.
// ---------------------------------------------------------------------------

func TestDiagnosticWithAddImportQuickFix(t *testing.T) {
	mapSrc := "package collection\npublic class Map {}\n"
	useSrc := "package demo\nfunc f() { let m = Map() }\n"
	client, root := startServer(t, map[string]string{
		"collection/map.cj": mapSrc,
		"demo/a.cj":         useSrc,
	})
	client.initialize(root, map[string]interface{}{"extendedDiagnose": true})

	mapPath := filepath.Join(root, "collection", "map.cj")
	aPath := filepath.Join(root, "demo", "a.cj")

	// Index the collection package first so the quick fix finds Map.
	client.didOpen(mapPath, mapSrc, 1)
	client.waitDiagnostics(mapPath)

	client.didOpen(aPath, useSrc, 1)
	diags := client.waitDiagnostics(aPath)

	var mapDiag *protocol.Diagnostic
	for i, d := range diags.Diagnostics {
		if strings.Contains(d.Message, "'Map'") {
			mapDiag = &diags.Diagnostics[i]
		}
	}
	require.NotNil(t, mapDiag, "expected a diagnostic naming 'Map'")

	require.NotEmpty(t, mapDiag.CodeActions, "extended publish carries codeActions")
	action := mapDiag.CodeActions[0]
	assert.Contains(t, action.Title, "import collection.Map")
	require.NotNil(t, action.Edit)
	edits := action.Edit.Changes[protocol.PathToURI(aPath)]
	require.Len(t, edits, 1)
	assert.Equal(t, "import collection.Map\n", edits[0].NewText)
	// Inserted at the computed last-import position: after the package clause.
	assert.Equal(t, 1, edits[0].Range.Start.Line)
	assert.Equal(t, 0, edits[0].Range.Start.Character)
}

// ---------------------------------------------------------------------------
// Scenario e: watched-file delete drops index rows and recompiles.
// ---------------------------------------------------------------------------

func TestWatchedFileDelete(t *testing.T) {
	bSrc := "package p\nfunc bb() {}\n"
	cSrc := "package p\nfunc cc() {}\n"
	client, root := startServer(t, map[string]string{
		"p/b.cj": bSrc,
		"p/c.cj": cSrc,
	})
	client.initialize(root, nil)

	bPath := filepath.Join(root, "p", "b.cj")
	cPath := filepath.Join(root, "p", "c.cj")
	client.didOpen(cPath, cSrc, 1)
	client.waitDiagnostics(cPath)

	// Confirm bb is queryable first.
	symID := client.call("workspace/symbol", map[string]interface{}{"query": "bb"})
	symReply := client.waitReply(symID)
	require.Nil(t, symReply.Error)
	require.NotEqual(t, "null", string(symReply.Result), "bb indexed before delete")

	require.NoError(t, os.Remove(bPath))
	client.notify("workspace/didChangeWatchedFiles", map[string]interface{}{
		"changes": []map[string]interface{}{{
			"uri":  string(protocol.PathToURI(bPath)),
			"type": protocol.FileDeleted,
		}},
	})

	// Rows for b.cj are removed in one transaction before any later request
	// is served; bb disappears from the symbol query.
	symID2 := client.call("workspace/symbol", map[string]interface{}{"query": "bb"})
	symReply2 := client.waitReply(symID2)
	require.Nil(t, symReply2.Error)
	assert.Equal(t, "null", string(symReply2.Result))

	// documentSymbol on the sibling file serves from the recompiled snapshot.
	docSymID := client.call("textDocument/documentSymbol", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": string(protocol.PathToURI(cPath))},
	})
	docSymReply := client.waitReply(docSymID)
	require.Nil(t, docSymReply.Error)
	var symbols []protocol.DocumentSymbol
	require.NoError(t, json.Unmarshal(docSymReply.Result, &symbols))
	require.Len(t, symbols, 1)
	assert.Equal(t, "cc", symbols[0].Name)
}

// ---------------------------------------------------------------------------
// Scenario f: requests after shutdown are invalid; exit is clean.
// ---------------------------------------------------------------------------

func TestShutdownGatesRequestsAndExitIsClean(t *testing.T) {
	client, root := startServer(t, map[string]string{
		"a.cj": "package demo\nfunc f() {}\n",
	})
	client.initialize(root, nil)

	shutdownID := client.call("shutdown", nil)
	shutdownReply := client.waitReply(shutdownID)
	require.Nil(t, shutdownReply.Error)

	compID := client.call("textDocument/completion", posParams(filepath.Join(root, "a.cj"), 1, 0))
	compReply := client.waitReply(compID)
	require.NotNil(t, compReply.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, compReply.Error.Code)

	client.notify("exit", nil)
	select {
	case result := <-client.result:
		assert.Equal(t, transport.NormalExit, result)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit within the grace interval")
	}
}

// ---------------------------------------------------------------------------
// Dispatcher lifecycle gating.
// ---------------------------------------------------------------------------

func TestRequestBeforeInitializeRejected(t *testing.T) {
	client, _ := startServer(t, map[string]string{})

	id := client.call("textDocument/hover", posParams("/nowhere.cj", 0, 0))
	reply := client.waitReply(id)
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeServerNotInitialized, reply.Error.Code)
}

func TestUnknownMethodNotFound(t *testing.T) {
	client, root := startServer(t, map[string]string{})
	client.initialize(root, nil)

	id := client.call("textDocument/nonexistent", map[string]interface{}{})
	reply := client.waitReply(id)
	require.NotNil(t, reply.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, reply.Error.Code)
}

func TestExitWithoutShutdownIsAbnormal(t *testing.T) {
	client, root := startServer(t, map[string]string{})
	client.initialize(root, nil)

	client.notify("exit", nil)
	select {
	case result := <-client.result:
		assert.Equal(t, transport.AbnormalExit, result)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not exit")
	}
}

func TestHoverAndDocumentHighlight(t *testing.T) {
	src := "package demo\nfunc g() {}\nfunc f() { g() }\n"
	client, root := startServer(t, map[string]string{"a.cj": src})
	client.initialize(root, nil)
	aPath := filepath.Join(root, "a.cj")
	client.didOpen(aPath, src, 1)
	client.waitDiagnostics(aPath)

	hoverID := client.call("textDocument/hover", posParams(aPath, 2, 11))
	hoverReply := client.waitReply(hoverID)
	require.Nil(t, hoverReply.Error)
	var hover protocol.Hover
	require.NoError(t, json.Unmarshal(hoverReply.Result, &hover))
	assert.Contains(t, hover.Contents.Value, "g")
	assert.Equal(t, "markdown", hover.Contents.Kind)

	hlID := client.call("textDocument/documentHighlight", posParams(aPath, 2, 11))
	hlReply := client.waitReply(hlID)
	require.Nil(t, hlReply.Error)
	var highlights []protocol.DocumentHighlight
	require.NoError(t, json.Unmarshal(hlReply.Result, &highlights))
	// The call site and the declaration both light up.
	assert.GreaterOrEqual(t, len(highlights), 2)
}

func TestSemanticTokensFull(t *testing.T) {
	src := "package demo\nfunc f() {}\n"
	client, root := startServer(t, map[string]string{"a.cj": src})
	client.initialize(root, nil)
	aPath := filepath.Join(root, "a.cj")
	client.didOpen(aPath, src, 1)
	client.waitDiagnostics(aPath)

	id := client.call("textDocument/semanticTokens/full", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": string(protocol.PathToURI(aPath))},
	})
	reply := client.waitReply(id)
	require.Nil(t, reply.Error)
	var toks protocol.SemanticTokens
	require.NoError(t, json.Unmarshal(reply.Result, &toks))
	require.NotEmpty(t, toks.Data)
	assert.Zero(t, len(toks.Data)%5, "delta encoding comes in 5-int groups")
}

func TestTypeHierarchySupertypesAndSubtypes(t *testing.T) {
	src := "package demo\nopen class Base {\n    open func run() {}\n}\nclass Derived <: Base {\n    override func run() {}\n}\n"
	client, root := startServer(t, map[string]string{"t.cj": src})
	client.initialize(root, nil)
	path := filepath.Join(root, "t.cj")
	client.didOpen(path, src, 1)
	client.waitDiagnostics(path)

	// "class Derived <: Base {" is line 4; Derived starts at col 6.
	prepID := client.call("textDocument/prepareTypeHierarchy", posParams(path, 4, 6))
	prepReply := client.waitReply(prepID)
	require.Nil(t, prepReply.Error)
	var items []protocol.HierarchyItem
	require.NoError(t, json.Unmarshal(prepReply.Result, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Derived", items[0].Name)

	superID := client.call("typeHierarchy/supertypes", map[string]interface{}{"item": items[0]})
	superReply := client.waitReply(superID)
	require.Nil(t, superReply.Error)
	var supers []protocol.HierarchyItem
	require.NoError(t, json.Unmarshal(superReply.Result, &supers))
	require.Len(t, supers, 1)
	assert.Equal(t, "Base", supers[0].Name)

	subID := client.call("typeHierarchy/subtypes", map[string]interface{}{"item": supers[0]})
	subReply := client.waitReply(subID)
	require.Nil(t, subReply.Error)
	var subs []protocol.HierarchyItem
	require.NoError(t, json.Unmarshal(subReply.Result, &subs))
	require.Len(t, subs, 1)
	assert.Equal(t, "Derived", subs[0].Name)
}

func TestExportsNameAndBreakpoints(t *testing.T) {
	src := "package demo.app\nfunc f() {\n    let x = 1\n    g()\n}\nfunc g() {}\n"
	client, root := startServer(t, map[string]string{"a.cj": src})
	client.initialize(root, nil)
	path := filepath.Join(root, "a.cj")
	client.didOpen(path, src, 1)
	client.waitDiagnostics(path)

	expID := client.call("textDocument/exportsName", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": string(protocol.PathToURI(path))},
	})
	expReply := client.waitReply(expID)
	require.Nil(t, expReply.Error)
	var exports map[string]string
	require.NoError(t, json.Unmarshal(expReply.Result, &exports))
	assert.Equal(t, "demo.app", exports["package"])

	bpID := client.call("textDocument/breakpoints", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": string(protocol.PathToURI(path))},
	})
	bpReply := client.waitReply(bpID)
	require.Nil(t, bpReply.Error)
	var bps []protocol.BreakpointLocation
	require.NoError(t, json.Unmarshal(bpReply.Result, &bps))
	lines := map[int]bool{}
	for _, bp := range bps {
		lines[bp.Range.Start.Line] = true
	}
	assert.True(t, lines[2], "let statement line is breakable")
	assert.True(t, lines[3], "call line is breakable")
}

func TestCheckHealthy(t *testing.T) {
	client, root := startServer(t, map[string]string{})
	client.initialize(root, nil)

	id := client.call("textDocument/checkHealthy", map[string]interface{}{})
	reply := client.waitReply(id)
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `"ok"`, string(reply.Result))
}
