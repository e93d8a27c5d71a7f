// Package server binds the transport, document cache, project graph,
// scheduler and index into the language server: lifecycle gating, method
// routing and every feature handler.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"cjls/internal/cache"
	"cjls/internal/index"
	"cjls/internal/logging"
	"cjls/internal/project"
	"cjls/internal/protocol"
	"cjls/internal/sched"
	"cjls/internal/transport"
)

// ServerName and Version identify the server on initialize.
const (
	ServerName = "cjls"
	Version    = "1.0.0"
)

// lifecycle states of one session.
type lifecycleState int32

const (
	statePreInit lifecycleState = iota
	stateInitializeAck
	stateReady
	stateShuttingDown
	stateExited
)

// Options configures a server instance.
type Options struct {
	CacheRoot          string
	CompilerVersion    string
	TestMode           bool
	DisableIncremental bool
	// Pool sizes; 0 means available cores.
	GeneralPoolSize    int
	CompletionPoolSize int
	SignaturePoolSize  int
	// ShutdownGrace bounds the wait between exit and process death.
	ShutdownGrace time.Duration
}

// Server is one LSP session over a duplex stream.
type Server struct {
	conn *transport.Conn
	opts Options

	state atomic.Int32

	docs    *cache.DocumentCache
	proj    *project.Project
	store   *index.Store
	dag     *sched.DAGPool
	pools   *sched.Pools
	watcher *project.Watcher

	shutdownFlag atomic.Bool
	cleanExit    atomic.Bool

	// Client-negotiated behavior.
	extendedDiagnose bool
	embeddedHost     bool

	// fixits caches the quick fixes computed at publish time, per URI.
	fixitsMu sync.Mutex
	fixits   map[protocol.DocumentURI][]protocol.CodeAction

	// crossMu guards the in-memory first-wins cross-language registry.
	crossMu  sync.Mutex
	crossReg map[string]protocol.CrossSymbolItem

	// completionTipSent makes publishCompletionTip a one-shot.
	completionTipSent atomic.Bool

	notifications map[string]func(params json.RawMessage)
	calls         map[string]func(id, params json.RawMessage)
}

// New assembles a server over the stream.
func New(rwc io.ReadWriteCloser, opts Options) *Server {
	if opts.ShutdownGrace == 0 {
		opts.ShutdownGrace = 5 * time.Second
	}
	docs := cache.New()
	s := &Server{
		conn:     transport.New(rwc),
		opts:     opts,
		docs:     docs,
		proj:     project.New(docs),
		dag:      sched.NewDAGPool(0),
		pools:    sched.NewPools(opts.GeneralPoolSize, opts.CompletionPoolSize, opts.SignaturePoolSize),
		fixits:   make(map[protocol.DocumentURI][]protocol.CodeAction),
		crossReg: make(map[string]protocol.CrossSymbolItem),
	}
	s.bindMethods()
	return s
}

// ShutdownRequested is the cooperative cancellation predicate handlers poll.
func (s *Server) ShutdownRequested() bool { return s.shutdownFlag.Load() }

// Run drives the session to completion and returns the loop result. An exit
// that skipped shutdown degrades to AbnormalExit.
func (s *Server) Run() transport.LoopResult {
	logging.Boot("server loop starting")
	result := s.conn.Loop(s.handle)
	if result == transport.NormalExit && !s.cleanExit.Load() {
		result = transport.AbnormalExit
	}

	s.shutdownFlag.Store(true)
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	s.pools.Shutdown()
	s.dag.Shutdown()
	if s.store != nil {
		_ = s.store.Close()
	}
	logging.Boot("server loop finished: %s", result)
	return result
}

// handle is the dispatcher: lifecycle gating, then static method binding.
func (s *Server) handle(msg *protocol.Message) bool {
	state := lifecycleState(s.state.Load())
	logging.DispatchDebug("recv %s (state=%d)", msg.Method, state)

	// exit terminates the loop from any state; cleanliness depends on a
	// preceding shutdown. A detached watchdog bounds how long the clean
	// teardown may take once exit is received.
	if msg.Method == "exit" {
		if state == stateShuttingDown {
			s.cleanExit.Store(true)
		}
		if !s.opts.TestMode {
			grace := s.opts.ShutdownGrace
			go func() {
				time.Sleep(grace)
				logging.Get(logging.CategoryBoot).Error("shutdown watchdog fired after %v", grace)
				os.Exit(1)
			}()
		}
		s.state.Store(int32(stateExited))
		return true
	}

	switch state {
	case statePreInit:
		if msg.Method == "initialize" {
			s.handleInitialize(idOf(msg), msg.Params)
			return false
		}
		if msg.IsCall() {
			s.replyError(idOf(msg), protocol.CodeServerNotInitialized, "server not initialized")
		} else {
			logging.Get(logging.CategoryDispatch).Warn("notification %s before initialize dropped", msg.Method)
		}
		return false

	case stateInitializeAck:
		if msg.Method == "initialized" {
			s.state.Store(int32(stateReady))
			logging.Dispatch("session READY")
			return false
		}
		if msg.IsCall() {
			s.replyError(idOf(msg), protocol.CodeServerNotInitialized, "expected 'initialized'")
		}
		return false

	case stateShuttingDown:
		if msg.IsCall() {
			s.replyError(idOf(msg), protocol.CodeInvalidRequest, "server is shutting down")
		}
		return false

	case stateReady:
		if msg.Method == "shutdown" {
			s.shutdownFlag.Store(true)
			s.state.Store(int32(stateShuttingDown))
			s.reply(idOf(msg), nil)
			logging.Dispatch("session SHUTTING_DOWN")
			return false
		}
		s.dispatch(msg)
		return false

	default:
		return true
	}
}

// dispatch routes a READY-state message through the static method maps.
func (s *Server) dispatch(msg *protocol.Message) {
	if msg.IsCall() {
		if h, ok := s.calls[msg.Method]; ok {
			h(idOf(msg), msg.Params)
			return
		}
		s.replyError(idOf(msg), protocol.CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method))
		return
	}
	if h, ok := s.notifications[msg.Method]; ok {
		h(msg.Params)
		return
	}
	logging.Get(logging.CategoryDispatch).Warn("unknown notification %s", msg.Method)
}

// bindMethods fills the two static method maps.
func (s *Server) bindMethods() {
	s.notifications = map[string]func(params json.RawMessage){
		"textDocument/didOpen":               s.handleDidOpen,
		"textDocument/didChange":             s.handleDidChange,
		"textDocument/didClose":              s.handleDidClose,
		"textDocument/didSave":               s.handleDidSave,
		"workspace/didChangeWatchedFiles":    s.handleDidChangeWatchedFiles,
		"textDocument/trackCompletion":       s.handleTrackCompletion,
		"textDocument/crossLanguageRegister": s.handleCrossLanguageRegister,
	}
	s.calls = map[string]func(id, params json.RawMessage){
		"textDocument/definition":              s.handleDefinition,
		"textDocument/references":              s.handleReferences,
		"textDocument/hover":                   s.handleHover,
		"textDocument/documentHighlight":       s.handleDocumentHighlight,
		"textDocument/completion":              s.handleCompletion,
		"textDocument/signatureHelp":           s.handleSignatureHelp,
		"textDocument/semanticTokens":          s.handleSemanticTokensFull,
		"textDocument/semanticTokens/full":     s.handleSemanticTokensFull,
		"textDocument/documentSymbol":          s.handleDocumentSymbol,
		"textDocument/documentLink":            s.handleDocumentLink,
		"textDocument/prepareRename":           s.handlePrepareRename,
		"textDocument/rename":                  s.handleRename,
		"textDocument/prepareTypeHierarchy":    s.handlePrepareTypeHierarchy,
		"textDocument/prepareCallHierarchy":    s.handlePrepareCallHierarchy,
		"typeHierarchy/supertypes":             s.handleSupertypes,
		"typeHierarchy/subtypes":               s.handleSubtypes,
		"callHierarchy/incomingCalls":          s.handleIncomingCalls,
		"callHierarchy/outgoingCalls":          s.handleOutgoingCalls,
		"textDocument/codeAction":              s.handleCodeAction,
		"textDocument/codeLens":                s.handleCodeLens,
		"workspace/symbol":                     s.handleWorkspaceSymbol,
		"workspace/executeCommand":             s.handleExecuteCommand,
		"textDocument/breakpoints":             s.handleBreakpoints,
		"textDocument/crossLanguageDefinition": s.handleCrossLanguageDefinition,
		"textDocument/exportsName":             s.handleExportsName,
		"textDocument/findFileReferences":      s.handleFindFileReferences,
		"textDocument/fileRefactor":            s.handleFileRefactor,
		"textDocument/checkHealthy":            s.handleCheckHealthy,
		"codeGenerator/overrideMethods":        s.handleOverrideMethods,
	}
}

// --- reply helpers ---

func idOf(msg *protocol.Message) json.RawMessage {
	if msg.ID == nil {
		return nil
	}
	return *msg.ID
}

func (s *Server) reply(id json.RawMessage, result interface{}) {
	if id == nil {
		return
	}
	if err := s.conn.Reply(id, result, nil); err != nil {
		logging.Get(logging.CategoryDispatch).Error("reply failed: %v", err)
	}
}

func (s *Server) replyError(id json.RawMessage, code int, message string) {
	if id == nil {
		return
	}
	if err := s.conn.Reply(id, nil, protocol.NewError(code, message)); err != nil {
		logging.Get(logging.CategoryDispatch).Error("error reply failed: %v", err)
	}
}

func (s *Server) notify(method string, params interface{}) {
	if err := s.conn.Notify(method, params); err != nil {
		logging.Get(logging.CategoryDispatch).Error("notify %s failed: %v", method, err)
	}
}

// decode unmarshals params, logging-and-dropping notifications and replying
// invalid_params for calls on failure. Returns false when decoding failed.
func (s *Server) decode(id, params json.RawMessage, into interface{}) bool {
	if len(params) == 0 {
		return true
	}
	if err := json.Unmarshal(params, into); err != nil {
		if id != nil {
			s.replyError(id, protocol.CodeInvalidParams, err.Error())
		} else {
			logging.Get(logging.CategoryDispatch).Warn("invalid params dropped: %v", err)
		}
		return false
	}
	return true
}
