package server

import (
	"encoding/json"

	"cjls/internal/index"
	"cjls/internal/logging"
	"cjls/internal/project"
	"cjls/internal/protocol"
)

// semanticTokenTypes and modifiers are advertised by index on initialize.
var semanticTokenTypes = []string{
	"namespace", "type", "class", "enum", "interface", "struct",
	"typeParameter", "parameter", "variable", "property", "enumMember",
	"function", "method", "macro", "keyword", "comment", "string",
	"number", "operator",
}

var semanticTokenModifiers = []string{
	"declaration", "definition", "readonly", "static", "deprecated",
}

// Commands the server executes via workspace/executeCommand.
const (
	cmdImportAll           = "cjls.importAll"
	cmdRemoveUnusedImports = "cjls.removeAllUnusedImports"
	cmdApplyQuickFix       = "cjls.applyQuickFix"
)

// handleInitialize runs project bootstrap and advertises capabilities.
func (s *Server) handleInitialize(id, params json.RawMessage) {
	var p protocol.InitializeParams
	if !s.decode(id, params, &p) {
		return
	}

	rootPath := protocol.URIToPath(p.RootURI)
	s.extendedDiagnose = p.InitializationOptions.ExtendedDiagnose
	s.embeddedHost = p.InitializationOptions.EmbeddedHost

	cacheRoot := p.InitializationOptions.CachePath
	if cacheRoot == "" {
		cacheRoot = s.opts.CacheRoot
	}
	if cacheRoot == "" {
		cacheRoot = rootPath
	}
	compilerVersion := p.InitializationOptions.CompilerVersion
	if compilerVersion == "" {
		compilerVersion = s.opts.CompilerVersion
	}

	// The index cache is validated against the compiler version before any
	// connection opens; a mismatch deletes and recreates the database.
	if _, err := index.EnsureValidCache(cacheRoot, compilerVersion); err != nil {
		logging.Get(logging.CategoryBoot).Error("cache validation failed: %v", err)
	}
	s.store = index.Open(index.DBPath(cacheRoot), false, s.ShutdownRequested)

	if err := s.proj.Ingest(rootPath, p.InitializationOptions); err != nil {
		logging.Get(logging.CategoryBoot).Error("project ingest failed: %v", err)
	}

	// Initial compile rides the background DAG pool; requests arriving before
	// completion rebuild on demand. Test mode keeps the background quiet and
	// compiles strictly on demand.
	if !s.opts.TestMode {
		s.proj.ScheduleInitialCompile(s.dag, s.store)
		s.startWatcher()
	}

	s.state.Store(int32(stateInitializeAck))
	s.reply(id, protocol.InitializeResult{
		Capabilities: s.capabilities(),
		ServerInfo:   &protocol.ServerInfo{Name: ServerName, Version: Version},
	})
}

// capabilities builds the advertisement for this session.
func (s *Server) capabilities() protocol.ServerCapabilities {
	caps := protocol.ServerCapabilities{
		TextDocumentSync:          protocol.SyncIncremental,
		DocumentHighlightProvider: true,
		ReferencesProvider:        true,
		DefinitionProvider:        true,
		HoverProvider:             true,
		WorkspaceSymbolProvider:   true,
		DocumentSymbolProvider:    true,
		RenameProvider:            protocol.RenameOptions{PrepareProvider: true},
		TypeHierarchyProvider:     true,
		CallHierarchyProvider:     true,
		CompletionProvider: protocol.CompletionOptions{
			TriggerCharacters: []string{".", "`"},
		},
		SignatureHelpProvider: protocol.SignatureHelpOptions{
			TriggerCharacters: []string{"(", ","},
		},
		SemanticTokensProvider: protocol.SemanticTokensOptions{
			Legend: protocol.SemanticTokensLegend{
				TokenTypes:     semanticTokenTypes,
				TokenModifiers: semanticTokenModifiers,
			},
			Range: false,
			Full:  protocol.SemanticTokensFull{Delta: true},
		},
		DocumentLinkProvider: protocol.DocumentLinkOptions{ResolveProvider: true},
		CodeActionProvider:   true,
		ExecuteCommandProvider: protocol.ExecuteCommandOptions{
			Commands: []string{cmdImportAll, cmdRemoveUnusedImports, cmdApplyQuickFix},
		},
		BreakpointsProvider:   true,
		CrossLanguageProvider: true,
	}
	// Code lenses stay off inside richer embedding hosts that render their own.
	if !s.embeddedHost {
		caps.CodeLensProvider = &struct{}{}
	}
	return caps
}

// startWatcher mirrors filesystem changes into the same reconciliation path
// workspace/didChangeWatchedFiles uses, for clients that do not watch.
func (s *Server) startWatcher() {
	w, err := project.NewWatcher(s.proj)
	if err != nil {
		logging.Get(logging.CategoryWatch).Warn("file watcher unavailable: %v", err)
		return
	}
	s.watcher = w
	go func() {
		for change := range w.Events() {
			if s.ShutdownRequested() {
				return
			}
			switch change.Op {
			case project.FileOpRemove:
				s.reconcileDeletedFile(change.Path)
			case project.FileOpCreate:
				if pkg := s.proj.AddFile(change.Path, ""); pkg != "" {
					s.recompileInBackground(pkg)
				}
			case project.FileOpWrite:
				// Open documents are authoritative; only unopened files
				// reconcile from disk.
				if s.docs.Get(change.Path).Version < 0 {
					if pkg, _ := s.proj.UpdateFileStatus(change.Path); pkg != "" {
						s.recompileInBackground(pkg)
					}
				}
			}
		}
	}()
}

// handleCheckHealthy is the liveness probe extension.
func (s *Server) handleCheckHealthy(id, params json.RawMessage) {
	s.reply(id, "ok")
}
