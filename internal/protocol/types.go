package protocol

import "encoding/json"

// DocumentURI is a file:// URI as delivered by the client.
type DocumentURI string

// Position is a zero-based line/character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open [start, end) span.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Location is a range inside a document.
type Location struct {
	URI   DocumentURI `json:"uri"`
	Range Range       `json:"range"`
}

// TextEdit replaces a range with new text.
type TextEdit struct {
	Range   Range  `json:"range"`
	NewText string `json:"newText"`
}

// TextDocumentIdentifier names a document.
type TextDocumentIdentifier struct {
	URI DocumentURI `json:"uri"`
}

// VersionedTextDocumentIdentifier names a document at a version.
type VersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version int64       `json:"version"`
}

// OptionalVersionedTextDocumentIdentifier is used inside workspace edits.
type OptionalVersionedTextDocumentIdentifier struct {
	URI     DocumentURI `json:"uri"`
	Version *int64      `json:"version,omitempty"`
}

// TextDocumentItem is the full document payload of didOpen.
type TextDocumentItem struct {
	URI        DocumentURI `json:"uri"`
	LanguageID string      `json:"languageId"`
	Version    int64       `json:"version"`
	Text       string      `json:"text"`
}

// TextDocumentEdit groups edits against one versioned document.
type TextDocumentEdit struct {
	TextDocument OptionalVersionedTextDocumentIdentifier `json:"textDocument"`
	Edits        []TextEdit                              `json:"edits"`
}

// WorkspaceEdit is a set of changes across documents.
type WorkspaceEdit struct {
	Changes         map[DocumentURI][]TextEdit `json:"changes,omitempty"`
	DocumentChanges []TextDocumentEdit         `json:"documentChanges,omitempty"`
}

// TextDocumentPositionParams is the common (document, position) request shape.
type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// InitializeParams is the subset of the initialize payload the server reads.
// Modules, requires, source roots and option sets ride in InitializationOptions.
type InitializeParams struct {
	ProcessID             *int                  `json:"processId,omitempty"`
	RootURI               DocumentURI           `json:"rootUri,omitempty"`
	Capabilities          json.RawMessage       `json:"capabilities,omitempty"`
	InitializationOptions InitializationOptions `json:"initializationOptions,omitempty"`
}

// ModuleDescriptor describes one module of the project.
type ModuleDescriptor struct {
	Name              string   `json:"name"`
	SourceRoot        string   `json:"srcPath"`
	Requires          []string `json:"requires,omitempty"`
	ConditionalOption string   `json:"conditionalOption,omitempty"`
}

// InitializationOptions carries the project description.
type InitializationOptions struct {
	Modules          []ModuleDescriptor `json:"modules,omitempty"`
	StdLibPath       string             `json:"stdLibPath,omitempty"`
	ThirdPartyPaths  []string           `json:"thirdPartyPaths,omitempty"`
	CachePath        string             `json:"cachePath,omitempty"`
	CompilerVersion  string             `json:"compilerVersion,omitempty"`
	EmbeddedHost     bool               `json:"embeddedHost,omitempty"`
	ExtendedDiagnose bool               `json:"extendedDiagnose,omitempty"`
}

// InitializeResult advertises server capabilities.
type InitializeResult struct {
	Capabilities ServerCapabilities `json:"capabilities"`
	ServerInfo   *ServerInfo        `json:"serverInfo,omitempty"`
}

// ServerInfo identifies the server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// TextDocumentSyncKind values.
const (
	SyncNone        = 0
	SyncFull        = 1
	SyncIncremental = 2
)

// CompletionOptions advertises completion triggers.
type CompletionOptions struct {
	ResolveProvider   bool     `json:"resolveProvider"`
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

// SignatureHelpOptions advertises signature-help triggers.
type SignatureHelpOptions struct {
	TriggerCharacters []string `json:"triggerCharacters,omitempty"`
}

// RenameOptions advertises prepare support.
type RenameOptions struct {
	PrepareProvider bool `json:"prepareProvider"`
}

// SemanticTokensLegend enumerates token types and modifiers by index.
type SemanticTokensLegend struct {
	TokenTypes     []string `json:"tokenTypes"`
	TokenModifiers []string `json:"tokenModifiers"`
}

// SemanticTokensOptions advertises full+delta mode; range mode stays off.
type SemanticTokensOptions struct {
	Legend SemanticTokensLegend `json:"legend"`
	Range  bool                 `json:"range"`
	Full   SemanticTokensFull   `json:"full"`
}

// SemanticTokensFull advertises delta support.
type SemanticTokensFull struct {
	Delta bool `json:"delta"`
}

// DocumentLinkOptions advertises link resolution.
type DocumentLinkOptions struct {
	ResolveProvider bool `json:"resolveProvider"`
}

// ExecuteCommandOptions lists supported commands.
type ExecuteCommandOptions struct {
	Commands []string `json:"commands"`
}

// ServerCapabilities is the initialize reply body.
type ServerCapabilities struct {
	TextDocumentSync          int                    `json:"textDocumentSync"`
	DocumentHighlightProvider bool                   `json:"documentHighlightProvider"`
	ReferencesProvider        bool                   `json:"referencesProvider"`
	DefinitionProvider        bool                   `json:"definitionProvider"`
	HoverProvider             bool                   `json:"hoverProvider"`
	WorkspaceSymbolProvider   bool                   `json:"workspaceSymbolProvider"`
	DocumentSymbolProvider    bool                   `json:"documentSymbolProvider"`
	RenameProvider            RenameOptions          `json:"renameProvider"`
	TypeHierarchyProvider     bool                   `json:"typeHierarchyProvider"`
	CallHierarchyProvider     bool                   `json:"callHierarchyProvider"`
	CompletionProvider        CompletionOptions      `json:"completionProvider"`
	SignatureHelpProvider     SignatureHelpOptions   `json:"signatureHelpProvider"`
	SemanticTokensProvider    SemanticTokensOptions  `json:"semanticTokensProvider"`
	DocumentLinkProvider      DocumentLinkOptions    `json:"documentLinkProvider"`
	CodeActionProvider        bool                   `json:"codeActionProvider"`
	CodeLensProvider          *struct{}              `json:"codeLensProvider,omitempty"`
	ExecuteCommandProvider    ExecuteCommandOptions  `json:"executeCommandProvider"`
	BreakpointsProvider       bool                   `json:"breakpointsProvider"`
	CrossLanguageProvider     bool                   `json:"crossLanguageProvider"`
	Experimental              map[string]interface{} `json:"experimental,omitempty"`
}

// ---------------------------------------------------------------------------
// Document synchronization
// ---------------------------------------------------------------------------

// DidOpenTextDocumentParams carries the opened document.
type DidOpenTextDocumentParams struct {
	TextDocument TextDocumentItem `json:"textDocument"`
}

// TextDocumentContentChangeEvent is either a whole-text replacement
// (Range == nil) or a range patch.
type TextDocumentContentChangeEvent struct {
	Range *Range `json:"range,omitempty"`
	Text  string `json:"text"`
}

// DidChangeTextDocumentParams carries incremental edits.
type DidChangeTextDocumentParams struct {
	TextDocument   VersionedTextDocumentIdentifier  `json:"textDocument"`
	ContentChanges []TextDocumentContentChangeEvent `json:"contentChanges"`
}

// DidCloseTextDocumentParams names the closed document.
type DidCloseTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// DidSaveTextDocumentParams names the saved document.
type DidSaveTextDocumentParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Text         *string                `json:"text,omitempty"`
}

// FileChangeType values for watched files.
const (
	FileCreated = 1
	FileChanged = 2
	FileDeleted = 3
)

// FileEvent is one watched-file change.
type FileEvent struct {
	URI  DocumentURI `json:"uri"`
	Type int         `json:"type"`
}

// DidChangeWatchedFilesParams carries watched-file changes.
type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

// Diagnostic severity values.
const (
	SeverityError       = 1
	SeverityWarning     = 2
	SeverityInformation = 3
	SeverityHint        = 4
)

// Diagnostic is one reported problem.
type Diagnostic struct {
	Range    Range  `json:"range"`
	Severity int    `json:"severity,omitempty"`
	Code     string `json:"code,omitempty"`
	Source   string `json:"source,omitempty"`
	Message  string `json:"message"`
	// CodeActions rides on the extendPublishDiagnostics variant only.
	CodeActions []CodeAction `json:"codeActions,omitempty"`
}

// PublishDiagnosticsParams is the publishDiagnostics notification body.
type PublishDiagnosticsParams struct {
	URI         DocumentURI  `json:"uri"`
	Version     *int64       `json:"version,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

// ReferenceParams adds the include-declaration flag.
type ReferenceParams struct {
	TextDocumentPositionParams
	Context struct {
		IncludeDeclaration bool `json:"includeDeclaration"`
	} `json:"context"`
}

// Hover is the hover reply.
type Hover struct {
	Contents MarkupContent `json:"contents"`
	Range    *Range        `json:"range,omitempty"`
}

// MarkupContent is markdown or plaintext content.
type MarkupContent struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// DocumentHighlight kinds.
const (
	HighlightText  = 1
	HighlightRead  = 2
	HighlightWrite = 3
)

// DocumentHighlight marks one occurrence in the current file.
type DocumentHighlight struct {
	Range Range `json:"range"`
	Kind  int   `json:"kind,omitempty"`
}

// CompletionItem kinds (subset in use).
const (
	CompletionKindText      = 1
	CompletionKindMethod    = 2
	CompletionKindFunction  = 3
	CompletionKindField     = 5
	CompletionKindVariable  = 6
	CompletionKindClass     = 7
	CompletionKindInterface = 8
	CompletionKindModule    = 9
	CompletionKindEnum      = 13
	CompletionKindKeyword   = 14
	CompletionKindStruct    = 22
)

// CompletionItem is one completion candidate.
type CompletionItem struct {
	Label         string `json:"label"`
	Kind          int    `json:"kind,omitempty"`
	Detail        string `json:"detail,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	SortText      string `json:"sortText,omitempty"`
	FilterText    string `json:"filterText,omitempty"`
	InsertText    string `json:"insertText,omitempty"`
}

// CompletionList is the completion reply.
type CompletionList struct {
	IsIncomplete bool             `json:"isIncomplete"`
	Items        []CompletionItem `json:"items"`
}

// ParameterInformation is one signature parameter.
type ParameterInformation struct {
	Label string `json:"label"`
}

// SignatureInformation is one overload.
type SignatureInformation struct {
	Label         string                 `json:"label"`
	Documentation string                 `json:"documentation,omitempty"`
	Parameters    []ParameterInformation `json:"parameters,omitempty"`
}

// SignatureHelp is the signatureHelp reply.
type SignatureHelp struct {
	Signatures      []SignatureInformation `json:"signatures"`
	ActiveSignature int                    `json:"activeSignature"`
	ActiveParameter int                    `json:"activeParameter"`
}

// SemanticTokens is the delta-encoded token array.
type SemanticTokens struct {
	ResultID string `json:"resultId,omitempty"`
	Data     []int  `json:"data"`
}

// DocumentLink is a clickable span.
type DocumentLink struct {
	Range  Range  `json:"range"`
	Target string `json:"target,omitempty"`
}

// SymbolKind values (subset in use).
const (
	SymbolKindFile       = 1
	SymbolKindModule     = 2
	SymbolKindPackage    = 4
	SymbolKindClass      = 5
	SymbolKindMethod     = 6
	SymbolKindProperty   = 7
	SymbolKindFunction   = 12
	SymbolKindVariable   = 13
	SymbolKindConstant   = 14
	SymbolKindInterface  = 11
	SymbolKindEnum       = 10
	SymbolKindStruct     = 23
	SymbolKindEnumMember = 22
)

// DocumentSymbol is the hierarchical outline node.
type DocumentSymbol struct {
	Name           string           `json:"name"`
	Detail         string           `json:"detail,omitempty"`
	Kind           int              `json:"kind"`
	Range          Range            `json:"range"`
	SelectionRange Range            `json:"selectionRange"`
	Children       []DocumentSymbol `json:"children,omitempty"`
}

// SymbolInformation is the flat workspace/symbol result.
type SymbolInformation struct {
	Name          string   `json:"name"`
	Kind          int      `json:"kind"`
	Location      Location `json:"location"`
	ContainerName string   `json:"containerName,omitempty"`
}

// WorkspaceSymbolParams carries the fuzzy query.
type WorkspaceSymbolParams struct {
	Query string `json:"query"`
}

// RenameParams carries the new name.
type RenameParams struct {
	TextDocumentPositionParams
	NewName string `json:"newName"`
}

// ---------------------------------------------------------------------------
// Hierarchies
// ---------------------------------------------------------------------------

// TypeHierarchyItem / CallHierarchyItem share this shape.
type HierarchyItem struct {
	Name           string          `json:"name"`
	Kind           int             `json:"kind"`
	URI            DocumentURI     `json:"uri"`
	Range          Range           `json:"range"`
	SelectionRange Range           `json:"selectionRange"`
	Detail         string          `json:"detail,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// HierarchyItemParams carries the item being expanded.
type HierarchyItemParams struct {
	Item HierarchyItem `json:"item"`
}

// CallHierarchyIncomingCall is one caller with its call sites.
type CallHierarchyIncomingCall struct {
	From       HierarchyItem `json:"from"`
	FromRanges []Range       `json:"fromRanges"`
}

// CallHierarchyOutgoingCall is one callee with its call sites.
type CallHierarchyOutgoingCall struct {
	To         HierarchyItem `json:"to"`
	FromRanges []Range       `json:"fromRanges"`
}

// ---------------------------------------------------------------------------
// Code actions, lenses, commands
// ---------------------------------------------------------------------------

// Command is an executable command reference.
type Command struct {
	Title     string            `json:"title"`
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// CodeAction is a quick fix or refactoring.
type CodeAction struct {
	Title       string         `json:"title"`
	Kind        string         `json:"kind,omitempty"`
	Diagnostics []Diagnostic   `json:"diagnostics,omitempty"`
	Edit        *WorkspaceEdit `json:"edit,omitempty"`
	Command     *Command       `json:"command,omitempty"`
}

// CodeActionParams carries the selection and its diagnostics.
type CodeActionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Range        Range                  `json:"range"`
	Context      struct {
		Diagnostics []Diagnostic `json:"diagnostics"`
		Only        []string     `json:"only,omitempty"`
	} `json:"context"`
}

// CodeLens is an inline actionable annotation.
type CodeLens struct {
	Range   Range    `json:"range"`
	Command *Command `json:"command,omitempty"`
}

// CodeLensParams names the document.
type CodeLensParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// ExecuteCommandParams carries a command invocation.
type ExecuteCommandParams struct {
	Command   string            `json:"command"`
	Arguments []json.RawMessage `json:"arguments,omitempty"`
}

// ApplyWorkspaceEditParams is the workspace/applyEdit round trip body.
type ApplyWorkspaceEditParams struct {
	Label string        `json:"label,omitempty"`
	Edit  WorkspaceEdit `json:"edit"`
}

// ---------------------------------------------------------------------------
// Extensions (†)
// ---------------------------------------------------------------------------

// CrossLanguageRegisterParams registers external symbols for a package.
type CrossLanguageRegisterParams struct {
	Package string            `json:"package"`
	Symbols []CrossSymbolItem `json:"symbols"`
}

// CrossSymbolItem mirrors the cross_symbols index row.
type CrossSymbolItem struct {
	Name          string   `json:"name"`
	ContainerName string   `json:"containerName,omitempty"`
	Type          string   `json:"type,omitempty"`
	Location      Location `json:"location"`
	Declaration   string   `json:"declaration,omitempty"`
}

// BreakpointLocation is one valid breakpoint line.
type BreakpointLocation struct {
	Range Range `json:"range"`
}

// ExportsNameParams asks for the exported name of a file's package.
type ExportsNameParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// FindFileReferencesParams asks for references into a whole file.
type FindFileReferencesParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
}

// TrackCompletionParams reports which completion the user accepted.
type TrackCompletionParams struct {
	Label string `json:"label"`
	Index int    `json:"index"`
}

// OverrideMethodsParams asks for unimplemented inherited methods.
type OverrideMethodsParams struct {
	TextDocumentPositionParams
}

// OverrideMethodItem is one insertable override stub.
type OverrideMethodItem struct {
	Name       string `json:"name"`
	Signature  string `json:"signature"`
	InsertText string `json:"insertText"`
}
