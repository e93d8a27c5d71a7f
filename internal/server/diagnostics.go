package server

import (
	"fmt"
	"regexp"
	"strings"

	"cjls/internal/compiler"
	"cjls/internal/logging"
	"cjls/internal/project"
	"cjls/internal/protocol"
)

// quotedIdentRe pulls the identifier embedded in a diagnostic message,
// e.g. "undeclared identifier 'Map'".
var quotedIdentRe = regexp.MustCompile(`'([A-Za-z_][\w.]*)'`)

// scheduleDiagnostics recompiles the file's package on the general pool and
// publishes diagnostics for every file of the package. Quick fixes are
// computed once per publish, not per user action.
func (s *Server) scheduleDiagnostics(uri protocol.DocumentURI) {
	s.runWithAST(s.pools.General, "diagnostics", uri, func(in InputsAndAST) {
		if s.ShutdownRequested() || in.Snapshot == nil {
			return
		}
		s.publishPackageDiagnostics(in.Snapshot)
	})
}

// publishPackageDiagnostics re-materializes every file's diagnostics after a
// recompile. Publications happen after the recompile's index commit, which
// EnsureCurrent guarantees.
func (s *Server) publishPackageDiagnostics(snap *project.Snapshot) {
	for path, fr := range snap.Sema.Files {
		uri := protocol.PathToURI(path)
		diags := make([]protocol.Diagnostic, 0, len(fr.Diagnostics))
		var fixes []protocol.CodeAction

		for _, d := range fr.Diagnostics {
			pd := protocol.Diagnostic{
				Range:    toProtoRange(d.Range),
				Severity: d.Severity,
				Code:     d.Code,
				Source:   ServerName,
				Message:  d.Message,
			}
			actions := s.quickFixesFor(uri, fr, d, pd)
			if s.extendedDiagnose {
				pd.CodeActions = actions
			}
			fixes = append(fixes, actions...)
			diags = append(diags, pd)
		}

		// Batch fixes ride alongside the per-diagnostic ones.
		if batch := s.batchFixes(uri, fr); len(batch) > 0 {
			fixes = append(fixes, batch...)
		}

		s.fixitsMu.Lock()
		s.fixits[uri] = fixes
		s.fixitsMu.Unlock()

		doc := s.docs.Get(path)
		var version *int64
		if doc.Version >= 0 {
			v := doc.Version
			version = &v
		}
		method := "textDocument/publishDiagnostics"
		if s.extendedDiagnose {
			method = "textDocument/extendPublishDiagnostics"
		}
		s.notify(method, protocol.PublishDiagnosticsParams{
			URI:         uri,
			Version:     version,
			Diagnostics: diags,
		})
	}
}

// quickFixesFor derives code actions from one diagnostic by parsing the
// embedded identifier and consulting the index.
func (s *Server) quickFixesFor(uri protocol.DocumentURI, fr *compiler.FileResult, d compiler.Diagnostic, pd protocol.Diagnostic) []protocol.CodeAction {
	switch d.Code {
	case "undeclared-identifier":
		m := quotedIdentRe.FindStringSubmatch(d.Message)
		if m == nil || s.store == nil {
			return nil
		}
		ident := m[1]
		candidates, err := s.store.GetSymbolsByName(ident)
		if err != nil {
			logging.Get(logging.CategoryFeatures).Warn("quick-fix lookup for %s: %v", ident, err)
			return nil
		}
		var actions []protocol.CodeAction
		seen := make(map[string]bool)
		for _, c := range candidates {
			if c.Package == fr.PackageName || seen[c.Package] {
				continue
			}
			seen[c.Package] = true
			importPath := c.Package + "." + ident
			actions = append(actions, protocol.CodeAction{
				Title:       fmt.Sprintf("import %s", importPath),
				Kind:        "quickfix",
				Diagnostics: []protocol.Diagnostic{pd},
				Edit: &protocol.WorkspaceEdit{
					Changes: map[protocol.DocumentURI][]protocol.TextEdit{
						uri: {importInsertEdit(fr, importPath)},
					},
				},
			})
		}
		return actions

	case "unused-import":
		return []protocol.CodeAction{{
			Title:       "Remove unused import",
			Kind:        "quickfix",
			Diagnostics: []protocol.Diagnostic{pd},
			Edit: &protocol.WorkspaceEdit{
				Changes: map[protocol.DocumentURI][]protocol.TextEdit{
					uri: {{
						Range: protocol.Range{
							Start: protocol.Position{Line: d.Range.Start.Line, Character: 0},
							End:   protocol.Position{Line: d.Range.Start.Line + 1, Character: 0},
						},
						NewText: "",
					}},
				},
			},
		}}
	}
	return nil
}

// batchFixes derives the "import all" / "remove all unused imports"
// commands when more than one fix of a kind applies.
func (s *Server) batchFixes(uri protocol.DocumentURI, fr *compiler.FileResult) []protocol.CodeAction {
	var undeclared, unused int
	for _, d := range fr.Diagnostics {
		switch d.Code {
		case "undeclared-identifier":
			undeclared++
		case "unused-import":
			unused++
		}
	}
	var out []protocol.CodeAction
	if undeclared > 1 {
		out = append(out, protocol.CodeAction{
			Title:   "Import all missing symbols",
			Kind:    "source",
			Command: &protocol.Command{Title: "Import all", Command: cmdImportAll},
		})
	}
	if unused > 1 {
		out = append(out, protocol.CodeAction{
			Title:   "Remove all unused imports",
			Kind:    "source",
			Command: &protocol.Command{Title: "Remove unused imports", Command: cmdRemoveUnusedImports},
		})
	}
	return out
}

// importInsertEdit computes the single-line insertion at the last-import
// position of the file.
func importInsertEdit(fr *compiler.FileResult, importPath string) protocol.TextEdit {
	line := 0
	fr.AST.Walk(fr.AST.Root, func(n *compiler.Node) bool {
		switch n.Kind {
		case compiler.NodePackageClause:
			if n.Range.End.Line+1 > line {
				line = n.Range.End.Line + 1
			}
		case compiler.NodeImport:
			if n.Range.End.Line+1 > line {
				line = n.Range.End.Line + 1
			}
		}
		return n.Kind == compiler.NodeFile
	})
	pos := protocol.Position{Line: line, Character: 0}
	return protocol.TextEdit{
		Range:   protocol.Range{Start: pos, End: pos},
		NewText: "import " + importPath + "\n",
	}
}

// importLineFor renders the import statement a quick fix would add.
func importLineFor(pkg, ident string) string {
	return strings.TrimSpace("import "+pkg+"."+ident) + "\n"
}
