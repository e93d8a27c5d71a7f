package server

import (
	"encoding/json"
	"fmt"
	"sort"

	"cjls/internal/compiler"
	"cjls/internal/index"
	"cjls/internal/logging"
	"cjls/internal/protocol"
)

// handleCrossLanguageRegister ingests sidecar symbols for a package. When two
// registrations carry the same external name, the first wins and the later
// one is dropped with a warning.
func (s *Server) handleCrossLanguageRegister(params json.RawMessage) {
	var p protocol.CrossLanguageRegisterParams
	if !s.decode(nil, params, &p) {
		return
	}

	var fresh []index.CrossSymbolRow
	s.crossMu.Lock()
	for _, item := range p.Symbols {
		key := p.Package + ":" + item.Name
		if _, exists := s.crossReg[key]; exists {
			logging.Get(logging.CategoryFeatures).Warn(
				"cross-language symbol %s already registered, keeping first", key)
			continue
		}
		s.crossReg[key] = item
		fresh = append(fresh, index.CrossSymbolRow{
			Pkg:           p.Package,
			ID:            int64(compiler.HashExportID(key)),
			Name:          item.Name,
			ContainerName: item.ContainerName,
			Type:          item.Type,
			File:          protocol.URIToPath(item.Location.URI),
			Range: compiler.Range{
				Start: compiler.Pos{Line: item.Location.Range.Start.Line, Col: item.Location.Range.Start.Character},
				End:   compiler.Pos{Line: item.Location.Range.End.Line, Col: item.Location.Range.End.Character},
			},
			Declaration: item.Declaration,
		})
	}
	s.crossMu.Unlock()

	if len(fresh) > 0 && s.store != nil {
		if err := s.store.Update(func(u *index.DBUpdate) error {
			return u.InsertCrossSymbols(fresh)
		}); err != nil {
			logging.Get(logging.CategoryFeatures).Error("cross-language insert: %v", err)
		}
	}
}

// handleCrossLanguageDefinition resolves an identifier against the
// cross-language registry.
func (s *Server) handleCrossLanguageDefinition(id, params json.RawMessage) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "crossLanguageDefinition", p.TextDocument.URI, func(in InputsAndAST) {
		if in.FileResult == nil {
			s.reply(id, nil)
			return
		}
		tok := compiler.LocateToken(in.FileResult.Tokens, toPos(p.Position))
		if tok == nil || tok.Kind != compiler.TokIdent {
			s.reply(id, nil)
			return
		}

		// In-memory registry first, then the persisted rows.
		s.crossMu.Lock()
		for _, item := range s.crossReg {
			if item.Name == tok.Text {
				s.crossMu.Unlock()
				s.reply(id, item.Location)
				return
			}
		}
		s.crossMu.Unlock()

		if s.store != nil {
			if pkg, ok := s.proj.PackageFor(in.File); ok {
				rows, err := s.store.GetCrossSymbols(pkg, tok.Text)
				if err == nil && len(rows) > 0 {
					s.reply(id, protocol.Location{
						URI:   protocol.PathToURI(rows[0].File),
						Range: toProtoRange(rows[0].Range),
					})
					return
				}
			}
		}
		s.reply(id, nil)
	})
}

// handleExportsName reports the exported package name of a file.
func (s *Server) handleExportsName(id, params json.RawMessage) {
	var p protocol.ExportsNameParams
	if !s.decode(id, params, &p) {
		return
	}
	path := protocol.URIToPath(p.TextDocument.URI)
	pkg, ok := s.proj.PackageFor(path)
	if !ok {
		s.reply(id, nil)
		return
	}
	s.reply(id, map[string]string{"package": pkg})
}

// handleFindFileReferences lists every location referencing a symbol declared
// in the given file.
func (s *Server) handleFindFileReferences(id, params json.RawMessage) {
	var p protocol.FindFileReferencesParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "findFileReferences", p.TextDocument.URI, func(in InputsAndAST) {
		if in.Snapshot == nil || s.store == nil {
			s.reply(id, nil)
			return
		}
		var out []protocol.Location
		seen := make(map[string]bool)
		for _, sym := range in.Snapshot.Sema.Symbols {
			if sym.File != in.File {
				continue
			}
			rows, err := s.store.GetReferences(sym.ID, "")
			if err != nil {
				continue
			}
			for _, r := range rows {
				if r.File == in.File {
					continue
				}
				key := fmt.Sprintf("%s:%d:%d", r.File, r.Range.Start.Line, r.Range.Start.Col)
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, protocol.Location{
					URI:   protocol.PathToURI(r.File),
					Range: toProtoRange(r.Range),
				})
			}
		}
		if len(out) == 0 {
			s.reply(id, nil)
			return
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].URI != out[j].URI {
				return out[i].URI < out[j].URI
			}
			return out[i].Range.Start.Line < out[j].Range.Start.Line
		})
		s.reply(id, out)
	})
}

// handleFileRefactor rewrites import statements after a file's package moved:
// every dependent file importing the old package gets an edit to the new one.
func (s *Server) handleFileRefactor(id, params json.RawMessage) {
	var p struct {
		TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
		OldPackage   string                          `json:"oldPackage"`
		NewPackage   string                          `json:"newPackage"`
	}
	if !s.decode(id, params, &p) {
		return
	}
	if p.OldPackage == "" || p.NewPackage == "" || p.OldPackage == p.NewPackage {
		s.reply(id, nil)
		return
	}

	changes := make(map[protocol.DocumentURI][]protocol.TextEdit)
	for _, pkgName := range s.proj.Packages() {
		snap, _ := s.proj.Snapshot(pkgName)
		if snap == nil || snap.Sema == nil {
			continue
		}
		for path, fr := range snap.Sema.Files {
			for imp, nodeID := range fr.Imports {
				impPkg, bound := splitImportPath(imp)
				if impPkg != p.OldPackage {
					continue
				}
				n := fr.AST.Node(nodeID)
				if n == nil {
					continue
				}
				newImport := p.NewPackage
				if bound != "" {
					newImport += "." + bound
				}
				uri := protocol.PathToURI(path)
				changes[uri] = append(changes[uri], protocol.TextEdit{
					Range:   toProtoRange(n.Range),
					NewText: "import " + newImport,
				})
			}
		}
	}
	if len(changes) == 0 {
		s.reply(id, nil)
		return
	}
	s.reply(id, protocol.WorkspaceEdit{Changes: changes})
}

// handleBreakpoints lists the lines holding executable statements.
func (s *Server) handleBreakpoints(id, params json.RawMessage) {
	var p struct {
		TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	}
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "breakpoints", p.TextDocument.URI, func(in InputsAndAST) {
		if in.FileResult == nil {
			s.reply(id, nil)
			return
		}
		lines := make(map[int]bool)
		ast := in.FileResult.AST
		ast.Walk(ast.Root, func(n *compiler.Node) bool {
			switch n.Kind {
			case compiler.NodeCallExpr, compiler.NodeVarDecl:
				if ast.EnclosingDecl(n.ID) != nil {
					lines[n.Range.Start.Line] = true
				}
			}
			return true
		})
		if len(lines) == 0 {
			s.reply(id, nil)
			return
		}
		sorted := make([]int, 0, len(lines))
		for l := range lines {
			sorted = append(sorted, l)
		}
		sort.Ints(sorted)
		out := make([]protocol.BreakpointLocation, 0, len(sorted))
		for _, l := range sorted {
			out = append(out, protocol.BreakpointLocation{
				Range: protocol.Range{
					Start: protocol.Position{Line: l, Character: 0},
					End:   protocol.Position{Line: l, Character: 0},
				},
			})
		}
		s.reply(id, out)
	})
}

// handleOverrideMethods lists inherited open methods the class at the cursor
// has not overridden, as insertable stubs.
func (s *Server) handleOverrideMethods(id, params json.RawMessage) {
	var p protocol.OverrideMethodsParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "overrideMethods", p.TextDocument.URI, func(in InputsAndAST) {
		if in.FileResult == nil || in.Snapshot == nil {
			s.reply(id, nil)
			return
		}
		node := in.FileResult.AST.NodeAt(toPos(p.Position))
		var class *compiler.Node
		for cur := node; cur != nil; cur = in.FileResult.AST.Node(cur.Parent) {
			if cur.Kind == compiler.NodeClassDecl {
				class = cur
				break
			}
		}
		if class == nil {
			s.reply(id, nil)
			return
		}

		// Methods already declared in the class.
		declared := make(map[string]bool)
		for _, c := range class.Children {
			if m := in.FileResult.AST.Node(c); m != nil && m.Kind == compiler.NodeFuncDecl {
				declared[m.Name] = true
			}
		}

		var out []protocol.OverrideMethodItem
		seen := make(map[string]bool)
		visitedTypes := make(map[string]bool)
		var visit func(typeName string)
		visit = func(typeName string) {
			if visitedTypes[typeName] {
				return
			}
			visitedTypes[typeName] = true
			for _, pkgName := range s.proj.Packages() {
				snap, _ := s.proj.Snapshot(pkgName)
				if snap == nil || snap.Sema == nil {
					continue
				}
				for _, m := range snap.Sema.Members[typeName] {
					if m.Kind != compiler.SymMember || declared[m.Name] || seen[m.Name+m.Signature] {
						continue
					}
					if !m.HasModifier("open") && !m.HasModifier("abstract") {
						continue
					}
					seen[m.Name+m.Signature] = true
					out = append(out, protocol.OverrideMethodItem{
						Name:       m.Name,
						Signature:  m.Name + m.Signature,
						InsertText: fmt.Sprintf("override func %s%s {\n}\n", m.Name, m.Signature),
					})
				}
				for _, typeSym := range snap.Sema.TopLevel[typeName] {
					if fr, ok := snap.Sema.Files[typeSym.File]; ok {
						if n := fr.AST.Node(typeSym.Node); n != nil {
							for _, sup := range n.Supers {
								visit(sup)
							}
						}
					}
				}
			}
		}
		for _, sup := range class.Supers {
			visit(sup)
		}

		if len(out) == 0 {
			s.reply(id, nil)
			return
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		s.reply(id, out)
	})
}
