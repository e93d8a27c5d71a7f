package server

import (
	"cjls/internal/compiler"
	"cjls/internal/index"
	"cjls/internal/logging"
)

// declarationAt performs token localization and declaration lookup: locate
// the token at pos, short-circuit non-addressable positions, then resolve the
// covering expression or declaration to its symbol through the semantic side
// tables.
func (s *Server) declarationAt(in InputsAndAST, pos compiler.Pos) (*compiler.Symbol, *compiler.Token) {
	if in.FileResult == nil {
		return nil, nil
	}
	fr := in.FileResult

	tok := compiler.LocateToken(fr.Tokens, pos)
	if tok == nil || !tok.Addressable() {
		return nil, tok
	}

	node := fr.AST.NodeAt(tok.Start)
	if node == nil {
		return nil, tok
	}

	sym := s.resolveNode(in, fr, node)
	if sym == nil {
		return nil, tok
	}
	// Compiler-synthesized declarations are filtered from navigation.
	if sym.Synthesized {
		return nil, tok
	}
	return sym, tok
}

// resolveNode maps an AST node to the declaration it names, via a structured
// match over node kinds.
func (s *Server) resolveNode(in InputsAndAST, fr *compiler.FileResult, node *compiler.Node) *compiler.Symbol {
	switch node.Kind {
	case compiler.NodeRefExpr, compiler.NodeMemberExpr:
		if id, ok := fr.Targets[node.ID]; ok {
			return s.symbolByID(in, id)
		}
		// A member expression's own slot may be unresolved while the base is;
		// nothing to navigate to then.
		return nil

	case compiler.NodeCallExpr:
		// A call resolves through its callee.
		if len(node.Children) > 0 {
			return s.resolveNode(in, fr, fr.AST.Node(node.Children[0]))
		}
		return nil

	case compiler.NodeImport:
		// Imports navigate to the bound symbol when one is named.
		return s.importedSymbol(in, node.Name)

	default:
		if node.Kind.IsDecl() {
			return declSymbol(in.Snapshot.Sema, fr, node)
		}
		// Positions on blocks or literals fall back to the enclosing decl's
		// name only when the cursor actually sits on its identifier.
		if decl := fr.AST.EnclosingDecl(node.ID); decl != nil && decl.SelRange.Contains(node.Range.Start) {
			return declSymbol(in.Snapshot.Sema, fr, decl)
		}
		return nil
	}
}

// symbolByID searches the current snapshot, then every package snapshot, then
// the persistent index.
func (s *Server) symbolByID(in InputsAndAST, id compiler.SymbolID) *compiler.Symbol {
	if in.Snapshot != nil {
		if sym, ok := in.Snapshot.Sema.ByID[id]; ok {
			return sym
		}
	}
	for _, pkgName := range s.proj.Packages() {
		snap, _ := s.proj.Snapshot(pkgName)
		if snap == nil || snap.Sema == nil {
			continue
		}
		if sym, ok := snap.Sema.ByID[id]; ok {
			return sym
		}
	}
	if s.store != nil {
		row, err := s.store.GetSymbolByID(id)
		if err == nil {
			return symbolFromRow(row)
		}
	}
	logging.FeaturesDebug("symbol %d not found in any snapshot or index", id)
	return nil
}

// importedSymbol resolves "a.b.Name" import paths to the named symbol.
func (s *Server) importedSymbol(in InputsAndAST, importPath string) *compiler.Symbol {
	pkg, bound := splitImportPath(importPath)
	if bound == "" || bound == "*" {
		return nil
	}
	snap, _ := s.proj.Snapshot(pkg)
	if snap == nil || snap.Sema == nil {
		return nil
	}
	if syms := snap.Sema.TopLevel[bound]; len(syms) > 0 {
		return syms[0]
	}
	return nil
}

func splitImportPath(imp string) (string, string) {
	last := ""
	pkg := imp
	for i := len(imp) - 1; i >= 0; i-- {
		if imp[i] == '.' {
			pkg, last = imp[:i], imp[i+1:]
			break
		}
	}
	if last == "*" {
		return pkg, "*"
	}
	if last != "" && last[0] >= 'A' && last[0] <= 'Z' {
		return pkg, last
	}
	return imp, ""
}

// declSymbol finds the registered symbol for a declaration node.
func declSymbol(sema *compiler.PackageSema, fr *compiler.FileResult, n *compiler.Node) *compiler.Symbol {
	for _, sym := range sema.Symbols {
		if sym.File == fr.Path && sym.Node == n.ID {
			return sym
		}
	}
	return nil
}

// symbolKindFromString reverses compiler.SymbolKind.String().
func symbolKindFromString(kind string) compiler.SymbolKind {
	switch kind {
	case "class":
		return compiler.SymClass
	case "interface":
		return compiler.SymInterface
	case "enum":
		return compiler.SymEnum
	case "struct":
		return compiler.SymStruct
	case "extend":
		return compiler.SymExtend
	case "variable":
		return compiler.SymVariable
	case "member":
		return compiler.SymMember
	case "enum_constructor":
		return compiler.SymEnumCtor
	case "parameter":
		return compiler.SymParam
	default:
		return compiler.SymFunc
	}
}

// symbolFromRow lifts an index row back into a symbol for location replies.
func symbolFromRow(row index.SymbolRow) *compiler.Symbol {
	return &compiler.Symbol{
		ID:         compiler.SymbolID(row.ID),
		Kind:       symbolKindFromString(row.Kind),
		Name:       row.Name,
		Package:    row.Package,
		Module:     row.ContainerModule,
		Container:  row.Scope,
		File:       row.DeclFile,
		DeclRange:  row.DefRange,
		SelRange:   row.DeclRange,
		TypeName:   row.Type,
		Signature:  row.Signature,
		Deprecated: row.IsDeprecated,
	}
}
