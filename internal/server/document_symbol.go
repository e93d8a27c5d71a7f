package server

import (
	"encoding/json"

	"cjls/internal/compiler"
	"cjls/internal/protocol"
)

// handleDocumentSymbol renders the file outline as a DocumentSymbol tree.
func (s *Server) handleDocumentSymbol(id, params json.RawMessage) {
	var p struct {
		TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	}
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "documentSymbol", p.TextDocument.URI, func(in InputsAndAST) {
		if in.FileResult == nil {
			s.reply(id, nil)
			return
		}
		symbols := outlineOf(in.FileResult.AST, in.FileResult.AST.Root)
		if len(symbols) == 0 {
			s.reply(id, nil)
			return
		}
		s.reply(id, symbols)
	})
}

// outlineOf lists declaration children of a node, recursing into type bodies.
func outlineOf(ast *compiler.AST, parent compiler.NodeID) []protocol.DocumentSymbol {
	n := ast.Node(parent)
	if n == nil {
		return nil
	}
	var out []protocol.DocumentSymbol
	for _, c := range n.Children {
		child := ast.Node(c)
		if child == nil || !child.Kind.IsDecl() || child.Kind == compiler.NodeParam {
			continue
		}
		ds := protocol.DocumentSymbol{
			Name:           child.Name,
			Detail:         child.TypeName,
			Kind:           documentSymbolKind(child.Kind),
			Range:          toProtoRange(child.Range),
			SelectionRange: toProtoRange(child.SelRange),
		}
		switch child.Kind {
		case compiler.NodeClassDecl, compiler.NodeInterfaceDecl,
			compiler.NodeEnumDecl, compiler.NodeStructDecl, compiler.NodeExtendDecl:
			ds.Children = outlineOf(ast, c)
		}
		out = append(out, ds)
	}
	return out
}

func documentSymbolKind(kind compiler.NodeKind) int {
	switch kind {
	case compiler.NodeFuncDecl:
		return protocol.SymbolKindFunction
	case compiler.NodeClassDecl, compiler.NodeExtendDecl:
		return protocol.SymbolKindClass
	case compiler.NodeInterfaceDecl:
		return protocol.SymbolKindInterface
	case compiler.NodeEnumDecl:
		return protocol.SymbolKindEnum
	case compiler.NodeStructDecl:
		return protocol.SymbolKindStruct
	case compiler.NodeEnumCtor:
		return protocol.SymbolKindEnumMember
	default:
		return protocol.SymbolKindVariable
	}
}

// handleDocumentLink renders import statements as links to the file that
// importTarget picks.
func (s *Server) handleDocumentLink(id, params json.RawMessage) {
	var p struct {
		TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	}
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "documentLink", p.TextDocument.URI, func(in InputsAndAST) {
		if in.FileResult == nil {
			s.reply(id, nil)
			return
		}
		var links []protocol.DocumentLink
		for imp, nodeID := range in.FileResult.Imports {
			n := in.FileResult.AST.Node(nodeID)
			if n == nil {
				continue
			}
			link := protocol.DocumentLink{Range: toProtoRange(n.Range)}
			if target := s.importTarget(in, imp); target != "" {
				link.Target = string(protocol.PathToURI(target))
			}
			links = append(links, link)
		}
		if len(links) == 0 {
			s.reply(id, nil)
			return
		}
		s.reply(id, links)
	})
}

// importTarget resolves an import path: a named symbol's declaring file, or
// else one of the package's source files, taken in map order, so which one is
// not fixed.
func (s *Server) importTarget(in InputsAndAST, imp string) string {
	if sym := s.importedSymbol(in, imp); sym != nil {
		return sym.File
	}
	pkg, _ := splitImportPath(imp)
	snap, _ := s.proj.Snapshot(pkg)
	if snap == nil || snap.Sema == nil {
		return ""
	}
	for path := range snap.Sema.Files {
		return path
	}
	return ""
}
