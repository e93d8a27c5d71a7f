package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cjls/internal/compiler"
	"cjls/internal/protocol"
)

// handleDefinition resolves the declaration under the cursor.
func (s *Server) handleDefinition(id, params json.RawMessage) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "definition", p.TextDocument.URI, func(in InputsAndAST) {
		sym, _ := s.declarationAt(in, toPos(p.Position))
		if sym == nil {
			s.reply(id, nil)
			return
		}
		s.reply(id, locationOf(sym))
	})
}

// handleReferences computes use sites by walking the declaring package's AST
// and joining with the persistent index across dependents.
func (s *Server) handleReferences(id, params json.RawMessage) {
	var p protocol.ReferenceParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "references", p.TextDocument.URI, func(in InputsAndAST) {
		sym, _ := s.declarationAt(in, toPos(p.Position))
		if sym == nil {
			s.reply(id, nil)
			return
		}
		locs := s.collectReferences(in, sym, p.Context.IncludeDeclaration)
		if len(locs) == 0 {
			s.reply(id, nil)
			return
		}
		s.reply(id, locs)
	})
}

// collectReferences merges same-package AST hits with cross-package index
// rows, de-duplicated by location.
func (s *Server) collectReferences(in InputsAndAST, sym *compiler.Symbol, includeDecl bool) []protocol.Location {
	type key struct {
		file string
		r    compiler.Range
	}
	seen := make(map[key]bool)
	var out []protocol.Location
	add := func(file string, r compiler.Range) {
		k := key{file, r}
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, protocol.Location{URI: protocol.PathToURI(file), Range: toProtoRange(r)})
	}

	// (a) declaring package's AST walk via the reference rows of the
	// declaring snapshot.
	declSnap, _ := s.proj.Snapshot(sym.Package)
	if declSnap != nil && declSnap.Sema != nil {
		for _, ref := range declSnap.Sema.References {
			if ref.Symbol == sym.ID {
				add(ref.File, ref.Range)
			}
		}
	}
	// The requesting file's package may differ from the declaring one.
	if in.Snapshot != nil && in.Snapshot.Sema.Package != sym.Package {
		for _, ref := range in.Snapshot.Sema.References {
			if ref.Symbol == sym.ID {
				add(ref.File, ref.Range)
			}
		}
	}

	// (b) index join across dependents.
	if s.store != nil {
		rows, err := s.store.GetReferences(sym.ID, "")
		if err == nil {
			for _, r := range rows {
				add(r.File, r.Range)
			}
		}
	}

	if includeDecl {
		add(sym.File, sym.SelRange)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		if out[i].Range.Start.Line != out[j].Range.Start.Line {
			return out[i].Range.Start.Line < out[j].Range.Start.Line
		}
		return out[i].Range.Start.Character < out[j].Range.Start.Character
	})
	return out
}

// handleHover renders a signature card for the declaration under the cursor.
func (s *Server) handleHover(id, params json.RawMessage) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "hover", p.TextDocument.URI, func(in InputsAndAST) {
		sym, tok := s.declarationAt(in, toPos(p.Position))
		if sym == nil {
			s.reply(id, nil)
			return
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "```cangjie\n%s %s%s\n```\n", sym.Kind, sym.Name, sym.Signature)
		if sym.Container != "" {
			fmt.Fprintf(&sb, "\nMember of `%s`\n", sym.Container)
		}
		fmt.Fprintf(&sb, "\nPackage `%s`\n", sym.Package)
		if sym.Doc != "" {
			sb.WriteString("\n" + sym.Doc + "\n")
		}
		if sym.Deprecated {
			sb.WriteString("\n*deprecated*\n")
		}

		hover := protocol.Hover{
			Contents: protocol.MarkupContent{Kind: "markdown", Value: sb.String()},
		}
		if tok != nil {
			r := toProtoRange(tok.Range())
			hover.Range = &r
		}
		s.reply(id, hover)
	})
}

// handleDocumentHighlight marks every occurrence of the symbol in the file.
func (s *Server) handleDocumentHighlight(id, params json.RawMessage) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "documentHighlight", p.TextDocument.URI, func(in InputsAndAST) {
		sym, _ := s.declarationAt(in, toPos(p.Position))
		if sym == nil || in.FileResult == nil {
			s.reply(id, nil)
			return
		}
		var out []protocol.DocumentHighlight
		fr := in.FileResult
		for nodeID, target := range fr.Targets {
			if target != sym.ID {
				continue
			}
			n := fr.AST.Node(nodeID)
			if n == nil {
				continue
			}
			out = append(out, protocol.DocumentHighlight{Range: toProtoRange(n.SelRange), Kind: protocol.HighlightRead})
		}
		if sym.File == in.File {
			out = append(out, protocol.DocumentHighlight{Range: toProtoRange(sym.SelRange), Kind: protocol.HighlightWrite})
		}
		if len(out) == 0 {
			s.reply(id, nil)
			return
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Range.Start.Line != out[j].Range.Start.Line {
				return out[i].Range.Start.Line < out[j].Range.Start.Line
			}
			return out[i].Range.Start.Character < out[j].Range.Start.Character
		})
		s.reply(id, out)
	})
}
