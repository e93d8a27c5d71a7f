package server

import (
	"encoding/json"

	"cjls/internal/compiler"
	"cjls/internal/protocol"
)

// handlePrepareRename validates that the cursor sits on a renameable
// identifier and returns its range.
func (s *Server) handlePrepareRename(id, params json.RawMessage) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "prepareRename", p.TextDocument.URI, func(in InputsAndAST) {
		sym, tok := s.declarationAt(in, toPos(p.Position))
		if sym == nil || tok == nil || tok.Kind != compiler.TokIdent {
			s.reply(id, nil)
			return
		}
		// Packages stay untouchable; every other resolved symbol kind,
		// parameters included, is renameable.
		if sym.Kind == compiler.SymPackage {
			s.reply(id, nil)
			return
		}
		s.reply(id, toProtoRange(tok.Range()))
	})
}

// handleRename collects every edit location by combining same-package AST
// walks with index rows across dependent packages, grouped by URI.
func (s *Server) handleRename(id, params json.RawMessage) {
	var p protocol.RenameParams
	if !s.decode(id, params, &p) {
		return
	}
	if !validIdentifier(p.NewName) {
		s.replyError(id, protocol.CodeInvalidParams, "invalid identifier: "+p.NewName)
		return
	}
	s.runWithAST(s.pools.General, "rename", p.TextDocument.URI, func(in InputsAndAST) {
		sym, _ := s.declarationAt(in, toPos(p.Position))
		if sym == nil {
			s.reply(id, nil)
			return
		}

		locs := s.collectReferences(in, sym, true)
		edits := make(map[protocol.DocumentURI][]protocol.TextEdit)
		for _, loc := range locs {
			edits[loc.URI] = append(edits[loc.URI], protocol.TextEdit{
				Range:   loc.Range,
				NewText: p.NewName,
			})
		}
		if len(edits) == 0 {
			s.reply(id, nil)
			return
		}

		docChanges := make([]protocol.TextDocumentEdit, 0, len(edits))
		for uri, te := range edits {
			doc := s.docs.Get(protocol.URIToPath(uri))
			var version *int64
			if doc.Version >= 0 {
				v := doc.Version
				version = &v
			}
			docChanges = append(docChanges, protocol.TextDocumentEdit{
				TextDocument: protocol.OptionalVersionedTextDocumentIdentifier{URI: uri, Version: version},
				Edits:        te,
			})
		}
		s.reply(id, protocol.WorkspaceEdit{Changes: edits, DocumentChanges: docChanges})
	})
}

// validIdentifier checks the new name lexes as a single identifier.
func validIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		ok := c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || (i > 0 && c >= '0' && c <= '9')
		if !ok {
			return false
		}
	}
	return true
}
