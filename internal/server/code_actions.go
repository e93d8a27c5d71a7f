package server

import (
	"encoding/json"
	"strconv"

	"cjls/internal/logging"
	"cjls/internal/protocol"
)

// handleCodeAction enumerates applicable tweaks: cached quick fixes whose
// diagnostics overlap the selection, plus the batch source actions.
func (s *Server) handleCodeAction(id, params json.RawMessage) {
	var p protocol.CodeActionParams
	if !s.decode(id, params, &p) {
		return
	}

	s.fixitsMu.Lock()
	cached := append([]protocol.CodeAction(nil), s.fixits[p.TextDocument.URI]...)
	s.fixitsMu.Unlock()

	var out []protocol.CodeAction
	for _, action := range cached {
		if action.Command != nil && action.Edit == nil {
			out = append(out, action) // batch commands apply file-wide
			continue
		}
		if len(action.Diagnostics) == 0 || rangesOverlap(action.Diagnostics[0].Range, p.Range) {
			out = append(out, action)
		}
	}
	if len(out) == 0 {
		s.reply(id, nil)
		return
	}
	s.reply(id, out)
}

func rangesOverlap(a, b protocol.Range) bool {
	if a.End.Line < b.Start.Line || b.End.Line < a.Start.Line {
		return false
	}
	if a.End.Line == b.Start.Line && a.End.Character < b.Start.Character {
		return false
	}
	if b.End.Line == a.Start.Line && b.End.Character < a.Start.Character {
		return false
	}
	return true
}

// handleExecuteCommand executes a chosen tweak via the applyEdit round trip.
func (s *Server) handleExecuteCommand(id, params json.RawMessage) {
	var p protocol.ExecuteCommandParams
	if !s.decode(id, params, &p) {
		return
	}
	switch p.Command {
	case cmdImportAll:
		s.executeBatchFix(id, p, func(a protocol.CodeAction) bool {
			return a.Kind == "quickfix" && a.Edit != nil && hasImportTitle(a.Title)
		})
	case cmdRemoveUnusedImports:
		s.executeBatchFix(id, p, func(a protocol.CodeAction) bool {
			return a.Title == "Remove unused import"
		})
	case cmdApplyQuickFix:
		s.executeBatchFix(id, p, func(a protocol.CodeAction) bool { return a.Edit != nil })
	default:
		s.replyError(id, protocol.CodeInvalidParams, "unknown command: "+p.Command)
	}
}

func hasImportTitle(title string) bool {
	return len(title) > 7 && title[:7] == "import "
}

// executeBatchFix merges every cached fix passing the filter into one
// workspace edit and sends it to the client.
func (s *Server) executeBatchFix(id json.RawMessage, p protocol.ExecuteCommandParams, keep func(protocol.CodeAction) bool) {
	var uri protocol.DocumentURI
	if len(p.Arguments) > 0 {
		var text string
		if err := json.Unmarshal(p.Arguments[0], &text); err == nil {
			uri = protocol.DocumentURI(text)
		}
	}

	s.fixitsMu.Lock()
	var merged protocol.WorkspaceEdit
	merged.Changes = make(map[protocol.DocumentURI][]protocol.TextEdit)
	for fixURI, actions := range s.fixits {
		if uri != "" && fixURI != uri {
			continue
		}
		for _, a := range actions {
			if !keep(a) || a.Edit == nil {
				continue
			}
			for u, edits := range a.Edit.Changes {
				merged.Changes[u] = append(merged.Changes[u], edits...)
			}
		}
	}
	s.fixitsMu.Unlock()

	if len(merged.Changes) == 0 {
		s.reply(id, nil)
		return
	}

	// applyEdit is a server->client call; the command replies once the
	// client acknowledges.
	err := s.conn.Call("workspace/applyEdit", protocol.ApplyWorkspaceEditParams{
		Label: p.Command,
		Edit:  merged,
	}, func(result json.RawMessage, callErr *protocol.ResponseError) {
		if callErr != nil {
			logging.Get(logging.CategoryFeatures).Warn("applyEdit rejected: %s", callErr.Message)
		}
		s.reply(id, map[string]bool{"applied": callErr == nil})
	})
	if err != nil {
		s.replyError(id, protocol.CodeInternalError, err.Error())
	}
}

// handleCodeLens renders a reference-count lens per top-level declaration.
func (s *Server) handleCodeLens(id, params json.RawMessage) {
	var p protocol.CodeLensParams
	if !s.decode(id, params, &p) {
		return
	}
	if s.embeddedHost {
		s.reply(id, nil)
		return
	}
	s.runWithAST(s.pools.General, "codeLens", p.TextDocument.URI, func(in InputsAndAST) {
		if in.Snapshot == nil {
			s.reply(id, nil)
			return
		}
		var lenses []protocol.CodeLens
		for _, sym := range in.Snapshot.Sema.Symbols {
			if sym.File != in.File || sym.Container != "" {
				continue
			}
			count := 0
			if s.store != nil {
				refs, err := s.store.GetReferences(sym.ID, "")
				if err == nil {
					count = len(refs)
				}
			}
			lenses = append(lenses, protocol.CodeLens{
				Range: toProtoRange(sym.SelRange),
				Command: &protocol.Command{
					Title:   lensTitle(count),
					Command: "cjls.showReferences",
				},
			})
		}
		if len(lenses) == 0 {
			s.reply(id, nil)
			return
		}
		s.reply(id, lenses)
	})
}

func lensTitle(count int) string {
	if count == 1 {
		return "1 reference"
	}
	return strconv.Itoa(count) + " references"
}
