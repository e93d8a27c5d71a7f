package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"cjls/internal/compiler"
	"cjls/internal/logging"
	"cjls/internal/protocol"
)

// handleCompletion runs on its own pool so typing never head-of-line blocks
// behind slower feature actions.
func (s *Server) handleCompletion(id, params json.RawMessage) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithASTCache(s.pools.Completion, "completion", p.TextDocument.URI, p.Position, func(in InputsAndAST) {
		items := s.completionsAt(in, p.Position)
		if items == nil {
			s.reply(id, nil)
			return
		}
		s.reply(id, protocol.CompletionList{IsIncomplete: false, Items: items})
		s.maybeSendCompletionTip()
	})
}

// completionsAt derives the prefix fingerprint and scope context at the
// cursor, then merges in-memory package candidates with index matches.
func (s *Server) completionsAt(in InputsAndAST, pos protocol.Position) []protocol.CompletionItem {
	line := lineAt(in.Doc.Contents, pos.Line)
	if pos.Character > len(line) {
		return nil
	}
	head := line[:pos.Character]

	prefix := identSuffix(head)
	beforePrefix := strings.TrimSuffix(head, prefix)
	memberOnly := strings.HasSuffix(beforePrefix, ".")

	var candidates []*compiler.Symbol
	if memberOnly {
		receiver := identSuffix(strings.TrimSuffix(beforePrefix, "."))
		candidates = s.memberCandidates(in, receiver)
	} else {
		candidates = s.scopeCandidates(in)
	}

	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	for _, sym := range candidates {
		// Compiler-synthesized box types never surface.
		if sym.Synthesized || strings.HasPrefix(sym.Name, "$") {
			continue
		}
		score := matchScore(prefix, sym.Name)
		if score <= 0 {
			continue
		}
		if seen[sym.Name+sym.Signature] {
			continue
		}
		seen[sym.Name+sym.Signature] = true
		items = append(items, completionItem(sym, score))
	}

	// Index fuzzy candidates supplement scope hits outside member context.
	if !memberOnly && prefix != "" && s.store != nil {
		if matches, err := s.store.GetMatchingSymbols(prefix, "", 50); err == nil {
			for _, m := range matches {
				if seen[m.Symbol.Name+m.Symbol.Signature] {
					continue
				}
				seen[m.Symbol.Name+m.Symbol.Signature] = true
				items = append(items, protocol.CompletionItem{
					Label:      m.Symbol.Name,
					Kind:       completionKind(symbolKindFromString(m.Symbol.Kind)),
					Detail:     m.Symbol.Package,
					SortText:   sortKey(m.Score * 0.9), // index hits weigh 0.9 of their fuzzy score
					InsertText: m.Symbol.Name,
				})
			}
		}
	}

	if len(items) == 0 {
		return nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SortText < items[j].SortText })
	return items
}

// memberCandidates resolves the receiver's static type and lists its members,
// walking the supertype chain across package snapshots.
func (s *Server) memberCandidates(in InputsAndAST, receiver string) []*compiler.Symbol {
	if in.Snapshot == nil || receiver == "" {
		return nil
	}
	typeName := s.receiverType(in, receiver)
	if typeName == "" {
		return nil
	}

	var out []*compiler.Symbol
	seen := make(map[string]bool)
	var collect func(t string)
	collect = func(t string) {
		if t == "" || seen[t] {
			return
		}
		seen[t] = true
		for _, pkgName := range s.proj.Packages() {
			snap, _ := s.proj.Snapshot(pkgName)
			if snap == nil || snap.Sema == nil {
				continue
			}
			for _, m := range snap.Sema.Members[t] {
				out = append(out, m)
			}
			for _, typeSym := range snap.Sema.TopLevel[t] {
				if fr, ok := snap.Sema.Files[typeSym.File]; ok {
					if n := fr.AST.Node(typeSym.Node); n != nil {
						for _, sup := range n.Supers {
							collect(sup)
						}
					}
				}
			}
		}
	}
	collect(strings.TrimSuffix(typeName, "?"))
	return out
}

// receiverType finds the static type of the receiver identifier: local
// declarations in the current file first, then top-level symbols.
func (s *Server) receiverType(in InputsAndAST, receiver string) string {
	fr := in.FileResult
	if fr == nil {
		return ""
	}
	typeName := ""
	fr.AST.Walk(fr.AST.Root, func(n *compiler.Node) bool {
		if (n.Kind == compiler.NodeVarDecl || n.Kind == compiler.NodeParam) &&
			n.Name == receiver && n.TypeName != "" {
			typeName = n.TypeName
		}
		return true
	})
	if typeName != "" {
		return typeName
	}
	for _, sym := range in.Snapshot.Sema.TopLevel[receiver] {
		switch sym.Kind {
		case compiler.SymClass, compiler.SymStruct, compiler.SymEnum, compiler.SymInterface:
			return sym.Name // static member access on the type itself
		default:
			if sym.TypeName != "" {
				return sym.TypeName
			}
		}
	}
	return ""
}

// scopeCandidates lists the package's top-level symbols plus every symbol
// declared in the current file.
func (s *Server) scopeCandidates(in InputsAndAST) []*compiler.Symbol {
	if in.Snapshot == nil {
		return nil
	}
	var out []*compiler.Symbol
	for _, sym := range in.Snapshot.Sema.Symbols {
		if sym.Container == "" || sym.File == in.File {
			out = append(out, sym)
		}
	}
	return out
}

// completionItem renders a symbol with its 6-digit padded sort key.
func completionItem(sym *compiler.Symbol, score float64) protocol.CompletionItem {
	insert := sym.Name
	detail := sym.Signature
	if sym.Kind == compiler.SymFunc || sym.Kind == compiler.SymMember {
		insert = sym.Name + "()"
	}
	if detail == "" {
		detail = sym.TypeName
	}
	return protocol.CompletionItem{
		Label:      sym.Name,
		Kind:       completionKind(sym.Kind),
		Detail:     detail,
		SortText:   sortKey(score),
		InsertText: insert,
	}
}

// sortKey renders the ascending sort key padleft(floor((1-score)*1e6), 6, '0').
func sortKey(score float64) string {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return fmt.Sprintf("%06d", int((1-score)*1e6))
}

// matchScore scores a candidate against the typed prefix in [0, 1].
func matchScore(prefix, name string) float64 {
	if prefix == "" {
		return 0.5
	}
	if name == prefix {
		return 1
	}
	lower, lname := strings.ToLower(prefix), strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, prefix):
		return 0.9 * float64(len(prefix)) / float64(len(name))
	case strings.HasPrefix(lname, lower):
		return 0.8 * float64(len(prefix)) / float64(len(name))
	case strings.Contains(lname, lower):
		return 0.4
	default:
		return 0
	}
}

func completionKind(k compiler.SymbolKind) int {
	switch k {
	case compiler.SymFunc:
		return protocol.CompletionKindFunction
	case compiler.SymMember:
		return protocol.CompletionKindMethod
	case compiler.SymClass:
		return protocol.CompletionKindClass
	case compiler.SymInterface:
		return protocol.CompletionKindInterface
	case compiler.SymEnum:
		return protocol.CompletionKindEnum
	case compiler.SymStruct:
		return protocol.CompletionKindStruct
	case compiler.SymEnumCtor:
		return protocol.CompletionKindField
	default:
		return protocol.CompletionKindVariable
	}
}

// lineAt returns one line of text without its newline.
func lineAt(content string, line int) string {
	start := 0
	for l := 0; l < line; l++ {
		i := strings.IndexByte(content[start:], '\n')
		if i < 0 {
			return ""
		}
		start += i + 1
	}
	if end := strings.IndexByte(content[start:], '\n'); end >= 0 {
		return content[start : start+end]
	}
	return content[start:]
}

// identSuffix returns the trailing identifier characters of s.
func identSuffix(s string) string {
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			i--
			continue
		}
		break
	}
	return s[i:]
}

// maybeSendCompletionTip publishes the one-shot completion tip extension.
func (s *Server) maybeSendCompletionTip() {
	if s.completionTipSent.CompareAndSwap(false, true) {
		s.notify("textDocument/publishCompletionTip", map[string]string{
			"tip": "completion items are ranked; accept with Tab",
		})
	}
}

// handleTrackCompletion records which completion the user accepted.
func (s *Server) handleTrackCompletion(params json.RawMessage) {
	var p protocol.TrackCompletionParams
	if !s.decode(nil, params, &p) {
		return
	}
	logging.Features("completion accepted: %s (index %d)", p.Label, p.Index)
}
