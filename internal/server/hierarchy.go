package server

import (
	"encoding/json"
	"sort"
	"strconv"

	"cjls/internal/compiler"
	"cjls/internal/protocol"
)

// hierarchyItem renders a symbol as a type/call hierarchy node, carrying the
// symbol id in Data for follow-up hops.
func hierarchyItem(sym *compiler.Symbol) protocol.HierarchyItem {
	data, _ := json.Marshal(strconv.FormatUint(uint64(sym.ID), 10))
	return protocol.HierarchyItem{
		Name:           sym.Name,
		Kind:           hierarchySymbolKind(sym.Kind),
		URI:            protocol.PathToURI(sym.File),
		Range:          toProtoRange(sym.DeclRange),
		SelectionRange: toProtoRange(sym.SelRange),
		Detail:         sym.Package,
		Data:           data,
	}
}

func hierarchySymbolKind(k compiler.SymbolKind) int {
	switch k {
	case compiler.SymClass:
		return protocol.SymbolKindClass
	case compiler.SymInterface:
		return protocol.SymbolKindInterface
	case compiler.SymEnum:
		return protocol.SymbolKindEnum
	case compiler.SymStruct:
		return protocol.SymbolKindStruct
	case compiler.SymMember:
		return protocol.SymbolKindMethod
	default:
		return protocol.SymbolKindFunction
	}
}

// itemSymbolID recovers the symbol id a hierarchy item carries.
func itemSymbolID(item protocol.HierarchyItem) (compiler.SymbolID, bool) {
	var text string
	if err := json.Unmarshal(item.Data, &text); err != nil {
		return 0, false
	}
	v, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, false
	}
	return compiler.SymbolID(v), true
}

// handlePrepareTypeHierarchy returns the hierarchy root for the type at the
// cursor.
func (s *Server) handlePrepareTypeHierarchy(id, params json.RawMessage) {
	s.prepareHierarchy(id, params, "prepareTypeHierarchy")
}

// handlePrepareCallHierarchy returns the hierarchy root for the callable at
// the cursor.
func (s *Server) handlePrepareCallHierarchy(id, params json.RawMessage) {
	s.prepareHierarchy(id, params, "prepareCallHierarchy")
}

func (s *Server) prepareHierarchy(id, params json.RawMessage, name string) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, name, p.TextDocument.URI, func(in InputsAndAST) {
		sym, _ := s.declarationAt(in, toPos(p.Position))
		if sym == nil {
			s.reply(id, nil)
			return
		}
		s.reply(id, []protocol.HierarchyItem{hierarchyItem(sym)})
	})
}

// resolveRelated maps relation rows to hierarchy items, one lookup per hop.
func (s *Server) resolveRelated(ids []compiler.SymbolID) []protocol.HierarchyItem {
	var out []protocol.HierarchyItem
	seen := make(map[compiler.SymbolID]bool)
	for _, rid := range ids {
		if seen[rid] {
			continue
		}
		seen[rid] = true
		if sym := s.symbolByID(InputsAndAST{}, rid); sym != nil {
			out = append(out, hierarchyItem(sym))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// handleSupertypes performs a single-hop lookup over extends/implements rows.
func (s *Server) handleSupertypes(id, params json.RawMessage) {
	var p protocol.HierarchyItemParams
	if !s.decode(id, params, &p) {
		return
	}
	symID, ok := itemSymbolID(p.Item)
	if !ok || s.store == nil {
		s.reply(id, nil)
		return
	}
	var ids []compiler.SymbolID
	for _, pred := range []string{"extends", "implements"} {
		rows, err := s.store.GetRelations(symID, pred)
		if err != nil {
			continue
		}
		for _, r := range rows {
			ids = append(ids, compiler.SymbolID(r.ObjectID))
		}
	}
	items := s.resolveRelated(ids)
	if len(items) == 0 {
		s.reply(id, nil)
		return
	}
	s.reply(id, items)
}

// handleSubtypes follows stored BASE_OF edges downward.
func (s *Server) handleSubtypes(id, params json.RawMessage) {
	var p protocol.HierarchyItemParams
	if !s.decode(id, params, &p) {
		return
	}
	symID, ok := itemSymbolID(p.Item)
	if !ok || s.store == nil {
		s.reply(id, nil)
		return
	}
	rows, err := s.store.GetRelations(symID, "base_of")
	if err != nil {
		s.reply(id, nil)
		return
	}
	var ids []compiler.SymbolID
	for _, r := range rows {
		ids = append(ids, compiler.SymbolID(r.ObjectID))
	}
	items := s.resolveRelated(ids)
	if len(items) == 0 {
		s.reply(id, nil)
		return
	}
	s.reply(id, items)
}

// handleIncomingCalls lists callers of the item with their call sites.
func (s *Server) handleIncomingCalls(id, params json.RawMessage) {
	var p protocol.HierarchyItemParams
	if !s.decode(id, params, &p) {
		return
	}
	symID, ok := itemSymbolID(p.Item)
	if !ok || s.store == nil {
		s.reply(id, nil)
		return
	}
	rows, err := s.store.GetRelationsTo(symID, "calls")
	if err != nil {
		s.reply(id, nil)
		return
	}

	refs, _ := s.store.GetReferences(symID, "call")
	var out []protocol.CallHierarchyIncomingCall
	for _, r := range rows {
		caller := s.symbolByID(InputsAndAST{}, compiler.SymbolID(r.SubjectID))
		if caller == nil {
			continue
		}
		var ranges []protocol.Range
		for _, ref := range refs {
			if ref.ContainerID == r.SubjectID {
				ranges = append(ranges, toProtoRange(ref.Range))
			}
		}
		out = append(out, protocol.CallHierarchyIncomingCall{
			From:       hierarchyItem(caller),
			FromRanges: ranges,
		})
	}
	if len(out) == 0 {
		s.reply(id, nil)
		return
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From.Name < out[j].From.Name })
	s.reply(id, out)
}

// handleOutgoingCalls lists callees of the item with their call sites.
func (s *Server) handleOutgoingCalls(id, params json.RawMessage) {
	var p protocol.HierarchyItemParams
	if !s.decode(id, params, &p) {
		return
	}
	symID, ok := itemSymbolID(p.Item)
	if !ok || s.store == nil {
		s.reply(id, nil)
		return
	}
	rows, err := s.store.GetRelations(symID, "calls")
	if err != nil {
		s.reply(id, nil)
		return
	}

	outRefs, _ := s.store.GetReferred(symID)
	var out []protocol.CallHierarchyOutgoingCall
	for _, r := range rows {
		callee := s.symbolByID(InputsAndAST{}, compiler.SymbolID(r.ObjectID))
		if callee == nil {
			continue
		}
		var ranges []protocol.Range
		for _, ref := range outRefs {
			if ref.SymbolID == r.ObjectID && ref.Kind == "call" {
				ranges = append(ranges, toProtoRange(ref.Range))
			}
		}
		out = append(out, protocol.CallHierarchyOutgoingCall{
			To:         hierarchyItem(callee),
			FromRanges: ranges,
		})
	}
	if len(out) == 0 {
		s.reply(id, nil)
		return
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To.Name < out[j].To.Name })
	s.reply(id, out)
}
