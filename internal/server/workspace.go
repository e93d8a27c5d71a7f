package server

import (
	"encoding/json"

	"cjls/internal/protocol"
)

// handleWorkspaceSymbol serves the fuzzy symbol query from the index.
func (s *Server) handleWorkspaceSymbol(id, params json.RawMessage) {
	var p protocol.WorkspaceSymbolParams
	if !s.decode(id, params, &p) {
		return
	}
	if p.Query == "" || s.store == nil {
		s.reply(id, nil)
		return
	}
	matches, err := s.store.GetMatchingSymbols(p.Query, "", 100)
	if err != nil {
		s.replyError(id, protocol.CodeInternalError, err.Error())
		return
	}
	var out []protocol.SymbolInformation
	for _, m := range matches {
		out = append(out, protocol.SymbolInformation{
			Name: m.Symbol.Name,
			Kind: documentSymbolKindForString(m.Symbol.Kind),
			Location: protocol.Location{
				URI:   protocol.PathToURI(m.Symbol.DeclFile),
				Range: toProtoRange(m.Symbol.DeclRange),
			},
			ContainerName: m.Symbol.Package,
		})
	}
	if len(out) == 0 {
		s.reply(id, nil)
		return
	}
	s.reply(id, out)
}

func documentSymbolKindForString(kind string) int {
	switch kind {
	case "class", "extend":
		return protocol.SymbolKindClass
	case "interface":
		return protocol.SymbolKindInterface
	case "enum":
		return protocol.SymbolKindEnum
	case "struct":
		return protocol.SymbolKindStruct
	case "member":
		return protocol.SymbolKindMethod
	case "variable":
		return protocol.SymbolKindVariable
	case "enum_constructor":
		return protocol.SymbolKindEnumMember
	default:
		return protocol.SymbolKindFunction
	}
}
