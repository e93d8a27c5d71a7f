package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"cjls/internal/compiler"
	"cjls/internal/protocol"
)

// Semantic token type indices into the advertised legend.
var tokenTypeIndex = func() map[string]int {
	m := make(map[string]int, len(semanticTokenTypes))
	for i, t := range semanticTokenTypes {
		m[t] = i
	}
	return m
}()

var semanticResultSeq atomic.Int64

// handleSemanticTokensFull emits the delta-encoded token array over the
// cached semantic view. Range-mode is not advertised; full+delta is.
func (s *Server) handleSemanticTokensFull(id, params json.RawMessage) {
	var p struct {
		TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	}
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithAST(s.pools.General, "semanticTokens", p.TextDocument.URI, func(in InputsAndAST) {
		if in.FileResult == nil {
			s.reply(id, nil)
			return
		}
		data := encodeSemanticTokens(in.FileResult)
		s.reply(id, protocol.SemanticTokens{
			ResultID: fmt.Sprintf("%d", semanticResultSeq.Add(1)),
			Data:     data,
		})
	})
}

// encodeSemanticTokens renders [Δline, Δstart, length, type, modifiers]*.
func encodeSemanticTokens(fr *compiler.FileResult) []int {
	data := make([]int, 0, len(fr.Tokens)*5)
	prevLine, prevStart := 0, 0

	for _, tok := range fr.Tokens {
		typeIdx, mods, ok := classifyToken(fr, tok)
		if !ok {
			continue
		}
		line, start := tok.Start.Line, tok.Start.Col
		length := tokenLength(tok)

		dLine := line - prevLine
		dStart := start
		if dLine == 0 {
			dStart = start - prevStart
		}
		data = append(data, dLine, dStart, length, typeIdx, mods)
		prevLine, prevStart = line, start
	}
	return data
}

// tokenLength is the single-line render length: multi-line strings report
// their first physical line only, since the encoding cannot span lines.
func tokenLength(tok compiler.Token) int {
	if tok.End.Line == tok.Start.Line {
		return tok.End.Col - tok.Start.Col
	}
	if i := strings.IndexByte(tok.Text, '\n'); i >= 0 {
		return i
	}
	return len(tok.Text)
}

// classifyToken maps a token to its legend indices via the semantic targets.
func classifyToken(fr *compiler.FileResult, tok compiler.Token) (int, int, bool) {
	switch tok.Kind {
	case compiler.TokKeyword:
		return tokenTypeIndex["keyword"], 0, true
	case compiler.TokString:
		return tokenTypeIndex["string"], 0, true
	case compiler.TokNumber:
		return tokenTypeIndex["number"], 0, true
	case compiler.TokOperator:
		return tokenTypeIndex["operator"], 0, true
	case compiler.TokIdent:
		// Resolve the identifier through the AST node covering it.
		node := fr.AST.NodeAt(tok.Start)
		if node == nil {
			return tokenTypeIndex["variable"], 0, true
		}
		if node.Kind.IsDecl() && node.SelRange.Contains(tok.Start) {
			return declTokenType(node.Kind), 1 << 0, true // declaration modifier
		}
		return refTokenType(fr, node), 0, true
	default:
		return 0, 0, false
	}
}

func declTokenType(kind compiler.NodeKind) int {
	switch kind {
	case compiler.NodeClassDecl:
		return tokenTypeIndex["class"]
	case compiler.NodeInterfaceDecl:
		return tokenTypeIndex["interface"]
	case compiler.NodeEnumDecl:
		return tokenTypeIndex["enum"]
	case compiler.NodeStructDecl:
		return tokenTypeIndex["struct"]
	case compiler.NodeFuncDecl:
		return tokenTypeIndex["function"]
	case compiler.NodeParam:
		return tokenTypeIndex["parameter"]
	default:
		return tokenTypeIndex["variable"]
	}
}

func refTokenType(fr *compiler.FileResult, node *compiler.Node) int {
	switch node.Kind {
	case compiler.NodeCallExpr:
		return tokenTypeIndex["function"]
	case compiler.NodeMemberExpr:
		return tokenTypeIndex["property"]
	case compiler.NodeRefExpr:
		if parent := fr.AST.Node(node.Parent); parent != nil && parent.Kind == compiler.NodeCallExpr &&
			len(parent.Children) > 0 && parent.Children[0] == node.ID {
			return tokenTypeIndex["function"]
		}
		if node.Name != "" && node.Name[0] >= 'A' && node.Name[0] <= 'Z' {
			return tokenTypeIndex["type"]
		}
		return tokenTypeIndex["variable"]
	default:
		return tokenTypeIndex["variable"]
	}
}
