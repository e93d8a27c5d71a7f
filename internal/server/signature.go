package server

import (
	"encoding/json"
	"strings"

	"cjls/internal/compiler"
	"cjls/internal/protocol"
)

// handleSignatureHelp resolves the enclosing call and renders its signature,
// on the dedicated signature-help pool.
func (s *Server) handleSignatureHelp(id, params json.RawMessage) {
	var p protocol.TextDocumentPositionParams
	if !s.decode(id, params, &p) {
		return
	}
	s.runWithASTCache(s.pools.Signature, "signatureHelp", p.TextDocument.URI, p.Position, func(in InputsAndAST) {
		help := s.signatureAt(in, p.Position)
		if help == nil {
			s.reply(id, nil)
			return
		}
		s.reply(id, help)
	})
}

// signatureAt backtracks the line for the innermost unclosed call, resolves
// the callee and counts commas for the active parameter.
func (s *Server) signatureAt(in InputsAndAST, pos protocol.Position) *protocol.SignatureHelp {
	if in.FileResult == nil {
		return nil
	}
	line := lineAt(in.Doc.Contents, pos.Line)
	if pos.Character > len(line) {
		return nil
	}
	head := line[:pos.Character]

	depth := 0
	commas := 0
	callee := ""
	for i := len(head) - 1; i >= 0; i-- {
		switch head[i] {
		case ')':
			depth++
		case '(':
			if depth == 0 {
				callee = identSuffix(head[:i])
				i = -1
			} else {
				depth--
			}
		case ',':
			if depth == 0 {
				commas++
			}
		}
		if callee != "" {
			break
		}
	}
	if callee == "" {
		return nil
	}

	sym := s.lookupCallable(in, callee)
	if sym == nil {
		return nil
	}

	label := sym.Name + sym.Signature
	sig := protocol.SignatureInformation{
		Label:         label,
		Documentation: sym.Doc,
		Parameters:    signatureParams(sym.Signature),
	}
	active := commas
	if n := len(sig.Parameters); n > 0 && active >= n {
		active = n - 1
	}
	return &protocol.SignatureHelp{
		Signatures:      []protocol.SignatureInformation{sig},
		ActiveSignature: 0,
		ActiveParameter: active,
	}
}

// lookupCallable finds a function or constructor by name across the current
// package and its dependencies.
func (s *Server) lookupCallable(in InputsAndAST, name string) *compiler.Symbol {
	if in.Snapshot == nil {
		return nil
	}
	for _, sym := range in.Snapshot.Sema.TopLevel[name] {
		if sym.Kind == compiler.SymFunc || sym.Kind == compiler.SymClass || sym.Kind == compiler.SymStruct {
			return sym
		}
	}
	for _, pkgName := range s.proj.Packages() {
		snap, _ := s.proj.Snapshot(pkgName)
		if snap == nil || snap.Sema == nil {
			continue
		}
		for _, sym := range snap.Sema.TopLevel[name] {
			if sym.Kind == compiler.SymFunc || sym.Kind == compiler.SymClass || sym.Kind == compiler.SymStruct {
				return sym
			}
		}
	}
	return nil
}

// signatureParams splits a rendered "(T1, T2): R" signature into parameters.
func signatureParams(sig string) []protocol.ParameterInformation {
	open := strings.IndexByte(sig, '(')
	closeIdx := strings.LastIndexByte(sig, ')')
	if open < 0 || closeIdx <= open {
		return nil
	}
	inner := strings.TrimSpace(sig[open+1 : closeIdx])
	if inner == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]protocol.ParameterInformation, 0, len(parts))
	for _, p := range parts {
		out = append(out, protocol.ParameterInformation{Label: strings.TrimSpace(p)})
	}
	return out
}
