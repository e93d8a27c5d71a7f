package compiler

import (
	"fmt"
	"strings"
)

// Diagnostic is one front-end finding for a file.
type Diagnostic struct {
	Path     string
	Range    Range
	Severity int // 1=error 2=warning 3=info 4=hint
	Code     string
	Message  string
}

// Diagnostic severities, mirroring the wire values.
const (
	DiagError   = 1
	DiagWarning = 2
	DiagInfo    = 3
	DiagHint    = 4
)

// ParseResult is the per-file output of the parse step.
type ParseResult struct {
	Path        string
	Tokens      []Token
	AST         *AST
	Diagnostics []Diagnostic
	PackageName string
	// Imports maps the imported package path to the import node.
	Imports map[string]NodeID
}

// parser consumes a comment-free token stream, keeping comments aside to
// attach as docs.
type parser struct {
	path  string
	toks  []Token
	pos   int
	ast   *AST
	diags []Diagnostic
	// docByLine maps the line following a comment block to its text.
	docByLine map[int]string
}

// Parse lexes and parses one file.
func Parse(path, content string) *ParseResult {
	all := Lex(content)
	toks := make([]Token, 0, len(all))
	docByLine := make(map[int]string)
	for _, t := range all {
		if t.Kind == TokComment {
			text := strings.TrimSpace(strings.TrimPrefix(t.Text, "//"))
			if strings.HasPrefix(t.Text, "/*") {
				text = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(t.Text, "/*"), "*/"))
			}
			if prev, ok := docByLine[t.End.Line]; ok {
				text = prev + "\n" + text
			}
			docByLine[t.End.Line+1] = text
			continue
		}
		toks = append(toks, t)
	}

	p := &parser{path: path, toks: toks, ast: &AST{Path: path}, docByLine: docByLine}
	root := p.ast.add(Node{Kind: NodeFile, Parent: NoNode})
	p.ast.Root = root

	result := &ParseResult{
		Path:    path,
		Tokens:  toks,
		AST:     p.ast,
		Imports: make(map[string]NodeID),
	}

	for !p.eof() {
		switch {
		case p.atKeyword("package"):
			result.PackageName = p.parsePackageClause(root)
		case p.atKeyword("import"):
			pkg, id := p.parseImport(root)
			if pkg != "" {
				result.Imports[pkg] = id
			}
		default:
			if id := p.parseDecl(root); id == NoNode {
				// Skip an unparseable token to guarantee progress.
				p.next()
			}
		}
	}

	result.Diagnostics = p.diags
	return result
}

// --- token helpers ---

func (p *parser) eof() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() Token {
	if p.eof() {
		return Token{Kind: TokEOF}
	}
	return p.toks[p.pos]
}

func (p *parser) next() Token {
	t := p.peek()
	if !p.eof() {
		p.pos++
	}
	return t
}

func (p *parser) atKeyword(kw string) bool {
	t := p.peek()
	return t.Kind == TokKeyword && t.Text == kw
}

func (p *parser) atPunct(s string) bool {
	t := p.peek()
	return (t.Kind == TokPunct || t.Kind == TokOperator) && t.Text == s
}

func (p *parser) accept(s string) bool {
	if p.atPunct(s) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorAt(t Token, code, format string, args ...interface{}) {
	p.diags = append(p.diags, Diagnostic{
		Path:     p.path,
		Range:    t.Range(),
		Severity: DiagError,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
	})
}

// --- clauses ---

func (p *parser) parsePackageClause(root NodeID) string {
	start := p.next() // package
	name, last := p.parseDottedName()
	if name == "" {
		p.errorAt(start, "expected-name", "expected package name")
		return ""
	}
	id := p.ast.add(Node{
		Kind:     NodePackageClause,
		Name:     name,
		Range:    Range{Start: start.Start, End: last.End},
		SelRange: Range{Start: last.Start, End: last.End},
	})
	p.ast.attach(root, id)
	return name
}

func (p *parser) parseImport(root NodeID) (string, NodeID) {
	start := p.next() // import
	name, last := p.parseDottedName()
	if name == "" {
		p.errorAt(start, "expected-name", "expected import path")
		return "", NoNode
	}
	id := p.ast.add(Node{
		Kind:     NodeImport,
		Name:     name,
		Range:    Range{Start: start.Start, End: last.End},
		SelRange: Range{Start: last.Start, End: last.End},
	})
	p.ast.attach(root, id)
	return name, id
}

// parseDottedName consumes ident ("." ident)* with a trailing ".*" allowed.
func (p *parser) parseDottedName() (string, Token) {
	t := p.peek()
	if t.Kind != TokIdent {
		return "", t
	}
	p.next()
	name := t.Text
	last := t
	for p.atPunct(".") {
		save := p.pos
		p.next()
		nt := p.peek()
		if nt.Kind == TokIdent {
			p.next()
			name += "." + nt.Text
			last = nt
		} else if nt.Text == "*" {
			p.next()
			name += ".*"
			last = nt
		} else {
			p.pos = save
			break
		}
	}
	return name, last
}

// --- declarations ---

var modifierWords = map[string]bool{
	"public": true, "private": true, "protected": true, "internal": true,
	"open": true, "override": true, "static": true, "abstract": true,
	"unsafe": true,
}

func (p *parser) parseModifiers() []string {
	var mods []string
	for {
		t := p.peek()
		if t.Kind == TokKeyword && modifierWords[t.Text] {
			mods = append(mods, t.Text)
			p.next()
			continue
		}
		return mods
	}
}

// parseDecl parses one top-level or member declaration.
func (p *parser) parseDecl(parent NodeID) NodeID {
	startTok := p.peek()
	mods := p.parseModifiers()

	switch {
	case p.atKeyword("func"):
		return p.parseFunc(parent, startTok, mods, false)
	case p.atKeyword("main"):
		return p.parseFunc(parent, startTok, mods, true)
	case p.atKeyword("init"):
		return p.parseFunc(parent, startTok, mods, true)
	case p.atKeyword("class"):
		return p.parseTypeDecl(parent, startTok, mods, NodeClassDecl)
	case p.atKeyword("interface"):
		return p.parseTypeDecl(parent, startTok, mods, NodeInterfaceDecl)
	case p.atKeyword("struct"):
		return p.parseTypeDecl(parent, startTok, mods, NodeStructDecl)
	case p.atKeyword("enum"):
		return p.parseTypeDecl(parent, startTok, mods, NodeEnumDecl)
	case p.atKeyword("extend"):
		return p.parseExtend(parent, startTok, mods)
	case p.atKeyword("let"), p.atKeyword("var"):
		return p.parseVar(parent, startTok, mods)
	default:
		return NoNode
	}
}

// parseFunc parses func/init/main declarations. keywordNamed means the
// declaration name is the keyword itself (init, main).
func (p *parser) parseFunc(parent NodeID, startTok Token, mods []string, keywordNamed bool) NodeID {
	kw := p.next()
	nameTok := kw
	if !keywordNamed {
		nameTok = p.peek()
		ok := nameTok.Kind == TokIdent ||
			(nameTok.Kind == TokOperator && overloadableOperators[nameTok.Text]) ||
			(nameTok.Kind == TokKeyword && addressableKeywords[nameTok.Text])
		if !ok {
			p.errorAt(kw, "expected-name", "expected function name after 'func'")
			return NoNode
		}
		p.next()
	}

	id := p.ast.add(Node{
		Kind:      NodeFuncDecl,
		Name:      nameTok.Text,
		Modifiers: mods,
		Range:     Range{Start: startTok.Start, End: nameTok.End},
		SelRange:  nameTok.Range(),
		Doc:       p.docByLine[startTok.Start.Line],
	})
	p.ast.attach(parent, id)

	p.skipGenericArgs()
	if p.accept("(") {
		p.parseParams(id)
	}
	if p.accept(":") {
		p.ast.Nodes[id].TypeName = p.parseTypeName()
	}
	if p.atPunct("{") {
		block := p.parseBlock(id)
		p.ast.Nodes[id].Range.End = p.ast.Nodes[block].Range.End
	} else {
		p.ast.Nodes[id].Range.End = p.lastEnd(nameTok)
	}
	return id
}

func (p *parser) parseParams(fn NodeID) {
	for !p.eof() && !p.atPunct(")") {
		t := p.peek()
		if t.Kind == TokIdent {
			p.next()
			param := p.ast.add(Node{
				Kind:     NodeParam,
				Name:     t.Text,
				Range:    t.Range(),
				SelRange: t.Range(),
			})
			p.ast.attach(fn, param)
			p.accept("!")
			if p.accept(":") {
				p.ast.Nodes[param].TypeName = p.parseTypeName()
			}
			if p.accept("=") {
				p.parseExpr(param)
			}
			p.accept(",")
			continue
		}
		p.next()
	}
	p.accept(")")
}

func (p *parser) parseTypeDecl(parent NodeID, startTok Token, mods []string, kind NodeKind) NodeID {
	kw := p.next()
	nameTok := p.peek()
	if nameTok.Kind != TokIdent {
		p.errorAt(kw, "expected-name", "expected name after '%s'", kw.Text)
		return NoNode
	}
	p.next()

	id := p.ast.add(Node{
		Kind:      kind,
		Name:      nameTok.Text,
		Modifiers: mods,
		Range:     Range{Start: startTok.Start, End: nameTok.End},
		SelRange:  nameTok.Range(),
		Doc:       p.docByLine[startTok.Start.Line],
	})
	p.ast.attach(parent, id)

	p.skipGenericArgs()
	if p.acceptSuperColon() {
		p.ast.Nodes[id].Supers = p.parseTypeList()
	}
	if p.atPunct("{") {
		p.parseTypeBody(id, kind)
	}
	if last := p.lastConsumed(); last != nil {
		p.ast.Nodes[id].Range.End = last.End
	}
	return id
}

func (p *parser) parseExtend(parent NodeID, startTok Token, mods []string) NodeID {
	p.next() // extend
	target := p.parseTypeName()
	if target == "" {
		p.errorAt(startTok, "expected-name", "expected type after 'extend'")
		return NoNode
	}
	id := p.ast.add(Node{
		Kind:      NodeExtendDecl,
		Name:      target,
		TypeName:  target,
		Modifiers: mods,
		Range:     Range{Start: startTok.Start, End: startTok.End},
		SelRange:  startTok.Range(),
		Doc:       p.docByLine[startTok.Start.Line],
	})
	p.ast.attach(parent, id)
	if p.acceptSuperColon() {
		p.ast.Nodes[id].Supers = p.parseTypeList()
	}
	if p.atPunct("{") {
		p.parseTypeBody(id, NodeExtendDecl)
	}
	if last := p.lastConsumed(); last != nil {
		p.ast.Nodes[id].Range.End = last.End
	}
	return id
}

// parseTypeBody consumes "{ member* }" for type declarations.
func (p *parser) parseTypeBody(owner NodeID, kind NodeKind) {
	open := p.next() // {
	for !p.eof() && !p.atPunct("}") {
		// Enum constructors: "| Ctor" or a leading bare ctor list.
		if kind == NodeEnumDecl && p.atPunct("|") {
			p.next()
			t := p.peek()
			if t.Kind == TokIdent {
				p.next()
				ctor := p.ast.add(Node{
					Kind:     NodeEnumCtor,
					Name:     t.Text,
					Range:    t.Range(),
					SelRange: t.Range(),
				})
				p.ast.attach(owner, ctor)
				if p.accept("(") {
					p.skipBalanced("(", ")")
				}
			}
			continue
		}
		if id := p.parseDecl(owner); id != NoNode {
			continue
		}
		p.next()
	}
	if !p.accept("}") {
		p.errorAt(open, "unclosed-brace", "unclosed '{'")
	}
}

func (p *parser) parseVar(parent NodeID, startTok Token, mods []string) NodeID {
	kw := p.next() // let | var
	nameTok := p.peek()
	if nameTok.Kind != TokIdent {
		p.errorAt(kw, "expected-name", "expected name after '%s'", kw.Text)
		return NoNode
	}
	p.next()

	id := p.ast.add(Node{
		Kind:      NodeVarDecl,
		Name:      nameTok.Text,
		Modifiers: append(mods, kw.Text),
		Range:     Range{Start: startTok.Start, End: nameTok.End},
		SelRange:  nameTok.Range(),
		Doc:       p.docByLine[startTok.Start.Line],
	})
	p.ast.attach(parent, id)

	if p.accept(":") {
		p.ast.Nodes[id].TypeName = p.parseTypeName()
	}
	if p.accept("=") {
		init := p.parseExpr(id)
		// Local inference: `let x = Ctor(...)` binds x's type to Ctor.
		if p.ast.Nodes[id].TypeName == "" && init != NoNode {
			if tn := p.constructedType(init); tn != "" {
				p.ast.Nodes[id].TypeName = tn
			}
		}
	}
	if last := p.lastConsumed(); last != nil {
		p.ast.Nodes[id].Range.End = last.End
	}
	return id
}

// constructedType reports the type name a call expression constructs, if the
// callee is a capitalized plain reference.
func (p *parser) constructedType(expr NodeID) string {
	n := p.ast.Node(expr)
	if n == nil || n.Kind != NodeCallExpr || len(n.Children) == 0 {
		return ""
	}
	callee := p.ast.Node(n.Children[0])
	if callee == nil || callee.Kind != NodeRefExpr {
		return ""
	}
	if callee.Name == "" || callee.Name[0] < 'A' || callee.Name[0] > 'Z' {
		return ""
	}
	return callee.Name
}

// --- statements and expressions ---

// parseBlock consumes "{ stmt* }" and returns the block node.
func (p *parser) parseBlock(parent NodeID) NodeID {
	open := p.next() // {
	block := p.ast.add(Node{Kind: NodeBlock, Range: Range{Start: open.Start, End: open.End}})
	p.ast.attach(parent, block)

	for !p.eof() && !p.atPunct("}") {
		switch {
		case p.atKeyword("let"), p.atKeyword("var"):
			p.parseVar(block, p.peek(), nil)
		case p.atKeyword("func"):
			p.parseFunc(block, p.peek(), nil, false)
		case p.atPunct("{"):
			p.parseBlock(block)
		default:
			t := p.peek()
			if t.Kind == TokKeyword && !addressableKeywords[t.Text] && !modifierWords[t.Text] {
				// Control keywords are structural noise to the model; their
				// conditions and bodies are still scanned for references.
				p.next()
				continue
			}
			if p.parseExpr(block) == NoNode {
				p.next()
			}
		}
	}
	closeTok := p.peek()
	if !p.accept("}") {
		p.errorAt(open, "unclosed-brace", "unclosed '{'")
	} else {
		p.ast.Nodes[block].Range.End = closeTok.End
	}
	return block
}

// parseExpr parses a binary-operator chain of postfix expressions.
func (p *parser) parseExpr(parent NodeID) NodeID {
	first := p.parsePostfix(parent)
	if first == NoNode {
		return NoNode
	}
	for {
		t := p.peek()
		if t.Kind != TokOperator {
			break
		}
		p.next()
		if p.parsePostfix(parent) == NoNode {
			break
		}
	}
	return first
}

// parsePostfix parses primary expressions with call/member postfix chains.
func (p *parser) parsePostfix(parent NodeID) NodeID {
	t := p.peek()

	var base NodeID
	switch {
	case t.Kind == TokIdent, t.Kind == TokKeyword && (t.Text == "this" || t.Text == "super"):
		p.next()
		base = p.ast.add(Node{
			Kind:     NodeRefExpr,
			Name:     t.Text,
			Range:    t.Range(),
			SelRange: t.Range(),
		})
		p.ast.attach(parent, base)
	case t.Kind == TokString, t.Kind == TokNumber,
		t.Kind == TokKeyword && (t.Text == "true" || t.Text == "false"):
		p.next()
		base = p.ast.add(Node{Kind: NodeLitExpr, Name: t.Text, Range: t.Range(), SelRange: t.Range()})
		p.ast.attach(parent, base)
	case t.Text == "(":
		p.next()
		base = p.parseExpr(parent)
		p.accept(")")
		if base == NoNode {
			return NoNode
		}
	default:
		return NoNode
	}

	for {
		switch {
		case p.atPunct("("):
			open := p.next()
			call := p.ast.add(Node{
				Kind:     NodeCallExpr,
				Range:    Range{Start: p.ast.Nodes[base].Range.Start, End: open.End},
				SelRange: p.ast.Nodes[base].SelRange,
				Name:     p.ast.Nodes[base].Name,
			})
			// Re-parent the callee under the call node; callee stays child 0.
			p.reparent(parent, base, call)
			p.ast.attach(parent, call)
			for !p.eof() && !p.atPunct(")") {
				if p.parseExpr(call) == NoNode {
					p.next()
				}
				p.accept(",")
			}
			closeTok := p.peek()
			if p.accept(")") {
				p.ast.Nodes[call].Range.End = closeTok.End
			}
			base = call
		case p.atPunct("."):
			p.next()
			nameTok := p.peek()
			if nameTok.Kind != TokIdent && !(nameTok.Kind == TokKeyword && addressableKeywords[nameTok.Text]) {
				return base
			}
			p.next()
			member := p.ast.add(Node{
				Kind:     NodeMemberExpr,
				Name:     nameTok.Text,
				Range:    Range{Start: p.ast.Nodes[base].Range.Start, End: nameTok.End},
				SelRange: nameTok.Range(),
			})
			p.reparent(parent, base, member)
			p.ast.attach(parent, member)
			base = member
		case p.atPunct("["):
			p.next()
			p.skipBalanced("[", "]")
		default:
			return base
		}
	}
}

// reparent moves child from under oldParent to newParent's child list.
func (p *parser) reparent(oldParent, child, newParent NodeID) {
	if oldParent != NoNode {
		kids := p.ast.Nodes[oldParent].Children
		for i, k := range kids {
			if k == child {
				p.ast.Nodes[oldParent].Children = append(kids[:i], kids[i+1:]...)
				break
			}
		}
	}
	p.ast.attach(newParent, child)
}

// --- type names and recovery ---

// parseTypeName consumes a dotted type name with optional generic arguments,
// returning its text.
func (p *parser) parseTypeName() string {
	name, _ := p.parseDottedName()
	if name == "" {
		return ""
	}
	p.skipGenericArgs()
	if p.accept("?") {
		name += "?"
	}
	return name
}

func (p *parser) parseTypeList() []string {
	var list []string
	for {
		n := p.parseTypeName()
		if n == "" {
			return list
		}
		list = append(list, n)
		if !p.accept("&") && !p.accept(",") {
			return list
		}
	}
}

// acceptSuperColon consumes the "<:" supertype marker, written as two
// adjacent tokens.
func (p *parser) acceptSuperColon() bool {
	if p.pos+1 < len(p.toks) && p.toks[p.pos].Text == "<" && p.toks[p.pos+1].Text == ":" {
		p.pos += 2
		return true
	}
	return false
}

// skipGenericArgs consumes a balanced <...> group when present.
func (p *parser) skipGenericArgs() {
	if !p.atPunct("<") {
		return
	}
	// Lookahead: generic args close on the same statement with '>'.
	save := p.pos
	p.next()
	depth := 1
	for !p.eof() && depth > 0 {
		t := p.next()
		switch t.Text {
		case "<":
			depth++
		case ">":
			depth--
		case "{", "}", ";":
			p.pos = save
			return
		}
	}
	if depth != 0 {
		p.pos = save
	}
}

// skipBalanced consumes tokens until the matching close for an already
// consumed open.
func (p *parser) skipBalanced(open, close string) {
	depth := 1
	for !p.eof() && depth > 0 {
		t := p.next()
		switch t.Text {
		case open:
			depth++
		case close:
			depth--
		}
	}
}

func (p *parser) lastConsumed() *Token {
	if p.pos == 0 || p.pos > len(p.toks) {
		return nil
	}
	return &p.toks[p.pos-1]
}

func (p *parser) lastEnd(fallback Token) Pos {
	if t := p.lastConsumed(); t != nil {
		return t.End
	}
	return fallback.End
}
