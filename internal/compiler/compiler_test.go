package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexBasics(t *testing.T) {
	toks := Lex("func f(x: Int64) { g() }\n")
	var texts []string
	for _, tok := range toks {
		texts = append(texts, tok.Text)
	}
	assert.Contains(t, texts, "func")
	assert.Contains(t, texts, "f")
	assert.Contains(t, texts, "Int64")
	assert.Contains(t, texts, "g")
}

func TestLexMultiLineString(t *testing.T) {
	toks := Lex("let s = \"\"\"\nline1\nline2\n\"\"\"\n")
	var str *Token
	for i := range toks {
		if toks[i].Kind == TokString {
			str = &toks[i]
		}
	}
	require.NotNil(t, str)
	assert.Equal(t, 0, str.Start.Line)
	assert.Equal(t, 3, str.End.Line, "multi-line string carries logical end position")
}

func TestLocateTokenContaining(t *testing.T) {
	toks := Lex("func foo() {}")
	// Position inside "foo" (line 0, col 6).
	tok := LocateToken(toks, Pos{Line: 0, Col: 6})
	require.NotNil(t, tok)
	assert.Equal(t, "foo", tok.Text)
}

func TestLocateTokenWhitespacePrefersAddressableLeft(t *testing.T) {
	// "foo (" : position on the whitespace after foo; foo is addressable,
	// '(' is not, so foo wins.
	toks := Lex("foo (")
	tok := LocateToken(toks, Pos{Line: 0, Col: 3})
	require.NotNil(t, tok)
	assert.Equal(t, "foo", tok.Text)
}

func TestLocateTokenJustAfterIdentifier(t *testing.T) {
	toks := Lex("abc def")
	// Col 3 is exactly abc's end.
	tok := LocateToken(toks, Pos{Line: 0, Col: 3})
	require.NotNil(t, tok)
	assert.Equal(t, "abc", tok.Text)
}

func TestParsePackageImportsAndDecls(t *testing.T) {
	src := `package demo.app

import std.collection.Map
import demo.util.*

public class Greeter <: Base {
    let name: String
    public func greet(who: String): String {
    }
}

func main() {
}
`
	parsed := Parse("/proj/a.cj", src)
	assert.Equal(t, "demo.app", parsed.PackageName)
	assert.Contains(t, parsed.Imports, "std.collection.Map")
	assert.Contains(t, parsed.Imports, "demo.util.*")

	var class, fn *Node
	parsed.AST.Walk(parsed.AST.Root, func(n *Node) bool {
		switch {
		case n.Kind == NodeClassDecl:
			class = n
		case n.Kind == NodeFuncDecl && n.Name == "greet":
			fn = n
		}
		return true
	})
	require.NotNil(t, class)
	assert.Equal(t, "Greeter", class.Name)
	assert.Equal(t, []string{"Base"}, class.Supers)
	assert.True(t, class.HasModifier("public"))
	require.NotNil(t, fn)
	assert.Equal(t, "String", fn.TypeName)
}

func TestAnalyzeResolvesCallAcrossFiles(t *testing.T) {
	files := map[string]string{
		"/proj/a.cj": "package demo\nfunc f() { g() }\n",
		"/proj/g.cj": "package demo\nfunc g() {}\n",
	}
	sema := Analyze("demo", "demo", files, nil)

	gSyms := sema.TopLevel["g"]
	require.Len(t, gSyms, 1)

	fr := sema.Files["/proj/a.cj"]
	var ref *Node
	fr.AST.Walk(fr.AST.Root, func(n *Node) bool {
		if n.Kind == NodeRefExpr && n.Name == "g" {
			ref = n
		}
		return true
	})
	require.NotNil(t, ref)
	assert.Equal(t, gSyms[0].ID, fr.Targets[ref.ID])

	// The call produced a reference row and a call relation.
	var foundRef bool
	for _, r := range sema.References {
		if r.Symbol == gSyms[0].ID && r.Kind == RefCall {
			foundRef = true
		}
	}
	assert.True(t, foundRef)
}

func TestAnalyzeCrossPackageImport(t *testing.T) {
	p1 := Analyze("p1", "m", map[string]string{
		"/proj/p1/k.cj": "package p1\npublic class K {\n    public func m() {}\n}\n",
	}, nil)

	p2 := Analyze("p2", "m", map[string]string{
		"/proj/p2/use.cj": "package p2\nimport p1.K\nfunc use() { let k = K()\n k.m() }\n",
	}, map[string]*PackageSema{"p1": p1})

	kSym := p1.TopLevel["K"][0]
	fr := p2.Files["/proj/p2/use.cj"]

	var kRef *Node
	fr.AST.Walk(fr.AST.Root, func(n *Node) bool {
		if n.Kind == NodeRefExpr && n.Name == "K" {
			kRef = n
		}
		return true
	})
	require.NotNil(t, kRef)
	assert.Equal(t, kSym.ID, fr.Targets[kRef.ID])

	// Member call resolves through the inferred type of k.
	var mRef *Node
	fr.AST.Walk(fr.AST.Root, func(n *Node) bool {
		if n.Kind == NodeMemberExpr && n.Name == "m" {
			mRef = n
		}
		return true
	})
	require.NotNil(t, mRef)
	mSym := p1.Members["K"][0]
	assert.Equal(t, mSym.ID, fr.Targets[mRef.ID])
}

func TestAnalyzeUndeclaredIdentifierDiagnostic(t *testing.T) {
	sema := Analyze("demo", "m", map[string]string{
		"/proj/a.cj": "package demo\nfunc f() { let m = Map() }\n",
	}, nil)
	fr := sema.Files["/proj/a.cj"]
	var found *Diagnostic
	for i, d := range fr.Diagnostics {
		if d.Code == "undeclared-identifier" {
			found = &fr.Diagnostics[i]
		}
	}
	require.NotNil(t, found)
	assert.Contains(t, found.Message, "'Map'")
}

func TestAnalyzeUnusedImportDiagnostic(t *testing.T) {
	p1 := Analyze("p1", "m", map[string]string{
		"/proj/p1/k.cj": "package p1\npublic class K {}\n",
	}, nil)
	sema := Analyze("demo", "m", map[string]string{
		"/proj/a.cj": "package demo\nimport p1.K\nfunc f() {}\n",
	}, map[string]*PackageSema{"p1": p1})
	fr := sema.Files["/proj/a.cj"]
	var found bool
	for _, d := range fr.Diagnostics {
		if d.Code == "unused-import" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOverrideRelation(t *testing.T) {
	sema := Analyze("demo", "m", map[string]string{
		"/proj/t.cj": `package demo
open class Base {
    open func run(): Unit {
    }
}
class Derived <: Base {
    override func run(): Unit {
    }
}
`,
	}, nil)

	var baseRun, derivedRun *Symbol
	for _, s := range sema.Symbols {
		if s.Name == "run" && s.Container == "Base" {
			baseRun = s
		}
		if s.Name == "run" && s.Container == "Derived" {
			derivedRun = s
		}
	}
	require.NotNil(t, baseRun)
	require.NotNil(t, derivedRun)

	var overridden bool
	for _, rel := range sema.Relations {
		if rel.Predicate == RelOverriddenBy && rel.Subject == baseRun.ID && rel.Object == derivedRun.ID {
			overridden = true
		}
	}
	assert.True(t, overridden, "expected OVERRIDDEN_BY(Base.run, Derived.run)")
}

func TestSymbolIDStability(t *testing.T) {
	a := Analyze("demo", "m", map[string]string{"/x.cj": "package demo\npublic func f() {}\n"}, nil)
	b := Analyze("demo", "m", map[string]string{"/x.cj": "package demo\npublic func f() {}\n"}, nil)
	require.Len(t, a.TopLevel["f"], 1)
	require.Len(t, b.TopLevel["f"], 1)
	assert.Equal(t, a.TopLevel["f"][0].ID, b.TopLevel["f"][0].ID)
}

func TestSourceManagerRoundTrip(t *testing.T) {
	sm := NewSourceManager("/x.cj", "ab\ncdef\n\ng")
	for _, tc := range []struct {
		off int
		pos Pos
	}{
		{0, Pos{0, 0}},
		{2, Pos{0, 2}},
		{3, Pos{1, 0}},
		{7, Pos{1, 4}},
		{8, Pos{2, 0}},
		{9, Pos{3, 0}},
	} {
		assert.Equal(t, tc.pos, sm.Position(tc.off), "offset %d", tc.off)
		assert.Equal(t, tc.off, sm.Offset(tc.pos), "pos %+v", tc.pos)
	}
}
