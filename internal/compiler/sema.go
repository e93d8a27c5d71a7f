package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// FileResult bundles the per-file analysis artifacts. It is immutable once
// analysis completes; the project graph shares it as part of a snapshot.
type FileResult struct {
	Path        string
	PackageName string
	Tokens      []Token
	AST         *AST
	Source      *SourceManager
	Diagnostics []Diagnostic
	Imports     map[string]NodeID
	// Targets is the semantic side table: expression nodes resolved to the
	// declaration they name.
	Targets map[NodeID]SymbolID
}

// PackageSema is the analysis result for one package: all declared symbols,
// per-file results with resolved targets, relations and references.
type PackageSema struct {
	Package    string
	Module     string
	Files      map[string]*FileResult
	Symbols    []*Symbol
	ByID       map[SymbolID]*Symbol
	TopLevel   map[string][]*Symbol
	Members    map[string][]*Symbol
	Relations  []Relation
	References []Reference
}

// Frontend is the compile contract the project graph drives. deps maps the
// already analyzed dependency packages by full name.
type Frontend interface {
	Compile(pkg, module string, files map[string]string, deps map[string]*PackageSema) (*PackageSema, error)
}

// New returns the default front end.
func New() Frontend { return defaultFrontend{} }

type defaultFrontend struct{}

func (defaultFrontend) Compile(pkg, module string, files map[string]string, deps map[string]*PackageSema) (*PackageSema, error) {
	return Analyze(pkg, module, files, deps), nil
}

// Analyze parses and semantically analyzes one package.
func Analyze(pkg, module string, files map[string]string, deps map[string]*PackageSema) *PackageSema {
	sema := &PackageSema{
		Package:  pkg,
		Module:   module,
		Files:    make(map[string]*FileResult),
		ByID:     make(map[SymbolID]*Symbol),
		TopLevel: make(map[string][]*Symbol),
		Members:  make(map[string][]*Symbol),
	}

	// Deterministic file order keeps symbol slices and digests stable.
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	// Pass 1: parse and collect declarations.
	for _, path := range paths {
		parsed := Parse(path, files[path])
		fr := &FileResult{
			Path:        path,
			PackageName: parsed.PackageName,
			Tokens:      parsed.Tokens,
			AST:         parsed.AST,
			Source:      NewSourceManager(path, files[path]),
			Diagnostics: parsed.Diagnostics,
			Imports:     parsed.Imports,
			Targets:     make(map[NodeID]SymbolID),
		}
		sema.Files[path] = fr
		collectDecls(sema, fr)
	}

	// Pass 2: supertype relations need the full symbol table.
	for _, path := range paths {
		collectTypeRelations(sema, sema.Files[path], deps)
	}

	// Pass 3: resolve references and record diagnostics.
	for _, path := range paths {
		resolveFile(sema, sema.Files[path], deps)
	}

	return sema
}

// collectDecls registers every declaration in the file as a symbol.
func collectDecls(sema *PackageSema, fr *FileResult) {
	ast := fr.AST
	var walk func(id NodeID, container string)
	walk = func(id NodeID, container string) {
		n := ast.Node(id)
		if n == nil {
			return
		}
		for _, c := range n.Children {
			child := ast.Node(c)
			if child == nil {
				continue
			}
			switch child.Kind {
			case NodeFuncDecl, NodeClassDecl, NodeInterfaceDecl, NodeEnumDecl,
				NodeStructDecl, NodeExtendDecl, NodeVarDecl, NodeEnumCtor:
				// Locals inside blocks are scope-resolved, not indexed symbols.
				if n.Kind == NodeBlock {
					continue
				}
				sym := newSymbol(sema, fr, child, container)
				registerSymbol(sema, sym)
				switch child.Kind {
				case NodeClassDecl, NodeInterfaceDecl, NodeEnumDecl, NodeStructDecl:
					walk(c, child.Name)
				case NodeExtendDecl:
					walk(c, child.TypeName)
				}
			}
		}
	}
	walk(ast.Root, "")
}

// newSymbol builds the symbol for a declaration node.
func newSymbol(sema *PackageSema, fr *FileResult, n *Node, container string) *Symbol {
	sym := &Symbol{
		Name:        n.Name,
		Package:     sema.Package,
		Module:      sema.Module,
		Container:   container,
		File:        fr.Path,
		Node:        n.ID,
		DeclRange:   n.Range,
		SelRange:    n.SelRange,
		TypeName:    n.TypeName,
		Modifiers:   n.Modifiers,
		Doc:         n.Doc,
		Exported:    n.HasModifier("public"),
		Synthesized: n.Synthesized,
	}
	switch n.Kind {
	case NodeFuncDecl:
		if container != "" {
			sym.Kind = SymMember
		} else {
			sym.Kind = SymFunc
		}
		sym.Signature = renderSignature(fr.AST, n)
	case NodeClassDecl:
		sym.Kind = SymClass
	case NodeInterfaceDecl:
		sym.Kind = SymInterface
	case NodeEnumDecl:
		sym.Kind = SymEnum
	case NodeStructDecl:
		sym.Kind = SymStruct
	case NodeExtendDecl:
		sym.Kind = SymExtend
	case NodeEnumCtor:
		sym.Kind = SymEnumCtor
	case NodeVarDecl:
		if container != "" {
			sym.Kind = SymMember
		} else {
			sym.Kind = SymVariable
		}
	case NodeParam:
		sym.Kind = SymParam
	}
	sym.ID = HashExportID(sym.ExportID())
	return sym
}

// registerSymbol adds the symbol to every lookup table.
func registerSymbol(sema *PackageSema, sym *Symbol) {
	sema.Symbols = append(sema.Symbols, sym)
	sema.ByID[sym.ID] = sym
	if sym.Container == "" {
		sema.TopLevel[sym.Name] = append(sema.TopLevel[sym.Name], sym)
	} else {
		sema.Members[sym.Container] = append(sema.Members[sym.Container], sym)
	}
}

// renderSignature renders "(T1, T2): R" from the declaration's params.
func renderSignature(ast *AST, fn *Node) string {
	var params []string
	for _, c := range fn.Children {
		child := ast.Node(c)
		if child != nil && child.Kind == NodeParam {
			t := child.TypeName
			if t == "" {
				t = "_"
			}
			params = append(params, t)
		}
	}
	sig := "(" + strings.Join(params, ", ") + ")"
	if fn.TypeName != "" {
		sig += ": " + fn.TypeName
	}
	return sig
}

// collectTypeRelations records extends/implements/base-of and override edges.
func collectTypeRelations(sema *PackageSema, fr *FileResult, deps map[string]*PackageSema) {
	ast := fr.AST
	ast.Walk(ast.Root, func(n *Node) bool {
		switch n.Kind {
		case NodeClassDecl, NodeInterfaceDecl, NodeStructDecl, NodeExtendDecl:
			self := lookupDeclSymbol(sema, fr, n)
			if self == nil {
				return true
			}
			for _, superName := range n.Supers {
				super := lookupType(sema, deps, fr, superName)
				if super == nil {
					continue
				}
				pred := RelExtends
				if super.Kind == SymInterface {
					pred = RelImplements
				}
				sema.Relations = append(sema.Relations,
					Relation{Subject: self.ID, Predicate: pred, Object: super.ID},
					Relation{Subject: super.ID, Predicate: RelBaseOf, Object: self.ID},
				)
				collectOverrides(sema, deps, self, super)
			}
		}
		return true
	})
}

// collectOverrides links members of derived that shadow members of base.
func collectOverrides(sema *PackageSema, deps map[string]*PackageSema, derived, base *Symbol) {
	derivedMembers := membersOf(sema, deps, derived)
	baseMembers := membersOf(sema, deps, base)
	for _, dm := range derivedMembers {
		if dm.Kind != SymMember {
			continue
		}
		for _, bm := range baseMembers {
			if bm.Kind == SymMember && bm.Name == dm.Name && bm.Signature == dm.Signature {
				sema.Relations = append(sema.Relations,
					Relation{Subject: bm.ID, Predicate: RelOverriddenBy, Object: dm.ID})
			}
		}
	}
}

// membersOf returns the members of a type symbol wherever its package lives.
func membersOf(sema *PackageSema, deps map[string]*PackageSema, typ *Symbol) []*Symbol {
	if typ.Package == sema.Package {
		return sema.Members[typ.Name]
	}
	if dep, ok := deps[typ.Package]; ok {
		return dep.Members[typ.Name]
	}
	return nil
}

// lookupDeclSymbol finds the symbol registered for a declaration node.
func lookupDeclSymbol(sema *PackageSema, fr *FileResult, n *Node) *Symbol {
	for _, s := range sema.Symbols {
		if s.File == fr.Path && s.Node == n.ID {
			return s
		}
	}
	return nil
}

// lookupType resolves a type name against the package, then its imports.
func lookupType(sema *PackageSema, deps map[string]*PackageSema, fr *FileResult, name string) *Symbol {
	name = strings.TrimSuffix(name, "?")
	if i := strings.LastIndex(name, "."); i >= 0 {
		pkg, base := name[:i], name[i+1:]
		if dep, ok := deps[pkg]; ok {
			return firstType(dep.TopLevel[base])
		}
		name = base
	}
	if s := firstType(sema.TopLevel[name]); s != nil {
		return s
	}
	for imp := range fr.Imports {
		pkg, bound := splitImport(imp)
		dep, ok := deps[pkg]
		if !ok {
			continue
		}
		if bound == "*" || bound == name {
			if s := firstType(dep.TopLevel[name]); s != nil {
				return s
			}
		}
		if bound == "" {
			if s := firstType(dep.TopLevel[name]); s != nil {
				return s
			}
		}
	}
	return nil
}

func firstType(list []*Symbol) *Symbol {
	for _, s := range list {
		switch s.Kind {
		case SymClass, SymInterface, SymEnum, SymStruct:
			return s
		}
	}
	return nil
}

// splitImport splits "a.b.Name" / "a.b.*" / "a.b" into (package, boundName).
// An import of a whole known package has boundName "".
func splitImport(imp string) (string, string) {
	if strings.HasSuffix(imp, ".*") {
		return strings.TrimSuffix(imp, ".*"), "*"
	}
	i := strings.LastIndex(imp, ".")
	if i < 0 {
		return imp, ""
	}
	last := imp[i+1:]
	if last != "" && last[0] >= 'A' && last[0] <= 'Z' {
		return imp[:i], last
	}
	return imp, ""
}

// --- reference resolution ---

type resolver struct {
	sema *PackageSema
	fr   *FileResult
	deps map[string]*PackageSema
	// usedImports tracks which imports resolved at least one name.
	usedImports map[string]bool
}

func resolveFile(sema *PackageSema, fr *FileResult, deps map[string]*PackageSema) {
	r := &resolver{sema: sema, fr: fr, deps: deps, usedImports: make(map[string]bool)}
	ast := fr.AST
	ast.Walk(ast.Root, func(n *Node) bool {
		switch n.Kind {
		case NodeRefExpr:
			r.resolveRef(n)
		case NodeMemberExpr:
			r.resolveMember(n)
			// Children were already re-parented under the member expr; the
			// walk still visits them, which resolves the base chain.
		}
		return true
	})

	// Unused imports become warnings driving the remove-import quick fix.
	for imp, node := range fr.Imports {
		if r.usedImports[imp] {
			continue
		}
		n := ast.Node(node)
		if n == nil {
			continue
		}
		fr.Diagnostics = append(fr.Diagnostics, Diagnostic{
			Path:     fr.Path,
			Range:    n.Range,
			Severity: DiagWarning,
			Code:     "unused-import",
			Message:  fmt.Sprintf("unused import '%s'", imp),
		})
	}
}

// resolveRef resolves a plain reference expression.
func (r *resolver) resolveRef(n *Node) {
	if n.Name == "this" || n.Name == "super" {
		if typ := r.enclosingType(n); typ != nil {
			r.record(n, typ, n.Name == "super")
		}
		return
	}

	if sym := r.lookupValue(n); sym != nil {
		r.record(n, sym, false)
		return
	}

	// Unresolved: only report identifiers that look like real names; this is
	// the diagnostic the add-import quick fix parses.
	if n.Name != "" && n.Name != "_" {
		r.fr.Diagnostics = append(r.fr.Diagnostics, Diagnostic{
			Path:     r.fr.Path,
			Range:    n.SelRange,
			Severity: DiagError,
			Code:     "undeclared-identifier",
			Message:  fmt.Sprintf("undeclared identifier '%s'", n.Name),
		})
	}
}

// resolveMember resolves base.member chains.
func (r *resolver) resolveMember(n *Node) {
	ast := r.fr.AST
	if len(n.Children) == 0 {
		return
	}
	base := ast.Node(n.Children[0])
	if base == nil {
		return
	}

	// Package-qualified access: base ref names an imported package.
	if base.Kind == NodeRefExpr {
		if dep := r.packageFor(base.Name); dep != nil {
			if syms := dep.TopLevel[n.Name]; len(syms) > 0 {
				r.record(n, syms[0], false)
				return
			}
		}
	}

	typeName := r.staticTypeOf(base)
	if typeName == "" {
		return
	}
	if sym := r.lookupMember(typeName, n.Name); sym != nil {
		r.record(n, sym, false)
	}
}

// staticTypeOf derives the static type name of an expression node.
func (r *resolver) staticTypeOf(n *Node) string {
	switch n.Kind {
	case NodeRefExpr:
		if n.Name == "this" || n.Name == "super" {
			if typ := r.enclosingType(n); typ != nil {
				return typ.Name
			}
			return ""
		}
		if sym := r.lookupValue(n); sym != nil {
			switch sym.Kind {
			case SymClass, SymInterface, SymEnum, SymStruct:
				return sym.Name // static member access
			default:
				return strings.TrimSuffix(sym.TypeName, "?")
			}
		}
	case NodeCallExpr:
		if len(n.Children) > 0 {
			callee := r.fr.AST.Node(n.Children[0])
			if callee != nil {
				// The walk may reach the enclosing member before the callee;
				// resolve the callee on demand rather than via Targets.
				var target *Symbol
				if sym, ok := r.fr.Targets[callee.ID]; ok {
					target = r.symbolByID(sym)
				} else if callee.Kind == NodeRefExpr {
					target = r.lookupValue(callee)
				}
				if target != nil {
					switch target.Kind {
					case SymClass, SymStruct, SymEnum:
						return target.Name // constructor call
					default:
						return strings.TrimSuffix(target.TypeName, "?")
					}
				}
			}
		}
	case NodeMemberExpr:
		if sym, ok := r.fr.Targets[n.ID]; ok {
			if target := r.symbolByID(sym); target != nil {
				return strings.TrimSuffix(target.TypeName, "?")
			}
		}
	}
	return ""
}

func (r *resolver) symbolByID(id SymbolID) *Symbol {
	if s, ok := r.sema.ByID[id]; ok {
		return s
	}
	for _, dep := range r.deps {
		if s, ok := dep.ByID[id]; ok {
			return s
		}
	}
	return nil
}

// lookupValue resolves a name through local scope, package scope, members of
// the enclosing type, then imports.
func (r *resolver) lookupValue(n *Node) *Symbol {
	ast := r.fr.AST

	// Local scope: params and let/var declarations on the enclosing chain.
	for cur := ast.Node(n.Parent); cur != nil; cur = ast.Node(cur.Parent) {
		for _, c := range cur.Children {
			child := ast.Node(c)
			if child == nil || child.Name != n.Name {
				continue
			}
			if child.Kind == NodeParam || (child.Kind == NodeVarDecl && cur.Kind == NodeBlock) {
				// Locals are not indexed; synthesize a transient symbol so
				// navigation inside the file still works.
				return r.transientLocal(child)
			}
		}
	}

	// Package top level.
	if syms := r.sema.TopLevel[n.Name]; len(syms) > 0 {
		return syms[0]
	}

	// Members of the enclosing type (implicit this).
	if typ := r.enclosingType(n); typ != nil {
		if sym := r.lookupMember(typ.Name, n.Name); sym != nil {
			return sym
		}
	}

	// Imports.
	for imp := range r.fr.Imports {
		pkg, bound := splitImport(imp)
		dep, ok := r.deps[pkg]
		if !ok {
			continue
		}
		if bound == "*" || bound == n.Name || bound == "" {
			if syms := dep.TopLevel[n.Name]; len(syms) > 0 {
				r.usedImports[imp] = true
				return syms[0]
			}
		}
	}
	return nil
}

// transientLocal builds a non-indexed symbol for a local declaration.
func (r *resolver) transientLocal(n *Node) *Symbol {
	sym := &Symbol{
		Kind:      SymVariable,
		Name:      n.Name,
		Package:   r.sema.Package,
		File:      r.fr.Path,
		Node:      n.ID,
		DeclRange: n.Range,
		SelRange:  n.SelRange,
		TypeName:  n.TypeName,
	}
	sym.ID = HashExportID(fmt.Sprintf("%s:%s:local:%d", r.sema.Package, r.fr.Path, n.ID))
	return sym
}

// lookupMember finds a member of the named type, walking the supertype chain.
func (r *resolver) lookupMember(typeName, member string) *Symbol {
	seen := make(map[string]bool)
	var find func(t string) *Symbol
	find = func(t string) *Symbol {
		if t == "" || seen[t] {
			return nil
		}
		seen[t] = true
		for _, m := range r.sema.Members[t] {
			if m.Name == member {
				return m
			}
		}
		for _, dep := range r.deps {
			for _, m := range dep.Members[t] {
				if m.Name == member {
					return m
				}
			}
		}
		// Supertype chain within this package and deps.
		for _, sup := range r.superNames(t) {
			if s := find(sup); s != nil {
				return s
			}
		}
		return nil
	}
	return find(strings.TrimSuffix(typeName, "?"))
}

// superNames lists declared supertype names of a type.
func (r *resolver) superNames(typeName string) []string {
	var supers []string
	appendFrom := func(sema *PackageSema) {
		for _, s := range sema.TopLevel[typeName] {
			n := nodeFor(sema, s)
			if n != nil {
				supers = append(supers, n.Supers...)
			}
		}
	}
	appendFrom(r.sema)
	for _, dep := range r.deps {
		appendFrom(dep)
	}
	return supers
}

func nodeFor(sema *PackageSema, s *Symbol) *Node {
	fr, ok := sema.Files[s.File]
	if !ok {
		return nil
	}
	return fr.AST.Node(s.Node)
}

// packageFor returns the dependency a bare name refers to via imports
// (import a.b ⇒ "b" is a package alias).
func (r *resolver) packageFor(name string) *PackageSema {
	for imp := range r.fr.Imports {
		pkg, bound := splitImport(imp)
		if bound != "" {
			continue
		}
		if pkg == name || strings.HasSuffix(pkg, "."+name) {
			if dep, ok := r.deps[pkg]; ok {
				r.usedImports[imp] = true
				return dep
			}
		}
	}
	if dep, ok := r.deps[name]; ok {
		return dep
	}
	return nil
}

// enclosingType finds the type declaration symbol the node sits inside.
func (r *resolver) enclosingType(n *Node) *Symbol {
	ast := r.fr.AST
	for cur := ast.Node(n.Parent); cur != nil; cur = ast.Node(cur.Parent) {
		switch cur.Kind {
		case NodeClassDecl, NodeInterfaceDecl, NodeEnumDecl, NodeStructDecl:
			return lookupDeclSymbol(r.sema, r.fr, cur)
		case NodeExtendDecl:
			return lookupType(r.sema, r.deps, r.fr, cur.TypeName)
		}
	}
	return nil
}

// record binds the node to the symbol and appends the reference row.
func (r *resolver) record(n *Node, sym *Symbol, isSuper bool) {
	r.fr.Targets[n.ID] = sym.ID
	// Mark the import used when the symbol came from another package.
	if sym.Package != r.sema.Package {
		for imp := range r.fr.Imports {
			pkg, bound := splitImport(imp)
			if pkg == sym.Package && (bound == "*" || bound == "" || bound == sym.Name) {
				r.usedImports[imp] = true
			}
		}
	}

	kind := RefRead
	ast := r.fr.AST
	if parent := ast.Node(n.Parent); parent != nil && parent.Kind == NodeCallExpr &&
		len(parent.Children) > 0 && parent.Children[0] == n.ID {
		kind = RefCall
	}

	var container SymbolID
	if decl := ast.EnclosingDecl(n.ID); decl != nil {
		if ds := lookupDeclSymbol(r.sema, r.fr, decl); ds != nil {
			container = ds.ID
			if kind == RefCall {
				r.sema.Relations = append(r.sema.Relations,
					Relation{Subject: ds.ID, Predicate: RelCalls, Object: sym.ID})
			}
		}
	}

	r.sema.References = append(r.sema.References, Reference{
		Symbol:    sym.ID,
		Kind:      kind,
		File:      r.fr.Path,
		Range:     n.SelRange,
		Container: container,
		IsSuper:   isSuper,
	})
}
