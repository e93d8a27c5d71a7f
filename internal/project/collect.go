package project

import (
	"cjls/internal/compiler"
	"cjls/internal/index"
	"cjls/internal/logging"
)

// writeIndex replaces pkg's slice of the index with rows collected from the
// fresh analysis, in one transaction.
func (p *Project) writeIndex(pkgName string, sema *compiler.PackageSema, store *index.Store) error {
	rows := CollectRows(p, pkgName, sema)
	return store.Update(func(u *index.DBUpdate) error {
		if err := u.DeletePackage(pkgName); err != nil {
			return err
		}
		for _, f := range rows.Files {
			if err := u.InsertFile(f); err != nil {
				return err
			}
		}
		if err := u.InsertSymbols(rows.Symbols); err != nil {
			return err
		}
		if err := u.InsertReferences(rows.Refs); err != nil {
			return err
		}
		if err := u.InsertRelations(rows.Relations); err != nil {
			return err
		}
		if err := u.InsertCompletions(rows.Completions); err != nil {
			return err
		}
		if err := u.InsertComments(rows.Comments); err != nil {
			return err
		}
		return u.InsertExtends(rows.Extends)
	})
}

// Rows bundles everything a package contributes to the index.
type Rows struct {
	Files       []index.FileRow
	Symbols     []index.SymbolRow
	Refs        []index.RefRow
	Relations   []index.RelationRow
	Completions []index.CompletionRow
	Comments    []index.CommentRow
	Extends     []index.ExtendRow
}

// CollectRows converts one package's analysis into index rows.
func CollectRows(p *Project, pkgName string, sema *compiler.PackageSema) Rows {
	timer := logging.StartTimer(logging.CategoryProject, "CollectRows "+pkgName)
	defer timer.Stop()

	var rows Rows

	for path := range sema.Files {
		rows.Files = append(rows.Files, index.FileRow{
			Path:    path,
			Digest:  p.FileDigest(path),
			Package: pkgName,
			Module:  sema.Module,
		})
	}

	for _, sym := range sema.Symbols {
		if sym.Synthesized {
			continue
		}
		modifier := ""
		if len(sym.Modifiers) > 0 {
			modifier = sym.Modifiers[0]
		}
		rows.Symbols = append(rows.Symbols, index.SymbolRow{
			ID:              index.SID(sym.ID),
			Kind:            sym.Kind.String(),
			Lang:            "cangjie",
			Name:            sym.Name,
			Scope:           sym.Container,
			Package:         sym.Package,
			DeclFile:        sym.File,
			DeclRange:       sym.SelRange,
			DefFile:         sym.File,
			DefRange:        sym.DeclRange,
			Signature:       sym.Signature,
			ReturnType:      sym.TypeName,
			Type:            sym.TypeName,
			Modifier:        modifier,
			IsDeprecated:    sym.Deprecated,
			ContainerModule: sym.Module,
		})

		insert := sym.Name
		if sym.Kind == compiler.SymFunc || sym.Kind == compiler.SymMember {
			insert = sym.Name + "()"
		}
		rows.Completions = append(rows.Completions, index.CompletionRow{
			SymbolID:   index.SID(sym.ID),
			Label:      sym.Name,
			InsertText: insert,
		})

		if sym.Doc != "" {
			rows.Comments = append(rows.Comments, index.CommentRow{
				SymbolID: index.SID(sym.ID),
				Style:    "line",
				Kind:     "doc",
				Text:     sym.Doc,
			})
		}

		if sym.Kind == compiler.SymExtend {
			ext := index.ExtendRow{
				ExtendID: index.SID(sym.ID),
				PkgName:  pkgName,
			}
			if len(sym.Modifiers) > 0 {
				ext.Modifier = sym.Modifiers[0]
			}
			if target := firstTypeNamed(sema, sym.Name); target != nil {
				ext.TargetID = index.SID(target.ID)
			}
			if n := nodeOf(sema, sym); n != nil && len(n.Supers) > 0 {
				ext.InterfaceName = n.Supers[0]
			}
			rows.Extends = append(rows.Extends, ext)
		}
	}

	for _, ref := range sema.References {
		_, local := sema.ByID[ref.Symbol]
		if !local && !crossPackageRef(p, ref.Symbol) {
			// Locals resolve in-memory only; they never hit the index.
			continue
		}
		rows.Refs = append(rows.Refs, index.RefRow{
			SymbolID:    index.SID(ref.Symbol),
			Kind:        ref.Kind.String(),
			File:        ref.File,
			Range:       ref.Range,
			ContainerID: index.SID(ref.Container),
			IsCjo:       !local,
			IsSuper:     ref.IsSuper,
		})
	}

	for _, rel := range sema.Relations {
		rows.Relations = append(rows.Relations, index.RelationRow{
			SubjectID: index.SID(rel.Subject),
			Predicate: rel.Predicate.String(),
			ObjectID:  index.SID(rel.Object),
		})
	}

	return rows
}

// crossPackageRef reports whether the id belongs to another known package's
// snapshot, distinguishing cross-package references from transient locals.
func crossPackageRef(p *Project, id compiler.SymbolID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pkg := range p.packages {
		if pkg.snapshot == nil || pkg.snapshot.Sema == nil {
			continue
		}
		if _, ok := pkg.snapshot.Sema.ByID[id]; ok {
			return true
		}
	}
	return false
}

func firstTypeNamed(sema *compiler.PackageSema, name string) *compiler.Symbol {
	for _, s := range sema.TopLevel[name] {
		switch s.Kind {
		case compiler.SymClass, compiler.SymInterface, compiler.SymEnum, compiler.SymStruct:
			return s
		}
	}
	return nil
}

func nodeOf(sema *compiler.PackageSema, sym *compiler.Symbol) *compiler.Node {
	fr, ok := sema.Files[sym.File]
	if !ok {
		return nil
	}
	return fr.AST.Node(sym.Node)
}
