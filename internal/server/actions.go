package server

import (
	"cjls/internal/cache"
	"cjls/internal/compiler"
	"cjls/internal/logging"
	"cjls/internal/project"
	"cjls/internal/protocol"
	"cjls/internal/sched"
)

// InputsAndAST is the view a scheduled feature action receives: the live
// document, the package snapshot and the file's analysis. Actions borrow the
// snapshot for their duration and must not retain it.
type InputsAndAST struct {
	File        string
	Doc         cache.Document
	Snapshot    *project.Snapshot
	FileResult  *compiler.FileResult
	Stale       bool
	UseASTCache bool
}

// runWithAST schedules action on the pool, rebuilding the file's package
// first when the document needs a reparse. The request thread returns to the
// transport loop immediately.
func (s *Server) runWithAST(pool *sched.FeaturePool, name string, uri protocol.DocumentURI, action func(InputsAndAST)) {
	file := cache.Normalize(protocol.URIToPath(uri))
	pool.Submit(file, name, func() {
		if s.ShutdownRequested() {
			return
		}
		snap, stale, err := s.proj.EnsureCurrent(file, s.store)
		if err != nil {
			logging.Get(logging.CategoryFeatures).Warn("%s: no snapshot for %s: %v", name, file, err)
			action(InputsAndAST{File: file, Doc: s.docs.Get(file)})
			return
		}
		action(InputsAndAST{
			File:       file,
			Doc:        s.docs.Get(file),
			Snapshot:   snap,
			FileResult: snap.FileIn(file),
			Stale:      stale,
		})
	})
}

// runWithASTCache prefers the cached snapshot when the cursor position is
// unaffected by in-flight edits, falling back to a rebuild otherwise.
func (s *Server) runWithASTCache(pool *sched.FeaturePool, name string, uri protocol.DocumentURI, pos protocol.Position, action func(InputsAndAST)) {
	file := cache.Normalize(protocol.URIToPath(uri))
	pool.Submit(file, name, func() {
		if s.ShutdownRequested() {
			return
		}
		doc := s.docs.Get(file)
		if pkg, ok := s.proj.PackageFor(file); ok && !s.opts.DisableIncremental {
			if snap, stale := s.proj.Snapshot(pkg); snap != nil {
				fr := snap.FileIn(file)
				if fr != nil && !doc.NeedsReparse {
					action(InputsAndAST{
						File: file, Doc: doc, Snapshot: snap, FileResult: fr,
						Stale: stale, UseASTCache: true,
					})
					return
				}
			}
		}
		snap, stale, err := s.proj.EnsureCurrent(file, s.store)
		if err != nil {
			logging.Get(logging.CategoryFeatures).Warn("%s: no snapshot for %s: %v", name, file, err)
			action(InputsAndAST{File: file, Doc: doc})
			return
		}
		action(InputsAndAST{
			File: file, Doc: s.docs.Get(file), Snapshot: snap,
			FileResult: snap.FileIn(file), Stale: stale,
		})
	})
}

// toProtoRange converts a compiler range to a wire range.
func toProtoRange(r compiler.Range) protocol.Range {
	return protocol.Range{
		Start: protocol.Position{Line: r.Start.Line, Character: r.Start.Col},
		End:   protocol.Position{Line: r.End.Line, Character: r.End.Col},
	}
}

// toPos converts a wire position to a compiler position.
func toPos(p protocol.Position) compiler.Pos {
	return compiler.Pos{Line: p.Line, Col: p.Character}
}

// locationOf renders a symbol's declaration location.
func locationOf(sym *compiler.Symbol) protocol.Location {
	return protocol.Location{
		URI:   protocol.PathToURI(sym.File),
		Range: toProtoRange(sym.SelRange),
	}
}
