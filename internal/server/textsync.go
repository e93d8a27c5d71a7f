package server

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"cjls/internal/cache"
	"cjls/internal/index"
	"cjls/internal/logging"
	"cjls/internal/protocol"
	"cjls/internal/sched"
)

// handleDidOpen registers the document and kicks diagnostics.
func (s *Server) handleDidOpen(params json.RawMessage) {
	var p protocol.DidOpenTextDocumentParams
	if !s.decode(nil, params, &p) {
		return
	}
	path := protocol.URIToPath(p.TextDocument.URI)
	s.docs.Open(path, p.TextDocument.Version, p.TextDocument.Text)
	if _, ok := s.proj.PackageFor(path); !ok {
		s.proj.AddFile(path, p.TextDocument.Text)
	}
	s.proj.UpdateFileStatus(path)
	s.scheduleDiagnostics(p.TextDocument.URI)
}

// handleDidChange applies incremental patches; any later feature request on
// the file observes the new contents.
func (s *Server) handleDidChange(params json.RawMessage) {
	var p protocol.DidChangeTextDocumentParams
	if !s.decode(nil, params, &p) {
		return
	}
	path := protocol.URIToPath(p.TextDocument.URI)

	patches := make([]cache.Patch, 0, len(p.ContentChanges))
	for _, c := range p.ContentChanges {
		if c.Range == nil {
			patches = append(patches, cache.Patch{Full: true, NewText: c.Text})
			continue
		}
		patches = append(patches, cache.Patch{
			StartLine: c.Range.Start.Line,
			StartCol:  c.Range.Start.Character,
			EndLine:   c.Range.End.Line,
			EndCol:    c.Range.End.Character,
			NewText:   c.Text,
		})
	}
	if !s.docs.Update(path, p.TextDocument.Version, patches) {
		return
	}
	s.proj.UpdateFileStatus(path)
	s.scheduleDiagnostics(p.TextDocument.URI)
}

// handleDidClose keeps contents (the file still exists on disk) and clears
// the quick-fix cache for the document.
func (s *Server) handleDidClose(params json.RawMessage) {
	var p protocol.DidCloseTextDocumentParams
	if !s.decode(nil, params, &p) {
		return
	}
	s.docs.Close(protocol.URIToPath(p.TextDocument.URI))
	s.fixitsMu.Lock()
	delete(s.fixits, p.TextDocument.URI)
	s.fixitsMu.Unlock()
}

// handleDidSave re-publishes diagnostics from the saved state.
func (s *Server) handleDidSave(params json.RawMessage) {
	var p protocol.DidSaveTextDocumentParams
	if !s.decode(nil, params, &p) {
		return
	}
	if p.Text != nil {
		doc := s.docs.Get(protocol.URIToPath(p.TextDocument.URI))
		if doc.Version >= 0 {
			s.docs.Update(doc.Path, doc.Version, []cache.Patch{{Full: true, NewText: *p.Text}})
		}
	}
	s.scheduleDiagnostics(p.TextDocument.URI)
}

// handleDidChangeWatchedFiles reconciles external file changes: a delete
// drops the file's index rows in one transaction and marks the package
// CHANGED; dependents recompile in the background.
func (s *Server) handleDidChangeWatchedFiles(params json.RawMessage) {
	var p protocol.DidChangeWatchedFilesParams
	if !s.decode(nil, params, &p) {
		return
	}
	for _, ev := range p.Changes {
		path := cache.Normalize(protocol.URIToPath(ev.URI))
		switch ev.Type {
		case protocol.FileDeleted:
			s.reconcileDeletedFile(path)
		case protocol.FileCreated:
			pkg := s.proj.AddFile(path, "")
			if pkg != "" {
				s.recompileInBackground(pkg)
			}
		case protocol.FileChanged:
			pkg, _ := s.proj.UpdateFileStatus(path)
			if pkg != "" {
				s.recompileInBackground(pkg)
			}
		default:
			logging.Get(logging.CategoryWatch).Warn("unknown watched-file change type %d for %s", ev.Type, path)
		}
	}
}

// reconcileDeletedFile drops a deleted file everywhere: document cache,
// package map, and its index rows in one transaction, then recompiles the
// owning package's subgraph.
func (s *Server) reconcileDeletedFile(path string) {
	pkg := s.proj.RemoveFile(path)
	s.docs.Delete(path)
	if s.store != nil {
		if err := s.store.Update(func(u *index.DBUpdate) error {
			return u.DeleteFile(path)
		}); err != nil {
			logging.Get(logging.CategoryWatch).Error("index delete for %s: %v", path, err)
		}
	}
	if pkg != "" {
		s.recompileInBackground(pkg)
	}
}

var bgTaskSeq atomic.Int64

// recompileInBackground pushes a recompile of pkg and its dependents onto the
// background pool.
func (s *Server) recompileInBackground(pkg string) {
	id := fmt.Sprintf("recompile:%s:%d", pkg, bgTaskSeq.Add(1))
	s.dag.Submit(sched.Task{
		ID: id,
		Run: func() {
			if s.ShutdownRequested() {
				return
			}
			if err := s.proj.RecompileDependents(pkg, s.store); err != nil {
				logging.Get(logging.CategoryProject).Warn("background recompile %s: %v", pkg, err)
			}
		},
	})
}
