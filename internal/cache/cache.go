// Package cache holds the authoritative live-edit state of open documents.
// The cache is the single writer of document text; every other component sees
// copies. Contents after applying patches always equal the editor's view.
package cache

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cjls/internal/logging"
)

// Document is one tracked file. Version -1 means the file was never opened.
type Document struct {
	Path         string
	Version      int64
	Contents     string
	NeedsReparse bool
	InitCompiled bool
}

// Patch is one incremental edit: replace [StartLine:StartCol, EndLine:EndCol)
// with NewText. Whole-text replacements use Full=true. Positions are
// zero-based, columns measured in UTF-16-agnostic byte-equivalent runes the
// way the client sent them.
type Patch struct {
	Full      bool
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
	NewText   string
}

// DocumentCache tracks open documents keyed by normalized absolute path.
type DocumentCache struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// New creates an empty cache.
func New() *DocumentCache {
	return &DocumentCache{docs: make(map[string]*Document)}
}

// Normalize converts a path to its canonical cache key.
func Normalize(path string) string {
	return filepath.Clean(path)
}

// Open registers a document with its initial text.
func (c *DocumentCache) Open(path string, version int64, text string) {
	path = Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs[path] = &Document{
		Path:         path,
		Version:      version,
		Contents:     text,
		NeedsReparse: true,
	}
	logging.Cache("open %s v%d (%d bytes)", path, version, len(text))
}

// Update applies patches in order. Updates with a version lower than the
// current one or an out-of-range edit are dropped and logged; the previous
// contents survive. An update carrying the current version is applied.
func (c *DocumentCache) Update(path string, version int64, patches []Patch) bool {
	path = Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, ok := c.docs[path]
	if !ok {
		logging.Get(logging.CategoryCache).Warn("update for unopened %s dropped", path)
		return false
	}
	if version < doc.Version {
		logging.Get(logging.CategoryCache).Warn("update %s v%d rejected (have v%d)", path, version, doc.Version)
		return false
	}

	text := doc.Contents
	for _, p := range patches {
		if p.Full {
			text = p.NewText
			continue
		}
		next, ok := applyRangePatch(text, p)
		if !ok {
			logging.Get(logging.CategoryCache).Warn("update %s v%d dropped: edit out of range (%d:%d-%d:%d)",
				path, version, p.StartLine, p.StartCol, p.EndLine, p.EndCol)
			return false
		}
		text = next
	}

	doc.Version = version
	doc.Contents = text
	doc.NeedsReparse = true
	logging.CacheDebug("update %s v%d (%d patches, %d bytes)", path, version, len(patches), len(text))
	return true
}

// applyRangePatch replaces the patch range within text.
func applyRangePatch(text string, p Patch) (string, bool) {
	start, ok := offsetAt(text, p.StartLine, p.StartCol)
	if !ok {
		return "", false
	}
	end, ok := offsetAt(text, p.EndLine, p.EndCol)
	if !ok || end < start {
		return "", false
	}
	return text[:start] + p.NewText + text[end:], true
}

// offsetAt converts a line/column position to a byte offset.
// A position exactly one line past the last newline-terminated line maps to
// len(text), matching how clients address the end of a document.
func offsetAt(text string, line, col int) (int, bool) {
	if line < 0 || col < 0 {
		return 0, false
	}
	offset := 0
	for l := 0; l < line; l++ {
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return 0, false
		}
		offset += nl + 1
	}
	lineEnd := strings.IndexByte(text[offset:], '\n')
	if lineEnd < 0 {
		lineEnd = len(text) - offset
	}
	if col > lineEnd {
		return 0, false
	}
	return offset + col, true
}

// Close is a no-op for contents: the document stays tracked so later watched
// file events and queries still resolve.
func (c *DocumentCache) Close(path string) {
	logging.CacheDebug("close %s", Normalize(path))
}

// Delete drops a document (watched-file delete).
func (c *DocumentCache) Delete(path string) {
	path = Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, path)
	logging.Cache("delete %s", path)
}

// Get returns a snapshot copy of the document. Unknown paths return the zero
// document with Version -1.
func (c *DocumentCache) Get(path string) Document {
	path = Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if doc, ok := c.docs[path]; ok {
		return *doc
	}
	return Document{Path: path, Version: -1}
}

// MarkReparse sets or clears the needs-reparse flag when the version matches
// the live document. A stale version is ignored: a newer edit already
// re-flagged the file.
func (c *DocumentCache) MarkReparse(path string, version int64, flag bool) {
	path = Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[path]
	if !ok || doc.Version != version {
		return
	}
	doc.NeedsReparse = flag
}

// MarkInitCompiled records that the file went through the initial compile.
func (c *DocumentCache) MarkInitCompiled(path string) {
	path = Normalize(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if doc, ok := c.docs[path]; ok {
		doc.InitCompiled = true
	}
}

// Paths returns the sorted set of tracked paths.
func (c *DocumentCache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.docs))
	for p := range c.docs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
