// Package project owns the package graph: file-to-package mapping, dependency
// edges, per-package analysis snapshots, staleness propagation and the build
// orchestration that keeps the persistent index in step with recompiles.
package project

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"cjls/internal/cache"
	"cjls/internal/compiler"
	"cjls/internal/logging"
	"cjls/internal/protocol"
)

// PackageState is the package lifecycle.
type PackageState int

const (
	StateUnparsed PackageState = iota
	StateParsed
	StateSemaReady
	StateChanged
	StateBroken
)

func (s PackageState) String() string {
	switch s {
	case StateUnparsed:
		return "UNPARSED"
	case StateParsed:
		return "PARSED"
	case StateSemaReady:
		return "SEMA_READY"
	case StateChanged:
		return "CHANGED"
	case StateBroken:
		return "BROKEN"
	default:
		return "UNKNOWN"
	}
}

// Snapshot is an immutable view of one package's analysis, replaced
// atomically on rebuild. Readers hold it for the duration of one action.
type Snapshot struct {
	Sema   *compiler.PackageSema
	Digest string
}

// FileIn returns the file result for a path, nil when the file is not part
// of the snapshot.
func (s *Snapshot) FileIn(path string) *compiler.FileResult {
	if s == nil || s.Sema == nil {
		return nil
	}
	return s.Sema.Files[path]
}

// Package is one compilation unit.
type Package struct {
	FullName    string
	Module      string
	SourcePaths []string
	Deps        map[string]bool
	State       PackageState
	Digest      string
	// staleForQueries marks served snapshots as possibly stale after an
	// upstream change, until this package recompiles.
	staleForQueries bool
	snapshot        *Snapshot
}

// Project is the graph over all packages of one workspace.
type Project struct {
	mu sync.Mutex

	RootPath string
	Modules  []protocol.ModuleDescriptor

	packages  map[string]*Package
	fileToPkg map[string]string

	docs     *cache.DocumentCache
	frontend compiler.Frontend
}

// New creates an empty project over the document cache.
func New(docs *cache.DocumentCache) *Project {
	return &Project{
		packages:  make(map[string]*Package),
		fileToPkg: make(map[string]string),
		docs:      docs,
		frontend:  compiler.New(),
	}
}

var (
	packageClauseRe = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)`)
	importRe        = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+(?:\.\*)?)`)
)

// Ingest consumes the initialize payload: walks every module's source root,
// maps files to packages, derives the dependency graph and per-package
// digests.
func (p *Project) Ingest(rootPath string, opts protocol.InitializationOptions) error {
	timer := logging.StartTimer(logging.CategoryProject, "Ingest")
	defer timer.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.RootPath = rootPath
	p.Modules = opts.Modules

	roots := make(map[string]string) // source root -> module name
	for _, m := range opts.Modules {
		root := m.SourceRoot
		if root == "" {
			root = rootPath
		} else if !filepath.IsAbs(root) {
			root = filepath.Join(rootPath, root)
		}
		roots[root] = m.Name
	}
	if len(roots) == 0 {
		roots[rootPath] = filepath.Base(rootPath)
	}

	for root, module := range roots {
		if err := p.scanRootLocked(root, module); err != nil {
			return err
		}
	}
	p.rebuildDigestsLocked()
	logging.Project("ingested %d packages, %d files", len(p.packages), len(p.fileToPkg))
	return nil
}

// scanRootLocked walks one source root registering .cj files.
func (p *Project) scanRootLocked(root, module string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			logging.ProjectDebug("skipping %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == ".git" || name == ".cache" || name == "build" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(path, ".cj") {
			return nil
		}
		content, rerr := os.ReadFile(path)
		if rerr != nil {
			logging.ProjectDebug("unreadable source %s: %v", path, rerr)
			return nil
		}
		p.addFileLocked(cache.Normalize(path), module, string(content))
		return nil
	})
}

// addFileLocked maps a file into its package, creating the package if new.
func (p *Project) addFileLocked(path, module, content string) {
	pkgName := scanPackageName(content)
	if pkgName == "" {
		// Files without a package clause group by directory.
		pkgName = filepath.Base(filepath.Dir(path))
	}
	pkg, ok := p.packages[pkgName]
	if !ok {
		pkg = &Package{
			FullName: pkgName,
			Module:   module,
			Deps:     make(map[string]bool),
			State:    StateUnparsed,
		}
		p.packages[pkgName] = pkg
	}
	if !containsString(pkg.SourcePaths, path) {
		pkg.SourcePaths = append(pkg.SourcePaths, path)
		sort.Strings(pkg.SourcePaths)
	}
	p.fileToPkg[path] = pkgName

	for _, imp := range scanImports(content) {
		dep := importPackage(imp)
		if dep != "" && dep != pkgName {
			pkg.Deps[dep] = true
		}
	}
}

// scanPackageName extracts the package clause without a full parse.
func scanPackageName(content string) string {
	if m := packageClauseRe.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}

// scanImports extracts import paths without a full parse.
func scanImports(content string) []string {
	var out []string
	for _, m := range importRe.FindAllStringSubmatch(content, -1) {
		out = append(out, m[1])
	}
	return out
}

// importPackage strips the imported member from an import path:
// "a.b.Name" and "a.b.*" both depend on package "a.b".
func importPackage(imp string) string {
	if strings.HasSuffix(imp, ".*") {
		return strings.TrimSuffix(imp, ".*")
	}
	i := strings.LastIndex(imp, ".")
	if i < 0 {
		return imp
	}
	last := imp[i+1:]
	if last != "" && last[0] >= 'A' && last[0] <= 'Z' {
		return imp[:i]
	}
	return imp
}

// PackageFor returns the package name owning a file.
func (p *Project) PackageFor(path string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pkg, ok := p.fileToPkg[cache.Normalize(path)]
	return pkg, ok
}

// Packages returns the sorted package names.
func (p *Project) Packages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.packages))
	for n := range p.packages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// State returns a package's state.
func (p *Project) State(pkg string) PackageState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pk, ok := p.packages[pkg]; ok {
		return pk.State
	}
	return StateUnparsed
}

// Snapshot returns the current snapshot and whether it is possibly stale.
func (p *Project) Snapshot(pkg string) (*Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pk, ok := p.packages[pkg]
	if !ok {
		return nil, false
	}
	return pk.snapshot, pk.staleForQueries
}

// Dependents returns the direct dependents of a package.
func (p *Project) Dependents(pkg string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dependentsLocked(pkg)
}

func (p *Project) dependentsLocked(pkg string) []string {
	var out []string
	for name, pk := range p.packages {
		if pk.Deps[pkg] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// TransitiveDependents returns dependents*(pkg), excluding pkg itself.
func (p *Project) TransitiveDependents(pkg string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool)
	var visit func(name string)
	visit = func(name string) {
		for _, dep := range p.dependentsLocked(name) {
			if !seen[dep] {
				seen[dep] = true
				visit(dep)
			}
		}
	}
	visit(pkg)
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// UpdateFileStatus marks a file's package CHANGED and every transitive
// dependent stale-for-queries. Dependents keep serving their previous
// SEMA_READY snapshots until their own recompile.
func (p *Project) UpdateFileStatus(path string) (pkgName string, dependents []string) {
	path = cache.Normalize(path)
	p.mu.Lock()
	pkgName = p.fileToPkg[path]
	if pkgName == "" {
		p.mu.Unlock()
		return "", nil
	}
	pkg := p.packages[pkgName]
	pkg.State = StateChanged
	p.mu.Unlock()

	dependents = p.TransitiveDependents(pkgName)
	p.mu.Lock()
	for _, dep := range dependents {
		p.packages[dep].staleForQueries = true
	}
	p.mu.Unlock()
	logging.Project("package %s CHANGED, %d dependents stale-for-queries", pkgName, len(dependents))
	return pkgName, dependents
}

// AddFile registers a newly created file (watched-file create).
func (p *Project) AddFile(path, content string) string {
	path = cache.Normalize(path)
	p.mu.Lock()
	module := ""
	if len(p.Modules) > 0 {
		module = p.Modules[0].Name
	}
	p.addFileLocked(path, module, content)
	pkgName := p.fileToPkg[path]
	p.mu.Unlock()
	return pkgName
}

// RemoveFile drops a file from its package (watched-file delete). Returns the
// owning package, which is marked CHANGED.
func (p *Project) RemoveFile(path string) string {
	path = cache.Normalize(path)
	p.mu.Lock()
	defer p.mu.Unlock()
	pkgName, ok := p.fileToPkg[path]
	if !ok {
		return ""
	}
	delete(p.fileToPkg, path)
	pkg := p.packages[pkgName]
	var kept []string
	for _, sp := range pkg.SourcePaths {
		if sp != path {
			kept = append(kept, sp)
		}
	}
	pkg.SourcePaths = kept
	pkg.State = StateChanged
	return pkgName
}

// sourceContents assembles the live text of a package's files: document cache
// overlays win over disk.
func (p *Project) sourceContents(pkg *Package) map[string]string {
	files := make(map[string]string, len(pkg.SourcePaths))
	for _, path := range pkg.SourcePaths {
		if doc := p.docs.Get(path); doc.Version >= 0 {
			files[path] = doc.Contents
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			logging.ProjectDebug("source read failed for %s: %v", path, err)
			continue
		}
		files[path] = string(data)
	}
	return files
}

// rebuildDigestsLocked recomputes every package digest.
func (p *Project) rebuildDigestsLocked(names ...string) {
	if len(names) == 0 {
		for n := range p.packages {
			names = append(names, n)
		}
	}
	for _, n := range names {
		pkg := p.packages[n]
		pkg.Digest = p.digestFor(pkg)
	}
}

// digestFor hashes sorted (path, content) pairs of a package's sources.
func (p *Project) digestFor(pkg *Package) string {
	h := sha256.New()
	paths := append([]string(nil), pkg.SourcePaths...)
	sort.Strings(paths)
	for _, path := range paths {
		h.Write([]byte(path))
		if doc := p.docs.Get(path); doc.Version >= 0 {
			h.Write([]byte(doc.Contents))
			continue
		}
		if data, err := os.ReadFile(path); err == nil {
			h.Write(data)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FileDigest hashes one file's current content.
func (p *Project) FileDigest(path string) string {
	h := sha256.New()
	if doc := p.docs.Get(path); doc.Version >= 0 {
		h.Write([]byte(doc.Contents))
	} else if data, err := os.ReadFile(path); err == nil {
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
