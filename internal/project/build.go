package project

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"cjls/internal/compiler"
	"cjls/internal/index"
	"cjls/internal/logging"
	"cjls/internal/sched"
)

// CompilePackage parses every file of pkg, runs semantic analysis against the
// SEMA_READY snapshots of its dependencies and atomically swaps in the new
// snapshot. Missing dependencies are compiled first, recursively. On success
// the package's slice of the index is fully replaced.
func (p *Project) CompilePackage(pkgName string, store *index.Store) error {
	timer := logging.StartTimer(logging.CategoryProject, "CompilePackage "+pkgName)
	defer timer.Stop()

	p.mu.Lock()
	pkg, ok := p.packages[pkgName]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("unknown package %s", pkgName)
	}
	deps := make([]string, 0, len(pkg.Deps))
	for d := range pkg.Deps {
		if _, known := p.packages[d]; known {
			deps = append(deps, d)
		}
		// Unknown dependencies resolve from .cjo artifacts or stay external;
		// analysis treats their names as opaque.
	}
	p.mu.Unlock()

	// Dependencies must be SEMA_READY; compile them first.
	depSemas := make(map[string]*compiler.PackageSema)
	for _, d := range deps {
		if p.State(d) != StateSemaReady {
			if err := p.CompilePackage(d, store); err != nil {
				logging.Get(logging.CategoryProject).Warn("dependency %s of %s failed: %v", d, pkgName, err)
				continue
			}
		}
		if snap, _ := p.Snapshot(d); snap != nil {
			depSemas[d] = snap.Sema
		}
	}

	files := p.sourceContents(pkg)
	sema, err := p.frontend.Compile(pkgName, pkg.Module, files, depSemas)
	if err != nil {
		p.mu.Lock()
		pkg.State = StateBroken
		p.mu.Unlock()
		return fmt.Errorf("compile %s: %w", pkgName, err)
	}

	p.mu.Lock()
	pkg.snapshot = &Snapshot{Sema: sema, Digest: p.digestFor(pkg)}
	pkg.Digest = pkg.snapshot.Digest
	pkg.State = StateSemaReady
	pkg.staleForQueries = false
	p.mu.Unlock()

	if store != nil {
		if err := p.writeIndex(pkgName, sema, store); err != nil {
			logging.Get(logging.CategoryProject).Error("index write for %s failed: %v", pkgName, err)
		}
	}
	logging.Project("package %s SEMA_READY (%d files, %d symbols)",
		pkgName, len(files), len(sema.Symbols))
	return nil
}

// EnsureCurrent recompiles the file's package when the document cache says it
// needs a reparse, and returns the resulting snapshot with its staleness tag.
func (p *Project) EnsureCurrent(path string, store *index.Store) (*Snapshot, bool, error) {
	pkgName, ok := p.PackageFor(path)
	if !ok {
		return nil, false, fmt.Errorf("no package for %s", path)
	}

	doc := p.docs.Get(path)
	needs := doc.Version >= 0 && doc.NeedsReparse
	if needs || p.State(pkgName) != StateSemaReady {
		if err := p.CompilePackage(pkgName, store); err != nil {
			// Broken package: serve the previous snapshot flagged stale.
			snap, _ := p.Snapshot(pkgName)
			if snap != nil {
				return snap, true, nil
			}
			return nil, false, err
		}
		if needs {
			p.docs.MarkReparse(path, doc.Version, false)
			p.docs.MarkInitCompiled(path)
		}
	}
	snap, stale := p.Snapshot(pkgName)
	if snap == nil {
		return nil, false, fmt.Errorf("no snapshot for %s", pkgName)
	}
	return snap, stale, nil
}

// ScheduleInitialCompile submits one DAG task per package with its dependency
// set, so packages compile after their dependencies.
func (p *Project) ScheduleInitialCompile(pool *sched.DAGPool, store *index.Store) {
	p.mu.Lock()
	type plan struct {
		name string
		deps []string
	}
	plans := make([]plan, 0, len(p.packages))
	for name, pkg := range p.packages {
		var deps []string
		for d := range pkg.Deps {
			if _, known := p.packages[d]; known {
				deps = append(deps, d)
			}
		}
		plans = append(plans, plan{name: name, deps: deps})
	}
	p.mu.Unlock()

	for _, pl := range plans {
		pl := pl
		pool.Submit(sched.Task{
			ID:        "compile:" + pl.name,
			DependsOn: prefixAll("compile:", pl.deps),
			Run: func() {
				if p.State(pl.name) == StateSemaReady {
					return
				}
				if err := p.CompilePackage(pl.name, store); err != nil {
					logging.Get(logging.CategoryProject).Warn("initial compile of %s: %v", pl.name, err)
				}
			},
		})
	}
}

// RecompileDependents recompiles pkg and its transitive dependents in
// parallel waves: the changed package first, then dependents.
func (p *Project) RecompileDependents(pkgName string, store *index.Store) error {
	if err := p.CompilePackage(pkgName, store); err != nil {
		return err
	}
	dependents := p.TransitiveDependents(pkgName)
	var g errgroup.Group
	for _, dep := range dependents {
		dep := dep
		g.Go(func() error {
			if err := p.CompilePackage(dep, store); err != nil {
				// One broken dependent keeps the rest compiling; its previous
				// snapshot stays served flagged stale.
				logging.Get(logging.CategoryProject).Warn("recompile dependent %s: %v", dep, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func prefixAll(prefix string, in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = prefix + s
	}
	return out
}
