package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cjls/internal/cache"
	"cjls/internal/index"
	"cjls/internal/protocol"
	"cjls/internal/sched"
)

// writeTree lays a tiny two-package workspace on disk:
// p1 defines class K, p2 imports and uses it.
func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "p1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "p2"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "p1", "k.cj"),
		[]byte("package p1\npublic open class K {\n    public func m() {}\n}\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "p2", "use.cj"),
		[]byte("package p2\nimport p1.K\nfunc use() { let k = K()\n k.m() }\n"), 0644))
	return root
}

func newProject(t *testing.T, root string) (*Project, *cache.DocumentCache) {
	t.Helper()
	docs := cache.New()
	p := New(docs)
	require.NoError(t, p.Ingest(root, protocol.InitializationOptions{}))
	return p, docs
}

func TestIngestBuildsFilePackageMap(t *testing.T) {
	root := writeTree(t)
	p, _ := newProject(t, root)

	assert.ElementsMatch(t, []string{"p1", "p2"}, p.Packages())

	pkg, ok := p.PackageFor(filepath.Join(root, "p1", "k.cj"))
	require.True(t, ok)
	assert.Equal(t, "p1", pkg)

	// p2 imports p1.K, so p2 depends on p1.
	assert.Equal(t, []string{"p2"}, p.Dependents("p1"))
}

func TestCompilePackageCompilesDependenciesFirst(t *testing.T) {
	root := writeTree(t)
	p, _ := newProject(t, root)

	require.NoError(t, p.CompilePackage("p2", nil))
	assert.Equal(t, StateSemaReady, p.State("p2"))
	assert.Equal(t, StateSemaReady, p.State("p1"), "dependency compiled implicitly")

	snap, stale := p.Snapshot("p2")
	require.NotNil(t, snap)
	assert.False(t, stale)

	// The cross-package member call resolved.
	fr := snap.FileIn(filepath.Join(root, "p2", "use.cj"))
	require.NotNil(t, fr)
	assert.NotEmpty(t, fr.Targets)
}

func TestUpdateFileStatusPropagatesStaleness(t *testing.T) {
	root := writeTree(t)
	p, _ := newProject(t, root)
	require.NoError(t, p.CompilePackage("p2", nil))

	pkg, dependents := p.UpdateFileStatus(filepath.Join(root, "p1", "k.cj"))
	assert.Equal(t, "p1", pkg)
	assert.Equal(t, []string{"p2"}, dependents)

	assert.Equal(t, StateChanged, p.State("p1"))
	// p2 still serves its previous snapshot, flagged possibly-stale.
	snap, stale := p.Snapshot("p2")
	assert.NotNil(t, snap)
	assert.True(t, stale)

	// Recompiling p2 clears the tag.
	require.NoError(t, p.CompilePackage("p1", nil))
	require.NoError(t, p.CompilePackage("p2", nil))
	_, stale = p.Snapshot("p2")
	assert.False(t, stale)
}

func TestEnsureCurrentUsesOverlayAndClearsReparse(t *testing.T) {
	root := writeTree(t)
	p, docs := newProject(t, root)
	path := filepath.Join(root, "p1", "k.cj")

	docs.Open(path, 1, "package p1\npublic class K {\n    public func renamed() {}\n}\n")
	snap, stale, err := p.EnsureCurrent(path, nil)
	require.NoError(t, err)
	assert.False(t, stale)

	require.NotNil(t, snap.Sema)
	members := snap.Sema.Members["K"]
	require.Len(t, members, 1)
	assert.Equal(t, "renamed", members[0].Name)
	assert.False(t, docs.Get(path).NeedsReparse)
}

func TestInitialCompileDAGOrder(t *testing.T) {
	root := writeTree(t)
	p, _ := newProject(t, root)

	pool := sched.NewDAGPool(2)
	defer pool.Shutdown()
	p.ScheduleInitialCompile(pool, nil)
	pool.WaitAll()

	assert.Equal(t, StateSemaReady, p.State("p1"))
	assert.Equal(t, StateSemaReady, p.State("p2"))
}

func TestCompileWritesIndexRows(t *testing.T) {
	root := writeTree(t)
	p, _ := newProject(t, root)
	store := index.Open(filepath.Join(t.TempDir(), "index.db"), false, nil)
	defer store.Close()

	require.NoError(t, p.CompilePackage("p2", store))

	p1Syms, err := store.GetPkgSymbols("p1")
	require.NoError(t, err)
	var names []string
	for _, s := range p1Syms {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "K")
	assert.Contains(t, names, "m")

	// p2's reference to K landed as a cross-package ref row.
	kID := func() int64 {
		for _, s := range p1Syms {
			if s.Name == "K" {
				return s.ID
			}
		}
		return 0
	}()
	require.NotZero(t, kID)
	refs, err := store.GetFileReferences(filepath.Join(root, "p2", "use.cj"), "")
	require.NoError(t, err)
	var found bool
	for _, r := range refs {
		if r.SymbolID == kID {
			found = true
			assert.True(t, r.IsCjo, "cross-package reference flagged")
		}
	}
	assert.True(t, found)
}

func TestRecompileReplacesPackageRowsFully(t *testing.T) {
	root := writeTree(t)
	p, docs := newProject(t, root)
	store := index.Open(filepath.Join(t.TempDir(), "index.db"), false, nil)
	defer store.Close()

	require.NoError(t, p.CompilePackage("p1", store))
	before, err := store.GetPkgSymbols("p1")
	require.NoError(t, err)
	require.NotEmpty(t, before)

	// Rename m -> n and recompile: the old row must be gone.
	path := filepath.Join(root, "p1", "k.cj")
	docs.Open(path, 2, "package p1\npublic open class K {\n    public func n() {}\n}\n")
	require.NoError(t, p.CompilePackage("p1", store))

	after, err := store.GetPkgSymbols("p1")
	require.NoError(t, err)
	var names []string
	for _, s := range after {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "n")
	assert.NotContains(t, names, "m")
}

func TestRemoveFileMarksPackageChanged(t *testing.T) {
	root := writeTree(t)
	p, _ := newProject(t, root)
	require.NoError(t, p.CompilePackage("p1", nil))

	pkg := p.RemoveFile(filepath.Join(root, "p1", "k.cj"))
	assert.Equal(t, "p1", pkg)
	assert.Equal(t, StateChanged, p.State("p1"))

	_, ok := p.PackageFor(filepath.Join(root, "p1", "k.cj"))
	assert.False(t, ok)
}

func TestDigestChangesWithContent(t *testing.T) {
	root := writeTree(t)
	p, docs := newProject(t, root)
	require.NoError(t, p.CompilePackage("p1", nil))
	snap1, _ := p.Snapshot("p1")

	path := filepath.Join(root, "p1", "k.cj")
	docs.Open(path, 2, "package p1\npublic class K { public func zz() {} }\n")
	require.NoError(t, p.CompilePackage("p1", nil))
	snap2, _ := p.Snapshot("p1")

	assert.NotEqual(t, snap1.Digest, snap2.Digest)
}
