package index

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cjls/internal/compiler"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	s := Open(filepath.Join(t.TempDir(), "index.db"), false, nil)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSymbol(id int64, name, pkg, file string) SymbolRow {
	return SymbolRow{
		ID:       id,
		Kind:     "function",
		Lang:     "cangjie",
		Name:     name,
		Package:  pkg,
		DeclFile: file,
		DeclRange: compiler.Range{
			Start: compiler.Pos{Line: 1, Col: 5},
			End:   compiler.Pos{Line: 1, Col: 5 + len(name)},
		},
		Signature: "()",
	}
}

func TestSymbolRoundTrip(t *testing.T) {
	s := tempStore(t)
	want := sampleSymbol(42, "greet", "demo", "/proj/a.cj")
	want.ReturnType = "String"
	want.Modifier = "public"
	want.IsDeprecated = true

	require.NoError(t, s.Update(func(u *DBUpdate) error {
		return u.InsertSymbols([]SymbolRow{want})
	}))

	got, err := s.GetSymbolByID(compiler.SymbolID(42))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetSymbolByIDNotFound(t *testing.T) {
	s := tempStore(t)
	_, err := s.GetSymbolByID(compiler.SymbolID(999))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateRollbackOnError(t *testing.T) {
	s := tempStore(t)
	boom := errors.New("boom")
	err := s.Update(func(u *DBUpdate) error {
		if err := u.InsertSymbols([]SymbolRow{sampleSymbol(1, "a", "p", "/f.cj")}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetSymbolByID(compiler.SymbolID(1))
	assert.ErrorIs(t, err, ErrNotFound, "no insert visible after rollback")
}

func TestUpdateRollbackOnPanic(t *testing.T) {
	s := tempStore(t)
	err := s.Update(func(u *DBUpdate) error {
		_ = u.InsertSymbols([]SymbolRow{sampleSymbol(2, "b", "p", "/f.cj")})
		panic("kaboom")
	})
	require.Error(t, err)
	_, err = s.GetSymbolByID(compiler.SymbolID(2))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCommitIsAtomicallyVisible(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Update(func(u *DBUpdate) error {
		if err := u.InsertSymbols([]SymbolRow{
			sampleSymbol(10, "x", "p", "/f.cj"),
			sampleSymbol(11, "y", "p", "/f.cj"),
		}); err != nil {
			return err
		}
		return u.InsertReferences([]RefRow{
			{SymbolID: 10, Kind: "call", File: "/g.cj",
				Range: compiler.Range{Start: compiler.Pos{Line: 3, Col: 1}, End: compiler.Pos{Line: 3, Col: 2}}},
		})
	}))

	syms, err := s.GetPkgSymbols("p")
	require.NoError(t, err)
	assert.Len(t, syms, 2)

	refs, err := s.GetReferences(compiler.SymbolID(10), "")
	require.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, "call", refs[0].Kind)
}

func TestOverridesSynthesizedFromOverriddenBy(t *testing.T) {
	s := tempStore(t)
	// Stored direction: OVERRIDDEN_BY(base, derived).
	require.NoError(t, s.Update(func(u *DBUpdate) error {
		return u.InsertRelations([]RelationRow{
			{SubjectID: 100, Predicate: "overridden_by", ObjectID: 200},
		})
	}))

	// Query direction: derived OVERRIDES base.
	rels, err := s.GetRelations(compiler.SymbolID(200), "overrides")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, int64(200), rels[0].SubjectID)
	assert.Equal(t, "overrides", rels[0].Predicate)
	assert.Equal(t, int64(100), rels[0].ObjectID)

	// And the stored row is still reachable directly.
	stored, err := s.GetRelations(compiler.SymbolID(100), "overridden_by")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(200), stored[0].ObjectID)
}

func TestDeletePackageFullyReplacesRows(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Update(func(u *DBUpdate) error {
		if err := u.InsertFile(FileRow{Path: "/proj/a.cj", Digest: "d1", Package: "p1"}); err != nil {
			return err
		}
		if err := u.InsertFile(FileRow{Path: "/proj/b.cj", Digest: "d2", Package: "p2"}); err != nil {
			return err
		}
		if err := u.InsertSymbols([]SymbolRow{
			sampleSymbol(1, "a", "p1", "/proj/a.cj"),
			sampleSymbol(2, "b", "p2", "/proj/b.cj"),
		}); err != nil {
			return err
		}
		return u.InsertReferences([]RefRow{
			{SymbolID: 1, Kind: "read", File: "/proj/a.cj"},
			{SymbolID: 2, Kind: "read", File: "/proj/b.cj"},
		})
	}))

	require.NoError(t, s.Update(func(u *DBUpdate) error {
		return u.DeletePackage("p1")
	}))

	p1, err := s.GetPkgSymbols("p1")
	require.NoError(t, err)
	assert.Empty(t, p1)
	p2, err := s.GetPkgSymbols("p2")
	require.NoError(t, err)
	assert.Len(t, p2, 1)

	_, err = s.GetFileByPath("/proj/a.cj")
	assert.ErrorIs(t, err, ErrNotFound)
	refs, err := s.GetFileReferences("/proj/a.cj", "")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestGetMatchingSymbolsRanked(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Update(func(u *DBUpdate) error {
		if err := u.InsertSymbols([]SymbolRow{
			sampleSymbol(1, "HashMap", "std", "/std/map.cj"),
			sampleSymbol(2, "heap", "std", "/std/heap.cj"),
			sampleSymbol(3, "unrelated", "std", "/std/u.cj"),
		}); err != nil {
			return err
		}
		return u.InsertReferences([]RefRow{{SymbolID: 1, Kind: "read", File: "/x.cj"}})
	}))

	matches, err := s.GetMatchingSymbols("hmap", "", 10)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "HashMap", matches[0].Symbol.Name)
	assert.Equal(t, 1, matches[0].RefCount)
	for _, m := range matches {
		assert.NotEqual(t, "unrelated", m.Symbol.Name)
	}
}

func TestFileDigestRoundTrip(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Update(func(u *DBUpdate) error {
		return u.InsertFile(FileRow{Path: "/proj/a.cj", Digest: "abc123", Package: "p", Module: "m"})
	}))
	d, err := s.GetFileDigest("/proj/a.cj")
	require.NoError(t, err)
	assert.Equal(t, "abc123", d)

	// Upsert replaces the digest.
	require.NoError(t, s.Update(func(u *DBUpdate) error {
		return u.InsertFile(FileRow{Path: "/proj/a.cj", Digest: "def456", Package: "p", Module: "m"})
	}))
	d, err = s.GetFileDigest("/proj/a.cj")
	require.NoError(t, err)
	assert.Equal(t, "def456", d)
}

func TestReadOnlyStoreRejectsUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	// Seed a database first.
	w := Open(path, false, nil)
	require.NoError(t, w.Update(func(u *DBUpdate) error {
		return u.InsertSymbols([]SymbolRow{sampleSymbol(1, "a", "p", "/f.cj")})
	}))
	require.NoError(t, w.Close())

	r := Open(path, true, nil)
	defer r.Close()
	err := r.Update(func(u *DBUpdate) error { return nil })
	assert.ErrorIs(t, err, ErrReadOnly)

	got, err := r.GetSymbolByID(compiler.SymbolID(1))
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}

func TestEnsureValidCacheRecreatesOnVersionMismatch(t *testing.T) {
	root := t.TempDir()
	kept, err := EnsureValidCache(root, "1.0.0")
	require.NoError(t, err)
	assert.False(t, kept, "fresh cache has no valid.txt")

	dbPath := DBPath(root)
	require.NoError(t, os.WriteFile(dbPath, []byte("stale"), 0644))

	kept, err = EnsureValidCache(root, "1.0.0")
	require.NoError(t, err)
	assert.True(t, kept, "matching version keeps the database")
	_, statErr := os.Stat(dbPath)
	assert.NoError(t, statErr)

	kept, err = EnsureValidCache(root, "2.0.0")
	require.NoError(t, err)
	assert.False(t, kept)
	_, statErr = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(statErr), "mismatch deletes index.db")
}

func TestGetReferredReturnsOutgoingEdges(t *testing.T) {
	s := tempStore(t)
	require.NoError(t, s.Update(func(u *DBUpdate) error {
		return u.InsertReferences([]RefRow{
			{SymbolID: 5, Kind: "call", File: "/a.cj", ContainerID: 77},
			{SymbolID: 6, Kind: "read", File: "/a.cj", ContainerID: 77},
			{SymbolID: 7, Kind: "read", File: "/a.cj", ContainerID: 88},
		})
	}))
	refs, err := s.GetReferred(compiler.SymbolID(77))
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}
