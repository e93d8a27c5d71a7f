package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUnknownPathReturnsSentinel(t *testing.T) {
	c := New()
	doc := c.Get("/proj/missing.cj")
	assert.Equal(t, int64(-1), doc.Version)
	assert.Equal(t, "", doc.Contents)
	assert.False(t, doc.InitCompiled)
}

func TestOpenThenGet(t *testing.T) {
	c := New()
	c.Open("/proj/a.cj", 1, "func f() {}")
	doc := c.Get("/proj/a.cj")
	assert.Equal(t, int64(1), doc.Version)
	assert.Equal(t, "func f() {}", doc.Contents)
	assert.True(t, doc.NeedsReparse)
}

func TestUpdateFullReplacement(t *testing.T) {
	c := New()
	c.Open("/proj/a.cj", 1, "old")
	ok := c.Update("/proj/a.cj", 2, []Patch{{Full: true, NewText: "new"}})
	require.True(t, ok)
	doc := c.Get("/proj/a.cj")
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, "new", doc.Contents)
}

func TestUpdateRangePatches(t *testing.T) {
	c := New()
	c.Open("/proj/a.cj", 1, "line0\nline1\nline2\n")

	// Replace "line1" with "changed".
	ok := c.Update("/proj/a.cj", 2, []Patch{{
		StartLine: 1, StartCol: 0, EndLine: 1, EndCol: 5, NewText: "changed",
	}})
	require.True(t, ok)
	assert.Equal(t, "line0\nchanged\nline2\n", c.Get("/proj/a.cj").Contents)

	// Insert at start of line 0.
	ok = c.Update("/proj/a.cj", 3, []Patch{{
		StartLine: 0, StartCol: 0, EndLine: 0, EndCol: 0, NewText: "// ",
	}})
	require.True(t, ok)
	assert.Equal(t, "// line0\nchanged\nline2\n", c.Get("/proj/a.cj").Contents)
}

func TestUpdateAppliesPatchVectorInOrder(t *testing.T) {
	c := New()
	c.Open("/proj/a.cj", 1, "ab")
	ok := c.Update("/proj/a.cj", 2, []Patch{
		{StartLine: 0, StartCol: 2, EndLine: 0, EndCol: 2, NewText: "c"}, // "abc"
		{StartLine: 0, StartCol: 3, EndLine: 0, EndCol: 3, NewText: "d"}, // "abcd"
	})
	require.True(t, ok)
	assert.Equal(t, "abcd", c.Get("/proj/a.cj").Contents)
}

func TestUpdateOutOfRangeDropsWholeUpdate(t *testing.T) {
	c := New()
	c.Open("/proj/a.cj", 1, "short")
	ok := c.Update("/proj/a.cj", 2, []Patch{{
		StartLine: 5, StartCol: 0, EndLine: 5, EndCol: 1, NewText: "x",
	}})
	assert.False(t, ok)
	doc := c.Get("/proj/a.cj")
	assert.Equal(t, int64(1), doc.Version, "version unchanged after dropped update")
	assert.Equal(t, "short", doc.Contents)
}

func TestVersionMonotonicity(t *testing.T) {
	c := New()
	c.Open("/proj/a.cj", 5, "v5")
	assert.False(t, c.Update("/proj/a.cj", 4, []Patch{{Full: true, NewText: "v4"}}))
	assert.Equal(t, "v5", c.Get("/proj/a.cj").Contents)

	// v1 < v2 sequence: final state observes v2's contents and version.
	require.True(t, c.Update("/proj/a.cj", 6, []Patch{{Full: true, NewText: "v6"}}))
	require.True(t, c.Update("/proj/a.cj", 7, []Patch{{Full: true, NewText: "v7"}}))
	doc := c.Get("/proj/a.cj")
	assert.GreaterOrEqual(t, doc.Version, int64(7))
	assert.Equal(t, "v7", doc.Contents)
}

func TestDeleteDropsDocument(t *testing.T) {
	c := New()
	c.Open("/proj/b.cj", 1, "x")
	c.Delete("/proj/b.cj")
	assert.Equal(t, int64(-1), c.Get("/proj/b.cj").Version)
}

func TestMarkReparseVersionGate(t *testing.T) {
	c := New()
	c.Open("/proj/a.cj", 3, "x")
	c.MarkReparse("/proj/a.cj", 3, false)
	assert.False(t, c.Get("/proj/a.cj").NeedsReparse)

	// A stale clear is ignored after a newer edit re-flagged the file.
	require.True(t, c.Update("/proj/a.cj", 4, []Patch{{Full: true, NewText: "y"}}))
	c.MarkReparse("/proj/a.cj", 3, false)
	assert.True(t, c.Get("/proj/a.cj").NeedsReparse)
}

func TestPathNormalization(t *testing.T) {
	c := New()
	c.Open("/proj//a.cj", 1, "x")
	assert.Equal(t, int64(1), c.Get("/proj/a.cj").Version)
}
