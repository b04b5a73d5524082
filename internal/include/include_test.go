package include

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/mdsentry/internal/depgraph"
)

func TestParse_AllDirectiveKinds(t *testing.T) {
	content := []byte(`# Board

## Todo
!!!include(notes/intro.md)!!!
- [ ] task !!!taskinclude( "tasks/one.md" )!!!

## Column !!!columninclude(cols/doing.md)!!!
`)

	refs := Parse(content)

	require.Len(t, refs, 3)
	assert.Equal(t, Reference{Target: "notes/intro.md", Kind: depgraph.KindDocument, Line: 4}, refs[0])
	assert.Equal(t, Reference{Target: "tasks/one.md", Kind: depgraph.KindItem, Line: 5}, refs[1])
	assert.Equal(t, Reference{Target: "cols/doing.md", Kind: depgraph.KindSection, Line: 7}, refs[2])
}

func TestParse_SkipsFencedCode(t *testing.T) {
	content := []byte("```\n!!!include(ignored.md)!!!\n```\n!!!include(kept.md)!!!\n")

	refs := Parse(content)

	require.Len(t, refs, 1)
	assert.Equal(t, "kept.md", refs[0].Target)
}

func TestParse_MultiplePerLineAndEmpty(t *testing.T) {
	refs := Parse([]byte("!!!include(a.md)!!! and !!!include(b.md)!!! !!!include( )!!!"))

	require.Len(t, refs, 2)
	assert.Equal(t, "a.md", refs[0].Target)
	assert.Equal(t, "b.md", refs[1].Target)
}

func TestDirectives_EdgesResolveRelativeToSource(t *testing.T) {
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	source := filepath.Join(resolved, "board", "main.md")

	edges := Directives{}.Edges(source, []byte("!!!include(../shared/b.md)!!!\n!!!taskinclude(t.md)!!!"))

	require.Len(t, edges, 2)
	assert.Equal(t, depgraph.Edge{From: source, To: filepath.Join(resolved, "shared", "b.md"), Kind: depgraph.KindDocument}, edges[0])
	assert.Equal(t, depgraph.Edge{From: source, To: filepath.Join(resolved, "board", "t.md"), Kind: depgraph.KindItem}, edges[1])
}

func TestResolve_Absolute(t *testing.T) {
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	got, err := Resolve("/anything/main.md", filepath.Join(resolved, "x.md"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolved, "x.md"), got)
}

func TestRewrite_PointsMatchingDirectivesAtNewTarget(t *testing.T) {
	// Given: a document including old.md twice, once inside a fence
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	source := filepath.Join(dir, "board.md")
	oldTarget, err := Resolve(source, "old.md")
	require.NoError(t, err)
	newTarget := filepath.Join(dir, "archive", "new.md")

	content := []byte("# Board\n" +
		"!!!include(old.md)!!!\n" +
		"```\n!!!include(old.md)!!!\n```\n" +
		"- [ ] !!!taskinclude(./old.md)!!! and !!!include(other.md)!!!\n")

	// When: the references are rewritten
	out, n := Rewrite(source, content, oldTarget, newTarget)

	// Then: both live directives change, keeping their kinds
	assert.Equal(t, 2, n)
	assert.Equal(t, "# Board\n"+
		"!!!include(archive/new.md)!!!\n"+
		"```\n!!!include(old.md)!!!\n```\n"+
		"- [ ] !!!taskinclude(archive/new.md)!!! and !!!include(other.md)!!!\n", string(out))
}

func TestRewrite_NoMatchLeavesContent(t *testing.T) {
	content := []byte("!!!include(a.md)!!!")
	out, n := Rewrite("/docs/board.md", content, "/elsewhere/x.md", "/docs/y.md")
	assert.Zero(t, n)
	assert.Equal(t, content, out)
}
