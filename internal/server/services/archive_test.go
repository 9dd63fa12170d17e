package services

import (
	"bytes"
	"context"
	"io"
	"os"
	"sort"
	"testing"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, a *Archive) map[string][]byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := a.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = data
	}
	return out
}

func names(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestArchive_Selection(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.newUser(t, "alice", 1<<20)
	docs, _, _ := buildTree(t, e, u.ID)
	top := e.put(t, u.ID, nil, "top.txt", []byte("top"))

	a, err := e.archives.Prepare(ctx, u.ID, []int64{top.ID}, []int64{docs.ID})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, DefaultArchiveName, a.Name)
	assert.Equal(t, 5, a.Files())

	got := readZip(t, a)
	assert.Equal(t, []string{
		"docs/",
		"docs/a.txt",
		"docs/b.txt",
		"docs/sub/",
		"docs/sub/c.txt",
		"docs/sub/deeper/",
		"docs/sub/deeper/d.txt",
		"top.txt",
	}, names(got))
	assert.Equal(t, []byte("top"), got["top.txt"])
	assert.Equal(t, payload(40, 4), got["docs/sub/deeper/d.txt"])
}

func TestArchive_DuplicateNamesAndNestedSelection(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.newUser(t, "bob", 1<<20)

	x := e.mkdir(t, u.ID, nil, "x")
	y := e.mkdir(t, u.ID, nil, "y")
	inner := e.mkdir(t, u.ID, &x.ID, "inner")
	f1 := e.put(t, u.ID, &x.ID, "report.txt", []byte("one"))
	f2 := e.put(t, u.ID, &y.ID, "report.txt", []byte("two"))
	e.put(t, u.ID, &inner.ID, "i.txt", []byte("i"))

	a, err := e.archives.Prepare(ctx, u.ID, []int64{f1.ID, f2.ID}, []int64{x.ID, inner.ID})
	require.NoError(t, err)
	defer a.Close()

	got := readZip(t, a)
	assert.Equal(t, []byte("one"), got["report.txt"])
	assert.Equal(t, []byte("two"), got["report (1).txt"])
	assert.Equal(t, []byte("i"), got["x/inner/i.txt"])
	assert.NotContains(t, got, "inner/", "nested selection is archived once")
}

func TestArchive_MissingArtifact(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.newUser(t, "carol", 1000)
	ok := e.put(t, u.ID, nil, "ok.txt", []byte("ok"))
	gone := e.put(t, u.ID, nil, "gone.txt", []byte("gone"))
	require.NoError(t, os.Remove(gone.Filepath))

	_, err := e.archives.Prepare(ctx, u.ID, []int64{ok.ID, gone.ID}, nil)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestArchive_Rejects(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	u := e.newUser(t, "dave", 1000)
	other := e.newUser(t, "mallory", 1000)
	theirs := e.put(t, other.ID, nil, "t.txt", []byte("t"))

	_, err := e.archives.Prepare(ctx, u.ID, nil, nil)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = e.archives.Prepare(ctx, u.ID, []int64{theirs.ID}, nil)
	assert.ErrorIs(t, err, common.ErrAccessDenied)
}

func TestNamer(t *testing.T) {
	n := newNamer()
	assert.Equal(t, "a.txt", n.unique("a.txt"))
	assert.Equal(t, "a (1).txt", n.unique("a.txt"))
	assert.Equal(t, "a (2).txt", n.unique("a.txt"))
	assert.Equal(t, "noext", n.unique("noext"))
	assert.Equal(t, "noext (1)", n.unique("noext"))
}
