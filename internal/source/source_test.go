package source

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestDir_ListAndOpen(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.csv"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.CSV"), []byte("aa"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	src := NewDir(dir)
	objs, err := src.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a.CSV", objs[0].Name)
	assert.Equal(t, int64(2), objs[0].Size)
	assert.Equal(t, "b.csv", objs[1].Name)

	rc, err := src.Open(context.Background(), "b.csv")
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))
}

func TestDir_Errors(t *testing.T) {
	_, err := NewDir(filepath.Join(t.TempDir(), "missing")).List(context.Background())
	require.Error(t, err)

	src := NewDir(t.TempDir())
	_, err = src.Open(context.Background(), "../etc/passwd")
	require.Error(t, err)
	_, err = src.Open(context.Background(), "nope.csv")
	require.Error(t, err)
}

func TestIsCSV(t *testing.T) {
	assert.True(t, IsCSV("sales.csv"))
	assert.True(t, IsCSV("SALES.CSV"))
	assert.False(t, IsCSV("sales.csv.gz"))
	assert.False(t, IsCSV("notes.txt"))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	src, err := New(ctx, Options{Dir: "input"})
	require.NoError(t, err)
	assert.IsType(t, &Dir{}, src)

	src, err = New(ctx, Options{Kind: KindFTP, FTPAddr: "localhost"})
	require.NoError(t, err)
	assert.IsType(t, &FTP{}, src)

	_, err = New(ctx, Options{Kind: KindS3})
	require.Error(t, err)

	_, err = New(ctx, Options{Kind: "gcs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "gcs"`)
}
