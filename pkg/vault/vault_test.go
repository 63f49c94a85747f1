package vault

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittovault/pkg/fnode"
	"github.com/marmos91/dittovault/pkg/vaultconfig"
	"github.com/marmos91/dittovault/pkg/vaulterr"
)

func fileURI(t *testing.T) string {
	t.Helper()
	return "file://" + t.TempDir()
}

func fastConfig() *vaultconfig.Config {
	cfg := vaultconfig.Default()
	cfg.OpsLimit = "interactive"
	cfg.MemLimit = "interactive"
	return cfg
}

func TestCreateThenOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	uri := fileURI(t)

	v, err := Create(ctx, uri, "hunter2", fastConfig())
	require.NoError(t, err)

	require.NoError(t, v.CreateFile(ctx, "/hello.txt"))
	f, err := v.OpenFile(ctx, "/hello.txt", ReadWriteMode)
	require.NoError(t, err)
	n, err := f.Write(ctx, []byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, f.Close())

	require.NoError(t, v.Close(ctx))

	v2, err := Open(ctx, uri, "hunter2", fastConfig())
	require.NoError(t, err)
	defer v2.Close(ctx)

	got, err := v2.OpenFile(ctx, "/hello.txt", ReadOnlyMode)
	require.NoError(t, err)
	defer got.Close()

	buf := make([]byte, 64)
	n, err = got.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
}

func TestOpenWrongPassword(t *testing.T) {
	ctx := context.Background()
	uri := fileURI(t)

	v, err := Create(ctx, uri, "correct horse", fastConfig())
	require.NoError(t, err)
	require.NoError(t, v.Close(ctx))

	_, err = Open(ctx, uri, "wrong password", fastConfig())
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.WrongPassword))
}

func TestOpenMissingFailsNotFound(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, fileURI(t), "x", fastConfig())
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.NotFound))
}

func TestCreateTwiceFailsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	uri := fileURI(t)

	v, err := Create(ctx, uri, "x", fastConfig())
	require.NoError(t, err)
	require.NoError(t, v.Close(ctx))

	_, err = Create(ctx, uri, "x", fastConfig())
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.AlreadyExists))
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)

	require.NoError(t, v.Close(ctx))
	require.NoError(t, v.Close(ctx))
}

func TestMkdirAndReadDir(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.Mkdir(ctx, "/a"))
	require.NoError(t, v.CreateFile(ctx, "/a/b.txt"))
	require.NoError(t, v.Mkdir(ctx, "/a/c"))

	entries, err := v.ReadDir(ctx, "/a")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byName := map[string]fnode.Kind{}
	for _, e := range entries {
		byName[e.Name] = e.Kind
	}
	assert.Equal(t, fnode.File, byName["b.txt"])
	assert.Equal(t, fnode.Dir, byName["c"])
}

func TestMkdirTwiceFailsAlreadyExists(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.Mkdir(ctx, "/a"))
	err = v.Mkdir(ctx, "/a")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.AlreadyExists))
}

func TestMkdirAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.MkdirAll(ctx, "/a/b/c"))
	require.NoError(t, v.MkdirAll(ctx, "/a/b/c"))
	require.NoError(t, v.MkdirAll(ctx, "/a/b/d"))

	info, err := v.Stat(ctx, "/a/b/c")
	require.NoError(t, err)
	assert.Equal(t, fnode.Dir, info.Kind)
}

func TestRemoveTwiceFailsNotFound(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.CreateFile(ctx, "/f"))
	require.NoError(t, v.Remove(ctx, "/f"))

	err = v.Remove(ctx, "/f")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.NotFound))
}

func TestRemoveFailsInUseWhileOpenForWrite(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.CreateFile(ctx, "/f"))
	f, err := v.OpenFile(ctx, "/f", ReadWriteMode)
	require.NoError(t, err)
	defer f.Close()

	err = v.Remove(ctx, "/f")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.InUse))
}

func TestSecondWriteHandleFailsInUse(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.CreateFile(ctx, "/f"))
	f1, err := v.OpenFile(ctx, "/f", ReadWriteMode)
	require.NoError(t, err)
	defer f1.Close()

	_, err = v.OpenFile(ctx, "/f", ReadWriteMode)
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.InUse))
}

func TestWriteHandleReleasedOnClose(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.CreateFile(ctx, "/f"))
	f1, err := v.OpenFile(ctx, "/f", ReadWriteMode)
	require.NoError(t, err)
	require.NoError(t, f1.Close())

	f2, err := v.OpenFile(ctx, "/f", ReadWriteMode)
	require.NoError(t, err)
	require.NoError(t, f2.Close())
}

func TestRenameReplacesDestination(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.CreateFile(ctx, "/a"))
	a, err := v.OpenFile(ctx, "/a", ReadWriteMode)
	require.NoError(t, err)
	_, err = a.Write(ctx, []byte("new"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	require.NoError(t, v.CreateFile(ctx, "/b"))
	b, err := v.OpenFile(ctx, "/b", ReadWriteMode)
	require.NoError(t, err)
	_, err = b.Write(ctx, []byte("old content here"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	require.NoError(t, v.Rename(ctx, "/a", "/b"))

	_, err = v.Stat(ctx, "/a")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.NotFound))

	f, err := v.OpenFile(ctx, "/b", ReadOnlyMode)
	require.NoError(t, err)
	defer f.Close()
	buf := make([]byte, 64)
	n, err := f.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "new", string(buf[:n]))
}

func TestRenameIntoOwnDescendantFailsInvalidArgument(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.Mkdir(ctx, "/a"))
	require.NoError(t, v.Mkdir(ctx, "/a/b"))

	err = v.Rename(ctx, "/a", "/a/b/c")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.InvalidArgument))

	err = v.Rename(ctx, "/a", "/a")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.InvalidArgument))
}

func TestOpenFileOnDirectoryFailsIsDir(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.Mkdir(ctx, "/a"))
	_, err = v.OpenFile(ctx, "/a", ReadOnlyMode)
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.IsDir))
}

func TestReadOnlyOpenRejectsMutation(t *testing.T) {
	ctx := context.Background()
	uri := fileURI(t)

	v, err := Create(ctx, uri, "x", fastConfig())
	require.NoError(t, err)
	require.NoError(t, v.CreateFile(ctx, "/f"))
	require.NoError(t, v.Close(ctx))

	cfg := fastConfig()
	cfg.ReadOnly = true
	ro, err := Open(ctx, uri, "x", cfg)
	require.NoError(t, err)
	defer ro.Close(ctx)

	err = ro.CreateFile(ctx, "/g")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.ReadOnly))
}

func TestOperationsAfterCloseFailClosed(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	require.NoError(t, v.Close(ctx))

	err = v.CreateFile(ctx, "/f")
	require.Error(t, err)
	assert.True(t, vaulterr.Is(err, vaulterr.Closed))
}

func TestDeduplicatesIdenticalContentAcrossFiles(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	payload := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk")

	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/dup-%d", i)
		require.NoError(t, v.CreateFile(ctx, path))
		f, err := v.OpenFile(ctx, path, ReadWriteMode)
		require.NoError(t, err)
		_, err = f.Write(ctx, payload)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	for i := 0; i < 5; i++ {
		path := fmt.Sprintf("/dup-%d", i)
		f, err := v.OpenFile(ctx, path, ReadOnlyMode)
		require.NoError(t, err)
		buf := make([]byte, len(payload))
		n, err := f.Read(ctx, buf)
		require.NoError(t, err)
		assert.Equal(t, payload, buf[:n])
		require.NoError(t, f.Close())
	}
}

func TestRepeatedWritesUnderVersionLimitKeepLength(t *testing.T) {
	ctx := context.Background()
	cfg := fastConfig()
	cfg.VersionLimit = 2
	v, err := Create(ctx, fileURI(t), "x", cfg)
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.CreateFile(ctx, "/f"))
	f, err := v.OpenFile(ctx, "/f", ReadWriteMode)
	require.NoError(t, err)
	defer f.Close()

	for i := 0; i < 5; i++ {
		_, err := f.WriteAt(ctx, 0, []byte{byte(i)})
		require.NoError(t, err)
	}

	n, err := f.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestTruncateShortensFile(t *testing.T) {
	ctx := context.Background()
	v, err := Create(ctx, fileURI(t), "x", fastConfig())
	require.NoError(t, err)
	defer v.Close(ctx)

	require.NoError(t, v.CreateFile(ctx, "/f"))
	f, err := v.OpenFile(ctx, "/f", ReadWriteMode)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.Write(ctx, []byte("0123456789"))
	require.NoError(t, err)
	require.NoError(t, f.Truncate(ctx, 4))

	n, err := f.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	got, err := f.ReadAt(ctx, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(got))
}

func TestRecoversAfterReopenWithoutCleanClose(t *testing.T) {
	ctx := context.Background()
	uri := fileURI(t)

	v, err := Create(ctx, uri, "x", fastConfig())
	require.NoError(t, err)

	require.NoError(t, v.CreateFile(ctx, "/f"))
	f, err := v.OpenFile(ctx, "/f", ReadWriteMode)
	require.NoError(t, err)
	_, err = f.Write(ctx, []byte("committed before crash"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Simulate an unclean shutdown: skip checkpoint/Close and drop the
	// depot connection directly, leaving the committed write durable
	// only in the WAL the next Open must recover from.
	require.NoError(t, v.depot.Close(ctx))

	v2, err := Open(ctx, uri, "x", fastConfig())
	require.NoError(t, err)
	defer v2.Close(ctx)

	got, err := v2.OpenFile(ctx, "/f", ReadOnlyMode)
	require.NoError(t, err)
	defer got.Close()

	buf := make([]byte, 64)
	n, err := got.Read(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, "committed before crash", string(buf[:n]))
}
