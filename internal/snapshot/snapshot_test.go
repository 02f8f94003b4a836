package snapshot

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTrivialSnapshot(t *testing.T, root string, walSeq uint64, cfg Config, content string) {
	t.Helper()
	w, err := Begin(root, walSeq, cfg)
	require.NoError(t, err)

	fw, err := w.CreateFile("state.bin")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	meta, err := fw.Close()
	require.NoError(t, err)
	w.Finish(meta)

	_, err = w.Commit("test-build")
	require.NoError(t, err)
}

func TestCommitProducesCompleteSnapshot(t *testing.T) {
	root := t.TempDir()
	writeTrivialSnapshot(t, root, 1000, DefaultConfig(), "hello")

	dir := filepath.Join(root, "snapshot-1000")
	_, err := os.Stat(filepath.Join(dir, CompleteMarker))
	require.NoError(t, err)

	link := filepath.Join(root, "latest")
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "snapshot-1000", target)
}

func TestLoadLatestRoundTrips(t *testing.T) {
	root := t.TempDir()
	writeTrivialSnapshot(t, root, 1000, DefaultConfig(), "payload-bytes")

	loaded, err := LoadLatest(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), loaded.Metadata.WalSeqID)
	assert.Equal(t, FormatVersion, loaded.Metadata.FormatVersion)
	require.Len(t, loaded.Metadata.Files, 1)
	assert.Equal(t, "none", loaded.Metadata.Files[0].Compression)

	rc, err := loaded.OpenFile("state.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payload-bytes", string(data))
}

func TestLoadLatestWithCompression(t *testing.T) {
	root := t.TempDir()
	writeTrivialSnapshot(t, root, 1000, Config{Retain: 3, Compress: true}, "compressible payload data "+string(make([]byte, 256)))

	loaded, err := LoadLatest(root)
	require.NoError(t, err)
	assert.Equal(t, "zstd", loaded.Metadata.Files[0].Compression)

	rc, err := loaded.OpenFile("state.bin")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "compressible payload data "+string(make([]byte, 256)), string(data))
}

func TestNoSnapshotYieldsErrNoSnapshot(t *testing.T) {
	root := t.TempDir()
	_, err := LoadLatest(root)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestIncompleteSnapshotIsIgnored(t *testing.T) {
	root := t.TempDir()
	w, err := Begin(root, 500, DefaultConfig())
	require.NoError(t, err)
	fw, err := w.CreateFile("state.bin")
	require.NoError(t, err)
	_, err = fw.Write([]byte("x"))
	require.NoError(t, err)
	meta, err := fw.Close()
	require.NoError(t, err)
	w.Finish(meta)
	// Deliberately do not Commit; rename the staging dir to look
	// plausible but never write metadata.json/COMPLETE, simulating a
	// crash between protocol steps 1 and 6.
	half := filepath.Join(root, "snapshot-500")
	require.NoError(t, os.Rename(w.tmpDir, half))

	_, err = LoadLatest(root)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestCorruptSnapshotFallsBackToPrevious(t *testing.T) {
	root := t.TempDir()
	writeTrivialSnapshot(t, root, 1000, DefaultConfig(), "first-good")
	writeTrivialSnapshot(t, root, 2000, DefaultConfig(), "second-good")

	// Corrupt the newest snapshot's data file in place.
	newest := filepath.Join(root, "snapshot-2000", "state.bin")
	require.NoError(t, os.WriteFile(newest, []byte("TAMPERED"), 0o644))

	loaded, err := LoadLatest(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), loaded.Metadata.WalSeqID)
}

func TestRetentionKeepsOnlyMostRecentN(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Retain: 2}
	writeTrivialSnapshot(t, root, 100, cfg, "a")
	writeTrivialSnapshot(t, root, 200, cfg, "b")
	writeTrivialSnapshot(t, root, 300, cfg, "c")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	assert.ElementsMatch(t, []string{"snapshot-200", "snapshot-300"}, dirs)

	loaded, err := LoadLatest(root)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), loaded.Metadata.WalSeqID)
}

func TestAbortRemovesStagingDir(t *testing.T) {
	root := t.TempDir()
	w, err := Begin(root, 1, DefaultConfig())
	require.NoError(t, err)
	fw, err := w.CreateFile("state.bin")
	require.NoError(t, err)
	_, err = fw.Close()
	require.NoError(t, err)

	require.NoError(t, w.Abort())
	_, err = os.Stat(w.tmpDir)
	assert.True(t, os.IsNotExist(err))
}
