package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrNoSnapshot means no complete snapshot exists; the caller should
// cold-start (spec §4.2 "if no valid snapshot exists, the service
// performs a cold start").
var ErrNoSnapshot = errors.New("snapshot: no complete snapshot available")

// ErrCorrupt wraps a checksum or structural failure detected while
// loading a specific snapshot directory.
type ErrCorrupt struct {
	Dir string
	Err error
}

func (e *ErrCorrupt) Error() string {
	return fmt.Sprintf("snapshot: %s is corrupt: %v", e.Dir, e.Err)
}

func (e *ErrCorrupt) Unwrap() error { return e.Err }

// Loaded is a successfully opened, checksum-verified snapshot directory.
type Loaded struct {
	Dir      string
	Metadata Metadata
}

// OpenFile opens one of the snapshot's .bin files for reading,
// transparently decompressing it if its metadata says it was written
// with zstd. The caller must Close the returned ReadCloser.
func (l *Loaded) OpenFile(name string) (io.ReadCloser, error) {
	var fm *FileMeta
	for i := range l.Metadata.Files {
		if l.Metadata.Files[i].Name == name {
			fm = &l.Metadata.Files[i]
			break
		}
	}
	if fm == nil {
		return nil, fmt.Errorf("snapshot: file %s not listed in metadata", name)
	}
	f, err := os.Open(filepath.Join(l.Dir, name))
	if err != nil {
		return nil, err
	}
	if fm.Compression == "zstd" {
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("snapshot: new zstd reader for %s: %w", name, err)
		}
		return zstdReadCloser{zr: zr, f: f}, nil
	}
	return f, nil
}

type zstdReadCloser struct {
	zr *zstd.Decoder
	f  *os.File
}

func (z zstdReadCloser) Read(p []byte) (int, error) { return z.zr.Read(p) }
func (z zstdReadCloser) Close() error {
	z.zr.Close()
	return z.f.Close()
}

// LoadLatest resolves root's `latest` symlink and loads that snapshot,
// verifying every file's CRC64 against metadata.json (spec §4.3 hot
// start steps 1-2). If `latest` is missing or names no COMPLETE
// snapshot, the newest COMPLETE snapshot is tried first. On checksum or
// structural corruption it falls back to the next-newest COMPLETE
// snapshot, and to ErrNoSnapshot if none remain valid (spec §4.2
// "Failure semantics").
func LoadLatest(root string) (*Loaded, error) {
	candidates, err := completeSnapshotsNewestFirst(root)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoSnapshot
	}
	if target, linkErr := os.Readlink(filepath.Join(root, latestLinkName)); linkErr == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(root, target)
		}
		for i, dir := range candidates {
			if dir == filepath.Clean(target) && i > 0 {
				reordered := append([]string{dir}, candidates[:i]...)
				candidates = append(reordered, candidates[i+1:]...)
				break
			}
		}
	}

	var lastErr error
	for _, dir := range candidates {
		loaded, err := loadAndVerify(dir)
		if err == nil {
			return loaded, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w (all candidates corrupt, last error: %v)", ErrNoSnapshot, lastErr)
}

func loadAndVerify(dir string) (*Loaded, error) {
	metaPath := filepath.Join(dir, "metadata.json")
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, &ErrCorrupt{Dir: dir, Err: err}
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, &ErrCorrupt{Dir: dir, Err: err}
	}
	for _, fm := range meta.Files {
		if err := verifyFileChecksum(filepath.Join(dir, fm.Name), fm.CRC64); err != nil {
			return nil, &ErrCorrupt{Dir: dir, Err: fmt.Errorf("file %s: %w", fm.Name, err)}
		}
	}
	return &Loaded{Dir: dir, Metadata: meta}, nil
}

func verifyFileChecksum(path string, want uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var got uint64
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			got = crc64.Update(got, crc64Table, buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if got != want {
		return fmt.Errorf("crc64 mismatch: want %d, got %d", want, got)
	}
	return nil
}

// completeSnapshotsNewestFirst lists every snapshot directory under
// root with a COMPLETE marker, sorted by wal_seq_id descending —
// callers try them in this order until one verifies cleanly.
func completeSnapshotsNewestFirst(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type entry struct {
		seq uint64
		dir string
	}
	var found []entry
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), snapshotDirRe) {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, CompleteMarker)); err != nil {
			continue
		}
		seqStr := strings.TrimPrefix(e.Name(), snapshotDirRe)
		seq, err := strconv.ParseUint(seqStr, 10, 64)
		if err != nil {
			continue
		}
		found = append(found, entry{seq: seq, dir: dir})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq > found[j].seq })

	dirs := make([]string, len(found))
	for i, e := range found {
		dirs[i] = e.dir
	}
	return dirs, nil
}
