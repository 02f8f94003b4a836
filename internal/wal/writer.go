package wal

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotationConfig holds the three rotation triggers of spec §4.1.
type RotationConfig struct {
	MaxFileSize int64         // bytes; default 256 MiB
	MaxDuration time.Duration // default 1h
	MaxEntries  uint64        // default 1,000,000
}

// DefaultRotationConfig matches the production defaults named in spec §4.1.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxFileSize: 256 * 1024 * 1024,
		MaxDuration: time.Hour,
		MaxEntries:  1_000_000,
	}
}

// currentFileName is the name of the single mutable, actively-written file.
const currentFileName = "current.wal"

// Writer is the single append-only writer for one service's WAL
// directory. Exactly one Writer exists per service (spec §5: "exclusive
// writer per service").
type Writer struct {
	mu sync.Mutex

	dir string
	cfg RotationConfig

	file   *os.File
	bufw   *bufio.Writer
	closed bool

	epoch     uint32
	nextSeq   uint64
	size      int64
	count     uint64
	openedAt  time.Time
}

// Open opens (creating if necessary) the WAL directory's current.wal
// file for appending, starting sequence assignment at startSeq and
// tagging every new record with epoch. startSeq/epoch normally come
// from recovery (spec §4.3): cold start uses (epoch=0, startSeq=1).
func Open(dir string, epoch uint32, startSeq uint64, cfg RotationConfig) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	path := filepath.Join(dir, currentFileName)
	isNew := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	if isNew {
		if err := writeFileHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	} else if err := verifyFileHeader(f); err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{
		dir:      dir,
		cfg:      cfg,
		file:     f,
		bufw:     bufio.NewWriter(f),
		epoch:    epoch,
		nextSeq:  startSeq,
		size:     info.Size(),
		openedAt: time.Now(),
	}, nil
}

func writeFileHeader(f *os.File) error {
	var b [FileHeaderSize]byte
	copy(b[0:4], FileMagic[:])
	order.PutUint32(b[4:8], FileVersion)
	if _, err := f.Write(b[:]); err != nil {
		return fmt.Errorf("wal: write file header: %w", err)
	}
	return f.Sync()
}

func verifyFileHeader(f *os.File) error {
	var b [FileHeaderSize]byte
	if _, err := f.ReadAt(b[:], 0); err != nil {
		return fmt.Errorf("wal: read file header: %w", err)
	}
	if string(b[0:4]) != string(FileMagic[:]) {
		return ErrBadMagic
	}
	if order.Uint32(b[4:8]) != FileVersion {
		return ErrUnsupportedVersion
	}
	return nil
}

// Append assigns the next seq_id, writes header+payload to the current
// file through the buffered writer, and advances the in-memory
// counters. The returned seq_id is only durable once FlushAndSync has
// succeeded for the batch containing it (spec §4.1).
func (w *Writer) Append(entryType EntryType, version uint8, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrClosed
	}
	if len(payload) > MaxPayloadSize {
		return 0, ErrPayloadTooLarge
	}
	if !entryType.Valid() {
		return 0, ErrUnknownEntryType
	}

	seq := w.nextSeq
	hdr := RecordHeader{
		PayloadLen: uint16(len(payload)),
		EntryType:  entryType,
		Version:    version,
		Epoch:      w.epoch,
		SeqID:      seq,
		Checksum:   crc32.ChecksumIEEE(payload),
	}

	buf := make([]byte, RecordHeaderSize)
	order.PutUint16(buf[0:2], hdr.PayloadLen)
	buf[2] = byte(hdr.EntryType)
	buf[3] = hdr.Version
	order.PutUint32(buf[4:8], hdr.Epoch)
	order.PutUint64(buf[8:16], hdr.SeqID)
	order.PutUint32(buf[16:20], hdr.Checksum)

	if _, err := w.bufw.Write(buf); err != nil {
		return 0, fmt.Errorf("wal: write header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.bufw.Write(payload); err != nil {
			return 0, fmt.Errorf("wal: write payload: %w", err)
		}
	}

	w.nextSeq++
	w.size += int64(RecordHeaderSize + len(payload))
	w.count++

	return seq, nil
}

// FlushAndSync flushes the buffered writer and fsyncs the underlying
// file. Failure is fatal: the caller must stop acknowledging commands
// rather than ack something it cannot prove durable (spec §4.1/§7).
func (w *Writer) FlushAndSync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushAndSyncLocked()
}

func (w *Writer) flushAndSyncLocked() error {
	if w.closed {
		return ErrClosed
	}
	if err := w.bufw.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync: %w", err)
	}
	return nil
}

// ShouldRotate reports whether any rotation trigger has fired (spec §4.1).
func (w *Writer) ShouldRotate() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shouldRotateLocked()
}

func (w *Writer) shouldRotateLocked() bool {
	if w.cfg.MaxFileSize > 0 && w.size >= w.cfg.MaxFileSize {
		return true
	}
	if w.cfg.MaxDuration > 0 && time.Since(w.openedAt) >= w.cfg.MaxDuration {
		return true
	}
	if w.cfg.MaxEntries > 0 && w.count >= w.cfg.MaxEntries {
		return true
	}
	return false
}

// Rotate closes the current file (after syncing) and renames it to its
// immutable historical name wal-{epoch:05}-{lastSeq:010}.wal, then
// opens a fresh current.wal. Safe to call unconditionally: a file with
// no records is left in place. Taking a snapshot does not rotate the
// WAL, so a snapshot's wal_seq_id need not fall on a file boundary.
func (w *Writer) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked()
}

func (w *Writer) rotateLocked() error {
	if w.closed {
		return ErrClosed
	}
	if w.count == 0 {
		// Nothing written to this file yet; rotating would produce a
		// zero-record historical segment with no upper seq bound.
		return nil
	}

	if err := w.flushAndSyncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close before rotate: %w", err)
	}

	lastSeq := w.nextSeq - 1
	oldPath := filepath.Join(w.dir, currentFileName)
	newName := fmt.Sprintf("wal-%05d-%010d.wal", w.epoch, lastSeq)
	newPath := filepath.Join(w.dir, newName)
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("wal: rename rotated segment: %w", err)
	}

	f, err := os.OpenFile(oldPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: open new current.wal: %w", err)
	}
	if err := writeFileHeader(f); err != nil {
		f.Close()
		return err
	}

	w.file = f
	w.bufw = bufio.NewWriter(f)
	w.size = FileHeaderSize
	w.count = 0
	w.openedAt = time.Now()
	return nil
}

// BumpEpoch increments the epoch used for all subsequently-written
// records. The services' Recover functions do not call it: when replay
// stops at a CRC boundary they pass an incremented epoch to Open
// instead.
func (w *Writer) BumpEpoch() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.epoch++
	return w.epoch
}

// NextSeqID returns the seq_id that the next Append call will assign.
func (w *Writer) NextSeqID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

// Epoch returns the writer's current epoch.
func (w *Writer) Epoch() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.epoch
}

// Close flushes, syncs and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	err := w.flushAndSyncLocked()
	w.closed = true
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
