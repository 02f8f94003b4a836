package settlementservice

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spotex/matchcore/internal/snapshot"
)

// checkpointFileName is the single .bin file a settlement-service
// snapshot writes, magic-tagged "STLC".
const checkpointFileName = "checkpoint.bin"

var checkpointMagic = [4]byte{'S', 'T', 'L', 'C'}

// Snapshot captures the last settled trade id at walSeqID into a new
// snapshot directory (spec §4.2 steps 1-8). Settlement's own state is
// a single counter, so this is the smallest of the three services'
// snapshots.
func (s *Service) Snapshot(walSeqID uint64, cfg snapshot.Config) (snapshot.Retention, error) {
	w, err := snapshot.Begin(s.cfg.SnapshotDir, walSeqID, cfg)
	if err != nil {
		return snapshot.Retention{}, err
	}

	fw, err := w.CreateFile(checkpointFileName)
	if err != nil {
		w.Abort()
		return snapshot.Retention{}, err
	}
	if err := writeCheckpointFile(fw, s.lastTradeID); err != nil {
		w.Abort()
		return snapshot.Retention{}, err
	}
	meta, err := fw.Close()
	if err != nil {
		w.Abort()
		return snapshot.Retention{}, err
	}
	w.Finish(meta)

	return w.Commit("matchcore-settlementservice")
}

func writeCheckpointFile(out io.Writer, lastTradeID uint64) error {
	header := make([]byte, 16)
	copy(header[0:4], checkpointMagic[:])
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint64(header[8:16], 1)
	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("settlementservice: write snapshot header: %w", err)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], lastTradeID)
	_, err := out.Write(buf[:])
	return err
}

func readCheckpointFile(in io.Reader) (uint64, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(in, header); err != nil {
		return 0, fmt.Errorf("settlementservice: read snapshot header: %w", err)
	}
	if string(header[0:4]) != string(checkpointMagic[:]) {
		return 0, fmt.Errorf("settlementservice: bad snapshot magic %q", header[0:4])
	}
	var buf [8]byte
	if _, err := io.ReadFull(in, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
