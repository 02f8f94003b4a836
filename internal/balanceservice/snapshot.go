package balanceservice

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/spotex/matchcore/internal/balance"
	"github.com/spotex/matchcore/internal/snapshot"
)

// balancesFileName is the single .bin file a balance-service snapshot
// writes, magic-tagged "BALS" per spec §6.3.
const balancesFileName = "balances.bin"

var balancesMagic = [4]byte{'B', 'A', 'L', 'S'}

// Snapshot captures the ledger's current state at walSeqID into a new
// snapshot directory under cfg.SnapshotDir (spec §4.2 steps 1-8).
func (s *Service) Snapshot(walSeqID uint64, cfg snapshot.Config) (snapshot.Retention, error) {
	w, err := snapshot.Begin(s.cfg.SnapshotDir, walSeqID, cfg)
	if err != nil {
		return snapshot.Retention{}, err
	}

	fw, err := w.CreateFile(balancesFileName)
	if err != nil {
		w.Abort()
		return snapshot.Retention{}, err
	}

	rows := s.ledger.Export()
	if err := writeBalancesFile(fw, rows); err != nil {
		w.Abort()
		return snapshot.Retention{}, err
	}
	meta, err := fw.Close()
	if err != nil {
		w.Abort()
		return snapshot.Retention{}, err
	}
	w.Finish(meta)

	return w.Commit("matchcore-balanceservice")
}

func writeBalancesFile(out io.Writer, rows []balance.Row) error {
	header := make([]byte, 16)
	copy(header[0:4], balancesMagic[:])
	binary.LittleEndian.PutUint32(header[4:8], 1)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(rows)))
	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("balanceservice: write snapshot header: %w", err)
	}

	buf := make([]byte, 8+4+8+8+8+8)
	for _, row := range rows {
		binary.LittleEndian.PutUint64(buf[0:8], row.Key.UserID)
		binary.LittleEndian.PutUint32(buf[8:12], row.Key.AssetID)
		binary.LittleEndian.PutUint64(buf[12:20], row.Balance.Available)
		binary.LittleEndian.PutUint64(buf[20:28], row.Balance.Frozen)
		binary.LittleEndian.PutUint64(buf[28:36], row.Balance.LockVersion)
		binary.LittleEndian.PutUint64(buf[36:44], row.Balance.SettleVersion)
		if _, err := out.Write(buf); err != nil {
			return fmt.Errorf("balanceservice: write balance row: %w", err)
		}
	}
	return nil
}

func readBalancesFile(in io.Reader) ([]balance.Row, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(in, header); err != nil {
		return nil, fmt.Errorf("balanceservice: read snapshot header: %w", err)
	}
	if string(header[0:4]) != string(balancesMagic[:]) {
		return nil, fmt.Errorf("balanceservice: bad snapshot magic %q", header[0:4])
	}
	count := binary.LittleEndian.Uint64(header[8:16])

	rows := make([]balance.Row, 0, count)
	buf := make([]byte, 8+4+8+8+8+8)
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, fmt.Errorf("balanceservice: read balance row %d: %w", i, err)
		}
		rows = append(rows, balance.Row{
			Key: balance.Key{
				UserID:  binary.LittleEndian.Uint64(buf[0:8]),
				AssetID: binary.LittleEndian.Uint32(buf[8:12]),
			},
			Balance: balance.Balance{
				Available:     binary.LittleEndian.Uint64(buf[12:20]),
				Frozen:        binary.LittleEndian.Uint64(buf[20:28]),
				LockVersion:   binary.LittleEndian.Uint64(buf[28:36]),
				SettleVersion: binary.LittleEndian.Uint64(buf[36:44]),
			},
		})
	}
	return rows, nil
}
