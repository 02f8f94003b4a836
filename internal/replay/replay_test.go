package replay

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/wal"
)

func writeRecords(t *testing.T, dir string, n int) {
	t.Helper()
	w, err := wal.Open(dir, 0, 1, wal.RotationConfig{})
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < n; i++ {
		payload := wal.EncodeCancel(wal.CancelPayload{OrderID: uint64(i + 1), UserID: 1})
		_, err := w.Append(wal.EntryCancel, 1, payload)
		require.NoError(t, err)
	}
	require.NoError(t, w.FlushAndSync())
}

func newTestServer(t *testing.T, dir string) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	NewServer(dir, zap.NewNop()).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchStreamsFullRange(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, 5)
	srv := newTestServer(t, dir)

	client := NewClient(srv.URL)
	var seqs []uint64
	err := client.Fetch(context.Background(), Request{FromSeq: 0, ToSeq: 5}, func(ev Event) ControlFlow {
		seqs = append(seqs, ev.SeqID)
		return Continue
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

func TestFetchRespectsFromSeqLowerBound(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, 5)
	srv := newTestServer(t, dir)

	client := NewClient(srv.URL)
	var seqs []uint64
	err := client.Fetch(context.Background(), Request{FromSeq: 2, ToSeq: 5}, func(ev Event) ControlFlow {
		seqs = append(seqs, ev.SeqID)
		return Continue
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 5}, seqs)
}

func TestFetchStopsEarlyOnCallbackStop(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, 5)
	srv := newTestServer(t, dir)

	client := NewClient(srv.URL)
	var seqs []uint64
	err := client.Fetch(context.Background(), Request{FromSeq: 0, ToSeq: 5}, func(ev Event) ControlFlow {
		seqs = append(seqs, ev.SeqID)
		if ev.SeqID == 2 {
			return Stop
		}
		return Continue
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestFetchMissingToSeqRejected(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, 2)
	r := mux.NewRouter()
	NewServer(dir, zap.NewNop()).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/replay?from_seq=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
