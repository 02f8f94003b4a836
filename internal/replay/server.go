package replay

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/spotex/matchcore/internal/wal"
)

// Server exposes a single WAL directory for replay over HTTP.
type Server struct {
	walDir string
	log    *zap.Logger
}

// NewServer builds a replay server reading records out of walDir.
func NewServer(walDir string, log *zap.Logger) *Server {
	return &Server{walDir: walDir, log: log}
}

// Register mounts the replay endpoint on r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/replay", s.handleReplay).Methods(http.MethodGet)
}

// handleReplay streams wal.Record values matching ?from_seq=&to_seq= as
// newline-delimited JSON, one Event per line, flushing after each so
// the client can process records as they arrive rather than waiting
// for the whole range to buffer.
func (s *Server) handleReplay(w http.ResponseWriter, req *http.Request) {
	fromSeq, err := parseUint(req.URL.Query().Get("from_seq"))
	if err != nil {
		http.Error(w, "invalid from_seq", http.StatusBadRequest)
		return
	}
	toSeqStr := req.URL.Query().Get("to_seq")
	if toSeqStr == "" {
		http.Error(w, "to_seq is required", http.StatusBadRequest)
		return
	}
	toSeq, err := parseUint(toSeqStr)
	if err != nil {
		http.Error(w, "invalid to_seq", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	result, err := wal.Replay(s.walDir, fromSeq, &toSeq, func(rec wal.Record) bool {
		if encErr := enc.Encode(recordToEvent(rec)); encErr != nil {
			s.log.Warn("replay: client disconnected mid-stream", zap.Error(encErr))
			return false
		}
		flusher.Flush()
		return true
	})
	if err != nil {
		s.log.Error("replay: wal.Replay failed", zap.Error(err), zap.String("dir", s.walDir))
		return
	}
	if result.HitBoundary {
		s.log.Warn("replay: stopped at WAL boundary",
			zap.Uint64("last_seq", result.LastSeq), zap.Error(result.BoundaryErr))
	}
}

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
