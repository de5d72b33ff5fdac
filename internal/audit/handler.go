package audit

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// recordJSON is the wire form of a [Record].
type recordJSON struct {
	ID         int64     `json:"id,omitempty"`
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	IsFinal    bool      `json:"is_final"`
	State      string    `json:"state"`
	Interrupt  bool      `json:"interrupt"`
	Reason     string    `json:"reason"`
	Action     string    `json:"action"`
	Error      string    `json:"error,omitempty"`
	LatencyMS  float64   `json:"latency_ms"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Handler serves GET requests for recent records. Query parameters:
// session_id, reason and limit.
func Handler(store Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := Query{
			SessionID: r.URL.Query().Get("session_id"),
			Reason:    r.URL.Query().Get("reason"),
		}
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			q.Limit = n
		}

		records, err := store.Recent(r.Context(), q)
		if err != nil {
			slog.Warn("audit: query failed", "err", err)
			http.Error(w, "audit store unavailable", http.StatusServiceUnavailable)
			return
		}

		out := make([]recordJSON, len(records))
		for i, rec := range records {
			out[i] = recordJSON{
				ID:         rec.ID,
				SessionID:  rec.SessionID,
				Text:       rec.Text,
				Confidence: rec.Confidence,
				IsFinal:    rec.IsFinal,
				State:      rec.State,
				Interrupt:  rec.Interrupt,
				Reason:     rec.Reason,
				Action:     rec.Action,
				Error:      rec.Error,
				LatencyMS:  float64(rec.Latency) / float64(time.Millisecond),
				DecidedAt:  rec.DecidedAt,
			}
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			slog.Warn("audit: encode response", "err", err)
		}
	})
}
