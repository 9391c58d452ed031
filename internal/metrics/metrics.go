// Package metrics keeps process-wide counters for the server.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

// Metrics is a set of counters updated with atomic operations. The zero value
// is ready to use.
type Metrics struct {
	Connections        atomic.Int64 // open connections
	Sessions           atomic.Int64 // active sessions
	FramesIn           atomic.Uint64
	FramesOut          atomic.Uint64
	BytesIn            atomic.Uint64
	Kicks              atomic.Uint64
	IdleEvictions      atomic.Uint64
	RateLimited        atomic.Uint64
	ProtocolErrors     atomic.Uint64
	ThrottledPositions atomic.Uint64 // position updates coalesced by the throttle
	TouchEvents        atomic.Uint64
}

func New() *Metrics { return &Metrics{} }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Connections        int64  `json:"connections"`
	Sessions           int64  `json:"sessions"`
	FramesIn           uint64 `json:"frames_in"`
	FramesOut          uint64 `json:"frames_out"`
	BytesIn            uint64 `json:"bytes_in"`
	Kicks              uint64 `json:"kicks"`
	IdleEvictions      uint64 `json:"idle_evictions"`
	RateLimited        uint64 `json:"rate_limited"`
	ProtocolErrors     uint64 `json:"protocol_errors"`
	ThrottledPositions uint64 `json:"throttled_positions"`
	TouchEvents        uint64 `json:"touch_events"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Connections:        m.Connections.Load(),
		Sessions:           m.Sessions.Load(),
		FramesIn:           m.FramesIn.Load(),
		FramesOut:          m.FramesOut.Load(),
		BytesIn:            m.BytesIn.Load(),
		Kicks:              m.Kicks.Load(),
		IdleEvictions:      m.IdleEvictions.Load(),
		RateLimited:        m.RateLimited.Load(),
		ProtocolErrors:     m.ProtocolErrors.Load(),
		ThrottledPositions: m.ThrottledPositions.Load(),
		TouchEvents:        m.TouchEvents.Load(),
	}
}

// Handler serves the snapshot as JSON.
// GET /metrics
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Snapshot())
	})
}
