package node

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/ryandielhenn/pingack/internal/telemetry"
	"github.com/ryandielhenn/pingack/pkg/detector"
)

// Healthz returns 200 OK to indicate the process is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Info writes the node's role, address and detector state as JSON.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		Role       string                  `json:"role"`
		Address    detector.Address        `json:"address"`
		PID        int                     `json:"pid"`
		Now        time.Time               `json:"now"`
		Registered *bool                   `json:"registered,omitempty"`
		Workers    []detector.WorkerRecord `json:"workers,omitempty"`
	}
	r := resp{Role: n.role, Address: n.self, PID: os.Getpid(), Now: n.clock.Now()}
	if n.coord != nil {
		r.Workers = n.Workers()
	} else {
		reg := n.Registered()
		r.Registered = &reg
	}
	data, err := json.Marshal(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Mux wires the status endpoints.
func (n *Node) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/healthz", telemetry.Instrument("healthz", http.HandlerFunc(n.Healthz)))
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
