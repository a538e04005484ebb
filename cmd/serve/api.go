package serve

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ValentinKolb/dSync/lib/entity"
	"github.com/ValentinKolb/dSync/lib/entity/record"
	"github.com/ValentinKolb/dSync/lib/heartbeat"
	"github.com/ValentinKolb/dSync/lib/orchestrator"
	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/ValentinKolb/dSync/lib/syncmgr"
	"github.com/VictoriaMetrics/metrics"
)

// maxPayloadBytes bounds a single record payload
const maxPayloadBytes = 4 << 20

// newAPIHandler builds the node's HTTP surface: record CRUD, health and
// metrics.
func newAPIHandler(
	cfg *nodeConfig,
	orch orchestrator.IStorageOrchestrator,
	coord syncmgr.ISyncCoordinator,
	monitor heartbeat.IHeartbeatMonitor,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"node_id": cfg.NodeID,
			"peers":   len(monitor.GetHealthyPeers()),
			"load":    monitor.GetTotalLoad(),
			"dirty":   orch.DirtyCount(),
		})
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	mux.HandleFunc("GET /records/{owner}/{subgroup}/{variant}", func(w http.ResponseWriter, r *http.Request) {
		key := pathKey(r)
		e, loaded, err := orch.Load(key)
		if err != nil {
			writeError(w, err)
			return
		}
		if !loaded {
			http.Error(w, "record not found", http.StatusNotFound)
			return
		}
		rec, ok := e.(*record.Record)
		if !ok {
			http.Error(w, "unsupported record type", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"key":     key.String(),
			"version": rec.Version(),
			"payload": rec.Payload(),
		})
	})

	mux.HandleFunc("PUT /records/{owner}/{subgroup}/{variant}", func(w http.ResponseWriter, r *http.Request) {
		key := pathKey(r)
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			http.Error(w, "failed to read payload", http.StatusBadRequest)
			return
		}

		// update in place if the record exists so the version continues,
		// otherwise start a fresh one
		rec := record.New(key, payload)
		if existing, loaded, err := orch.Load(key); err == nil && loaded {
			if er, ok := existing.(*record.Record); ok {
				er.SetPayload(payload)
				rec = er
			}
		}

		if err := orch.SaveWithLock(r.Context(), rec, cfg.LockWaitTimeout); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"key":     key.String(),
			"version": rec.Version(),
		})
	})

	mux.HandleFunc("DELETE /records/{owner}/{subgroup}/{variant}", func(w http.ResponseWriter, r *http.Request) {
		if err := orch.Delete(pathKey(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /locks/{owner}/{subgroup}/{variant}", func(w http.ResponseWriter, r *http.Request) {
		key := pathKey(r)
		holder, locked, err := coord.GetLockHolder(key.String())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"key":    key.String(),
			"locked": locked,
			"holder": holder,
		})
	})

	return mux
}

func pathKey(r *http.Request) entity.Key {
	return entity.Key{
		OwnerID:  r.PathValue("owner"),
		Subgroup: r.PathValue("subgroup"),
		Variant:  r.PathValue("variant"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps internal errors to HTTP status codes. Lock contention is
// a client-visible conflict, everything else an internal failure.
func writeError(w http.ResponseWriter, err error) {
	var sharedErr *shared.Error
	if errors.As(err, &sharedErr) {
		switch sharedErr.Code {
		case shared.RetCInvalidOperation:
			http.Error(w, err.Error(), http.StatusConflict)
			return
		case shared.RetCConnection:
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
