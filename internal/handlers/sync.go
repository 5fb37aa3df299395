package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/tendant/simple-image-sync/internal/workflows"
	"github.com/tendant/simple-image-sync/pkg/pipeline"
)

// Syncer runs one sync pass
type Syncer interface {
	Sync(ctx context.Context) (*pipeline.Summary, error)
}

// SyncHandler exposes sync runs over HTTP
type SyncHandler struct {
	syncer Syncer
	logger *log.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncer Syncer, logger *log.Logger) *SyncHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &SyncHandler{syncer: syncer, logger: logger}
}

// HandleSync handles POST /v1/sync - runs a sync pass and returns its summary.
// Per-file failures are reported in the body with 200; a run that could
// not list its trees returns 500.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Printf("Sync requested from %s", r.RemoteAddr)

	summary, err := h.syncer.Sync(r.Context())
	if err != nil {
		h.logger.Printf("Sync failed: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, workflows.ErrSourceMissing) {
			status = http.StatusConflict
		}
		http.Error(w, fmt.Sprintf("Sync failed: %v", err), status)
		return
	}

	writeJSON(w, http.StatusOK, pipeline.NewSyncResponse(summary))
}

// HandleHealth handles GET /health
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// NewMux registers the sync endpoints. metrics may be nil.
func NewMux(h *SyncHandler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HandleHealth)
	mux.HandleFunc("/v1/sync", h.HandleSync)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
