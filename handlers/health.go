package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kevinaaaquil/kremlib/logging"
	"github.com/kevinaaaquil/kremlib/utils"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB Pinger
}

type HealthResponse struct {
	Database string `json:"database"`
}

// Health reports whether the database answers within two seconds.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.DB.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
		utils.WriteError(w, http.StatusServiceUnavailable, "database unavailable", nil)
		return
	}
	utils.WriteJSON(w, http.StatusOK, "ok", HealthResponse{Database: "up"})
}
