package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

// StatusProvider exposes the progress of a running simulation
type StatusProvider interface {
	Status() models.SimulationStatus
	Rounds() []models.RoundSummary
}

type SimulationHandler struct {
	provider StatusProvider
}

func NewSimulationHandler(provider StatusProvider) *SimulationHandler {
	return &SimulationHandler{provider: provider}
}

func (h *SimulationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.provider.Status())
}

func (h *SimulationHandler) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds := h.provider.Rounds()
	if rounds == nil {
		rounds = []models.RoundSummary{}
	}
	writeJSON(w, http.StatusOK, rounds)
}

func (h *SimulationHandler) GetRound(w http.ResponseWriter, r *http.Request) {
	round, err := strconv.Atoi(mux.Vars(r)["round"])
	if err != nil || round < 0 {
		writeError(w, http.StatusBadRequest, "invalid round")
		return
	}

	for _, s := range h.provider.Rounds() {
		if s.Round == round {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "round not evaluated")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.WithComponent("api")
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
