package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/motorline/dealerflow/internal/engine"
	"github.com/motorline/dealerflow/internal/models"
)

// runHandler handles POST /v1/run: one workflow turn for one inbound message.
// It exposes the raw engine contract — the caller is responsible for
// directive rendering and response validation before anything reaches a
// customer. A missing step yields a null result, not an error.
func (s *Server) runHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	slog.Debug("runHandler invoked", "path", r.URL.Path)

	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("runHandler invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("runHandler validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	result, err := s.runner.Run(r.Context(), req.Workflow, req.Steps, req.ConversationID, req.UserMessage)
	if errors.Is(err, engine.ErrConversationCompleted) {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(err.Error(), nil))
		return
	}
	if err != nil {
		slog.Error("runHandler turn failed", "error", err, "conversationID", req.ConversationID, "workflowID", req.Workflow.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process turn"))
		return
	}
	if result == nil {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("no step matches the conversation's position", nil))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// workflowsHandler handles POST (register) and GET (list) on /v1/workflows.
func (s *Server) workflowsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read request body"))
			return
		}
		def, err := s.registry.RegisterJSON(body)
		if err != nil {
			slog.Warn("workflowsHandler registration rejected", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
			return
		}
		writeJSONResponse(w, http.StatusCreated, models.Success(def.Workflow))

	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.registry.List()))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// stateHandler handles GET /v1/state?conversation_id=...&workflow_id=...
func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conversationID := r.URL.Query().Get("conversation_id")
	workflowID := r.URL.Query().Get("workflow_id")
	if conversationID == "" || workflowID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("conversation_id and workflow_id are required"))
		return
	}

	state, err := s.states.Load(r.Context(), conversationID, workflowID)
	if err != nil {
		slog.Error("stateHandler load failed", "error", err, "conversationID", conversationID, "workflowID", workflowID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation state"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// pricesHandler handles POST /v1/prices: add a verified amount for a vehicle.
func (s *Server) pricesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var price models.VerifiedPrice
	if err := json.NewDecoder(r.Body).Decode(&price); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if price.VehicleModel == "" || price.Amount == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("vehicle_model and amount are required"))
		return
	}

	if err := s.st.AddVerifiedPrice(price); err != nil {
		slog.Error("pricesHandler save failed", "error", err, "vehicleModel", price.VehicleModel)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to save verified price"))
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(price))
}

// twilioWebhookHandler handles POST /v1/webhook/twilio: the inbound message
// form post from Twilio. Replies are sent asynchronously via the pipeline,
// never in the webhook response body.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		slog.Warn("twilioWebhookHandler invoked without a configured delivery channel")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Messaging channel not configured"))
		return
	}

	if err := r.ParseForm(); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid form payload"))
		return
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("From and Body are required"))
		return
	}

	if err := s.pipeline.HandleMessage(r.Context(), from, body); err != nil {
		// The customer gets nothing on a failed turn; the operator sees the log.
		slog.Error("twilioWebhookHandler turn failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
