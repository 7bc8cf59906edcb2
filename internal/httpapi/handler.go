package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log"
	"net/http"
	"strconv"
	"strings"

	"qms/queueflow-service/internal/board"
	"qms/queueflow-service/internal/dispatch"
	"qms/queueflow-service/internal/insights"
	"qms/queueflow-service/internal/models"
	"qms/queueflow-service/internal/settings"
	"qms/queueflow-service/internal/store"

	"github.com/google/uuid"
)

// Engine is the part of dispatch.Engine the HTTP surface drives.
type Engine interface {
	Issue(ctx context.Context, category models.Category) (models.Ticket, error)
	CallNextIdle(ctx context.Context, counterID int) (models.Ticket, error)
	Recall(ctx context.Context, counterID int) (models.Ticket, error)
	Complete(ctx context.Context, counterID int) (models.Ticket, error)
	Cancel(ctx context.Context, ticketID string) (models.Ticket, error)
	AddCounter(ctx context.Context) models.Counter
	RemoveCounter(ctx context.Context, counterID int) error
	ToggleCategory(ctx context.Context, counterID int, category models.Category) (models.Counter, error)
	RestoreCounters(configs []models.CounterConfig)
	Snapshot() dispatch.Snapshot
	Ticket(ticketID string) (models.Ticket, bool)
	TicketEvents(ticketID string) ([]store.TicketEvent, bool)
	Counters() []models.Counter
}

type InsightSource interface {
	Latest() (insights.Insight, bool)
}

type Handler struct {
	engine    Engine
	persister settings.Persister
	insights  InsightSource
	display   http.Handler
}

type Options struct {
	Persister settings.Persister
	Insights  InsightSource
	// Display serves the realtime stream under /display/.
	Display http.Handler
}

type createTicketRequest struct {
	Category string `json:"category"`
}

type ticketEventsResponse struct {
	TicketID string              `json:"ticket_id"`
	Verified bool                `json:"verified"`
	Replayed *models.Ticket      `json:"replayed,omitempty"`
	Events   []store.TicketEvent `json:"events"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(engine Engine, options Options) *Handler {
	return &Handler{
		engine:    engine,
		persister: options.Persister,
		insights:  options.Insights,
		display:   options.Display,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/", h.handleTicketRoutes)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/counters/reload", h.handleReloadCounters)
	mux.HandleFunc("/api/counters/", h.handleCounterRoutes)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/display", h.handleDisplay)
	mux.HandleFunc("/api/insights", h.handleInsights)
	if h.display != nil {
		mux.Handle("/display/", h.display)
	}
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleIssueTicket(w, r)
	case http.MethodGet:
		h.handleListTickets(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(w, r)
	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	category, ok := models.ParseCategory(req.Category)
	if !ok {
		writeError(w, requestID, http.StatusBadRequest, "invalid_category", "category must be one of general, priority, business")
		return
	}

	ticket, err := h.engine.Issue(r.Context(), category)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(w, r)
	rawStatus := strings.TrimSpace(r.URL.Query().Get("status"))
	var status models.Status
	if rawStatus != "" {
		status = models.Status(strings.ToLower(rawStatus))
		if !validStatus(status) {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "status must be one of waiting, serving, completed, cancelled")
			return
		}
	}

	tickets := []models.Ticket{}
	for _, t := range h.engine.Snapshot().Tickets {
		if status != "" && t.Status != status {
			continue
		}
		tickets = append(tickets, t)
	}
	writeJSON(w, http.StatusOK, tickets)
}

func validStatus(status models.Status) bool {
	switch status {
	case models.StatusWaiting, models.StatusServing, models.StatusCompleted, models.StatusCancelled:
		return true
	}
	return false
}

// handleTicketRoutes serves /api/tickets/{id}, /api/tickets/{id}/events and
// /api/tickets/{id}/actions/cancel.
func (h *Handler) handleTicketRoutes(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(w, r)
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	ticketID := parts[0]
	if ticketID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if _, err := uuid.Parse(ticketID); err != nil {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, ok := h.engine.Ticket(ticketID)
		if !ok {
			status, code, msg := mapError(store.ErrTicketNotFound)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		events, ok := h.engine.TicketEvents(ticketID)
		if !ok {
			status, code, msg := mapError(store.ErrTicketNotFound)
			writeError(w, requestID, status, code, msg)
			return
		}
		resp := ticketEventsResponse{
			TicketID: ticketID,
			Verified: store.VerifyTicketEvents(events),
			Events:   events,
		}
		if replayed, err := store.RehydrateTicket(events); err != nil {
			log.Printf("ticket replay error ticket=%s request_id=%s: %v", ticketID, requestID, err)
		} else {
			resp.Replayed = &replayed
		}
		writeJSON(w, http.StatusOK, resp)
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "cancel":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ticket, err := h.engine.Cancel(r.Context(), ticketID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.engine.Counters())
	case http.MethodPost:
		requestIDFrom(w, r)
		writeJSON(w, http.StatusOK, h.engine.AddCounter(r.Context()))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleReloadCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestIDFrom(w, r)
	h.engine.RestoreCounters(settings.LoadCounters(r.Context(), h.persister))
	writeJSON(w, http.StatusOK, h.engine.Counters())
}

// handleCounterRoutes serves DELETE /api/counters/{id},
// /api/counters/{id}/categories/{category}/toggle and
// /api/counters/{id}/actions/{call-next|recall|complete}.
func (h *Handler) handleCounterRoutes(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(w, r)
	path := strings.TrimPrefix(r.URL.Path, "/api/counters/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	counterID, err := strconv.Atoi(parts[0])
	if err != nil || counterID <= 0 {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "counter_id must be a positive integer")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGetCounter(w, requestID, counterID)
		case http.MethodDelete:
			if err := h.engine.RemoveCounter(r.Context(), counterID); err != nil {
				status, code, msg := mapError(err)
				writeError(w, requestID, status, code, msg)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 4 && parts[1] == "categories" && parts[3] == "toggle":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		category, ok := models.ParseCategory(parts[2])
		if !ok {
			writeError(w, requestID, http.StatusBadRequest, "invalid_category", "category must be one of general, priority, business")
			return
		}
		counter, err := h.engine.ToggleCategory(r.Context(), counterID, category)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, counter)
	case len(parts) == 3 && parts[1] == "actions":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleCounterAction(w, r, requestID, counterID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetCounter(w http.ResponseWriter, requestID string, counterID int) {
	for _, c := range h.engine.Counters() {
		if c.CounterID == counterID {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	status, code, msg := mapError(store.ErrCounterNotFound)
	writeError(w, requestID, status, code, msg)
}

func (h *Handler) handleCounterAction(w http.ResponseWriter, r *http.Request, requestID string, counterID int, action string) {
	var (
		ticket models.Ticket
		err    error
	)
	switch action {
	case "call-next":
		ticket, err = h.engine.CallNextIdle(r.Context(), counterID)
	case "recall":
		ticket, err = h.engine.Recall(r.Context(), counterID)
	case "complete":
		ticket, err = h.engine.Complete(r.Context(), counterID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, board.BuildQueue(snap.Tickets, snap.At))
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, board.Display(snap.Tickets, snap.Counters, h.latestInsight()))
}

func (h *Handler) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	insight := h.latestInsight()
	if insight == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, insight)
}

func (h *Handler) latestInsight() *insights.Insight {
	if h.insights == nil {
		return nil
	}
	insight, ok := h.insights.Latest()
	if !ok {
		return nil
	}
	return &insight
}

// requestIDFrom returns the caller's X-Request-ID, or a fresh one, and
// echoes it on the response.
func requestIDFrom(w http.ResponseWriter, r *http.Request) string {
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)
	return requestID
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter_not_found", "counter not found"
	case errors.Is(err, store.ErrInvalidCategory):
		return http.StatusBadRequest, "invalid_category", "category must be one of general, priority, business"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrCounterBusy):
		return http.StatusConflict, "counter_busy", "counter is already serving a ticket"
	case errors.Is(err, store.ErrCounterIdle):
		return http.StatusConflict, "counter_idle", "counter has no current ticket"
	case errors.Is(err, store.ErrNoEligibleTicket):
		return http.StatusNotFound, "no_eligible_ticket", "no waiting ticket matches this counter"
	case errors.Is(err, store.ErrLastCounter):
		return http.StatusConflict, "last_counter", "at least one counter is required"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
