package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ferrovax/deskrelay/internal/auth"
	"github.com/ferrovax/deskrelay/internal/ticket"
	"github.com/ferrovax/deskrelay/pkg/logger"
)

// SubmitTicket accepts a public help desk ticket submission
func (h *Handler) SubmitTicket(w http.ResponseWriter, r *http.Request) {
	var req ticket.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	record, err := h.ticketService.Submit(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	WriteJSON(w, http.StatusCreated, record)
}

// ListTickets returns tickets for the staff dashboard
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "all"
	}
	sortBy := r.URL.Query().Get("sort")

	records, err := h.ticketService.List(status, sortBy)
	if err != nil {
		h.logger.Error("Failed to list tickets", logger.Error(err))
		http.Error(w, "Failed to list tickets", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tickets": records,
		"count":   len(records),
	})
}

// GetTicket returns one ticket with its live remote session, if any
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	detail, err := h.ticketService.Get(id)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			http.Error(w, "Ticket not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get ticket", logger.Error(err), logger.Int64("ticket_id", id))
		http.Error(w, "Failed to get ticket", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, detail)
}

// UpdateTicket applies a staff-side status change and/or note
func (h *Handler) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	var req ticket.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	record, err := h.ticketService.Update(r.Context(), id, claims.Username, &req)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrNotFound):
			http.Error(w, "Ticket not found", http.StatusNotFound)
		case errors.Is(err, ticket.ErrInvalidStatus):
			http.Error(w, "Invalid ticket status", http.StatusBadRequest)
		default:
			h.logger.Error("Failed to update ticket", logger.Error(err), logger.Int64("ticket_id", id))
			http.Error(w, "Failed to update ticket", http.StatusInternalServerError)
		}
		return
	}

	WriteJSON(w, http.StatusOK, record)
}

// StartRemoteSession creates a remote-control session for a ticket. The
// response is the only copy of the two join tokens.
func (h *Handler) StartRemoteSession(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	created, err := h.ticketService.StartRemote(r.Context(), id, claims.Username)
	if err != nil {
		switch {
		case errors.Is(err, ticket.ErrNotFound):
			http.Error(w, "Ticket not found", http.StatusNotFound)
		case errors.Is(err, ticket.ErrRemoteNotRequested):
			http.Error(w, "Remote access was not requested for this ticket", http.StatusBadRequest)
		default:
			h.logger.Error("Failed to start remote session", logger.Error(err), logger.Int64("ticket_id", id))
			http.Error(w, "Failed to start remote session", http.StatusInternalServerError)
		}
		return
	}

	WriteJSON(w, http.StatusCreated, created)
}

// EndRemoteSession closes the ticket's remote session
func (h *Handler) EndRemoteSession(w http.ResponseWriter, r *http.Request) {
	id, err := ticketIDParam(r)
	if err != nil {
		http.Error(w, "Invalid ticket ID", http.StatusBadRequest)
		return
	}

	if err := h.ticketService.EndRemote(id); err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			http.Error(w, "Ticket not found", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to end remote session", logger.Error(err), logger.Int64("ticket_id", id))
		http.Error(w, "Failed to end remote session", http.StatusInternalServerError)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"status": "success",
	})
}

func ticketIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "ticketID"), 10, 64)
}
