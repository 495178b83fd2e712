package lobby

import (
	"encoding/json"
	"errors"
	"net/http"

	"go-traderoom/internal/account"
	myMiddleware "go-traderoom/internal/middleware"
	"go-traderoom/internal/room"
	"go-traderoom/internal/store"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Service *Service
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

// Routes mounts the lobby endpoints. Callers wrap them in the auth middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/merchants/{merchantID}/requests", h.Request)
	r.Get("/queue", h.Queue)
	r.Post("/queue/{senderID}/accept", h.Accept)
	r.Post("/queue/{senderID}/reject", h.Reject)
	r.Post("/queue/{senderID}/room", h.OpenRoom)
	r.Get("/transactions/{transactionID}", h.Transaction)
	r.Post("/transactions/{transactionID}/ratings", h.Rate)
	r.Get("/accounts/{accountID}/ratings", h.Ratings)
}

type RatingRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment"`
}

type RoomResponse struct {
	RoomID string `json:"room_id"`
}

func (h *Handler) Request(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := myMiddleware.UserFrom(r.Context())

	entry, err := h.Service.Request(r.Context(), chi.URLParam(r, "merchantID"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := myMiddleware.UserFrom(r.Context())
	writeJSON(w, http.StatusOK, h.Service.Queue(userID))
}

func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := myMiddleware.UserFrom(r.Context())

	entry, err := h.Service.Accept(userID, chi.URLParam(r, "senderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := myMiddleware.UserFrom(r.Context())

	if err := h.Service.Reject(userID, chi.URLParam(r, "senderID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) OpenRoom(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := myMiddleware.UserFrom(r.Context())

	tx, err := h.Service.OpenRoom(r.Context(), userID, chi.URLParam(r, "senderID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RoomResponse{RoomID: tx.ID})
}

func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := myMiddleware.UserFrom(r.Context())

	tx, err := h.Service.Transaction(r.Context(), chi.URLParam(r, "transactionID"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	userID, _, _ := myMiddleware.UserFrom(r.Context())

	var req RatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rating, err := h.Service.Rate(r.Context(), chi.URLParam(r, "transactionID"), userID, req.Score, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rating)
}

func (h *Handler) Ratings(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.Service.Ratings(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var verr *room.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, room.ErrSameParticipant):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, room.ErrNotQueued), errors.Is(err, store.ErrNotFound), errors.Is(err, account.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, room.ErrNotFinished), errors.Is(err, store.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
