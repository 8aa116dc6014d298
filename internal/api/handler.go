// Package api provides HTTP handlers for the planner REST API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ashureev/study-planner/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	loc  *time.Location
	now  func() time.Time
}

// NewHandler creates a new Handler with common dependencies. A nil location
// uses time.Local.
func NewHandler(repo store.Repository, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		repo: repo,
		loc:  loc,
		now:  time.Now,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
