package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/pithecene-io/assay/store"
)

// errorBody is the JSON error envelope: {"error": {"code", "message"}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func errorJSON(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// decode unmarshals and validates a JSON request body. A false return
// means the error response was already written.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(into); err != nil {
		errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := s.validate.Struct(into); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", verrs[0].Error())
			return false
		}
		errorJSON(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return false
	}
	return true
}

// notFoundOr writes 404 for store.ErrNotFound and 500 for anything
// else. Returns true when an error response was written.
func (s *Server) notFoundOr(w http.ResponseWriter, err error, what string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(w, http.StatusNotFound, "NOT_FOUND", what+" not found")
		return true
	}
	s.internalError(w, err)
	return true
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.config.Logger.Error("api_internal_error", map[string]any{"error": err.Error()})
	errorJSON(w, http.StatusInternalServerError, "INTERNAL", "internal error")
}
