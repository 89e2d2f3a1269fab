// Package api exposes the HTTP surface: the service-marketplace broker
// endpoints and the topic management REST endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

// userIDHeader identifies the operator for audit trails. Empty is
// allowed; mutations are then recorded without an actor.
const userIDHeader = "X-User-ID"

const requestIDHeader = "X-Request-ID"

type contextKey string

const requestIDKey contextKey = "request_id"

// errorBody is the wire shape of every failed response.
type errorBody struct {
	Success    bool                   `json:"success"`
	ErrorCode  string                 `json:"error_code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	HTTPStatus int                    `json:"http_status"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps a typed error onto its canonical status and body.
// Sensitive detail values are masked before they reach the wire.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := errors.HTTPStatus(code)
	body := errorBody{
		ErrorCode:  string(code),
		Message:    err.Error(),
		Timestamp:  time.Now().UTC(),
		HTTPStatus: status,
	}
	if typed, ok := errors.As(err); ok {
		body.Message = typed.Message
		body.Details = errors.Mask(typed.Details)
	}
	writeJSON(w, status, body)
}

func writeErrorStatus(w http.ResponseWriter, status int, code errors.Code, message string) {
	writeJSON(w, status, errorBody{
		ErrorCode:  string(code),
		Message:    message,
		Timestamp:  time.Now().UTC(),
		HTTPStatus: status,
	})
}

// brokerErrorBody is the marketplace protocol's error envelope. The
// protocol mandates this shape; the richer errorBody is for the topic
// API only.
type brokerErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"description,omitempty"`
}

// brokerErrorName condenses a status line into the protocol's error
// identifier: "Conflict", "BadRequest", "Gone".
func brokerErrorName(status int) string {
	return strings.ReplaceAll(http.StatusText(status), " ", "")
}

func brokerError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(errors.CodeOf(err))
	description := err.Error()
	if typed, ok := errors.As(err); ok {
		description = typed.Message
	}
	writeJSON(w, status, brokerErrorBody{
		Error:       brokerErrorName(status),
		Description: description,
	})
}

func brokerErrorStatus(w http.ResponseWriter, status int, description string) {
	writeJSON(w, status, brokerErrorBody{
		Error:       brokerErrorName(status),
		Description: description,
	})
}

func userID(r *http.Request) string {
	return r.Header.Get(userIDHeader)
}

// requestIDMiddleware assigns each request an id, echoed in the
// response header and carried in the request context for logging.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger decorates the process logger with request metadata.
func requestLogger(logger *logrus.Logger, r *http.Request) *logrus.Entry {
	entry := logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		entry = entry.WithField("request_id", id)
	}
	return entry
}
