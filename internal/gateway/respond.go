// ABOUTME: JSON request decoding, validation and error-to-status mapping for the HTTP API
// ABOUTME: Service errors are mapped by sentinel; unexpected ones are logged and returned as 500

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/2389/realty-inbox/internal/attachments"
	"github.com/2389/realty-inbox/internal/conversation"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

var errBadRequest = errors.New("bad request")

// errorResponse is the body of every non-2xx reply.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// decodeJSON reads a size-limited JSON body into v and validates it.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", errBadRequest)
	}
	return g.validateStruct(v)
}

func (g *Gateway) validateStruct(v any) error {
	err := g.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("%w: %s", errBadRequest, strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// writeError maps err to a status code and writes it.
func (g *Gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *conversation.PermissionError
	switch {
	case errors.As(err, &perr):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Reason: string(perr.Reason)})
	case errors.Is(err, errBadRequest), errors.Is(err, conversation.ErrValidation):
		sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrPermission):
		sendJSONError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, conversation.ErrNotFound):
		sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, conversation.ErrInvalidTransition):
		sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, attachments.ErrTooLarge):
		sendJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, attachments.ErrUpload):
		g.logger.Error("attachment upload failed", "path", r.URL.Path, "error", err)
		sendJSONError(w, http.StatusBadGateway, "attachment upload failed")
	case errors.Is(err, context.Canceled):
		g.logger.Debug("request canceled", "path", r.URL.Path)
		sendJSONError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		g.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
