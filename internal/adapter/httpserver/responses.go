// Package httpserver hosts the HTTP surface (§6): route handlers, the
// error envelope, and the ambient middleware the pipeline's global chain
// doesn't itself own (panic recovery, request id, tracing glue).
package httpserver

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/fairyhunter13/runtime-core/internal/config"
	"github.com/fairyhunter13/runtime-core/internal/domain"
)

// errorBody is the error response shape mandated by §7: status is the
// exception's mapped HTTP code if valid, else 500; error_full is only
// populated outside production.
type errorBody struct {
	Error     string `json:"error"`
	ErrorFull string `json:"error_full,omitempty"`
	Code      int    `json:"code"`
	Trace     string `json:"trace,omitempty"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError builds and writes the JSON error body for err. In production
// mode error_full/trace/file/line are omitted so internal detail never
// leaks to the client.
func writeError(w http.ResponseWriter, r *http.Request, cfg config.Config, err error) {
	status := domain.StatusCode(err)
	body := errorBody{
		Error: publicMessage(err),
		Code:  status,
	}
	if !cfg.IsProd() {
		body.ErrorFull = err.Error()
		if _, file, line, ok := runtime.Caller(2); ok {
			body.File = file
			body.Line = line
		}
	}
	writeJSON(w, status, body)
}

// publicMessage returns err's message verbatim for recognized domain
// sentinels, or a generic message for anything else, per §7's rule that
// only application-domain errors pass their message through to the client.
func publicMessage(err error) string {
	if domain.IsDomainError(err) {
		return err.Error()
	}
	return "An internal error occurred"
}

func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
