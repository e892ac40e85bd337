// Package httpresp provides a small standardized JSON response envelope for
// the daemon's plain net/http handlers: a status/kind/message/data shape,
// independent of any routing framework (HTTP routing is out of scope; this
// is just response encoding).
package httpresp

import (
	"encoding/json"
	"net/http"

	"github.com/dirtybirdnj/gellyroller/internal/ecode"
)

// Exception is the response envelope for both success and failure.
type Exception struct {
	Status  int    `json:"status"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Success writes a 200 response carrying data.
func Success(w http.ResponseWriter, data any) {
	write(w, http.StatusOK, &Exception{Status: http.StatusOK, Data: data})
}

// Created writes a 201 response carrying data.
func Created(w http.ResponseWriter, data any) {
	write(w, http.StatusCreated, &Exception{Status: http.StatusCreated, Data: data})
}

// Fail writes a structured error response. ecode.Error kinds map to HTTP
// status codes; any other error falls back to 500.
func Fail(w http.ResponseWriter, err error) {
	e, ok := err.(*ecode.Error)
	if !ok {
		write(w, http.StatusInternalServerError, &Exception{Status: http.StatusInternalServerError, Message: err.Error()})
		return
	}
	status := statusForKind(e.Kind)
	write(w, status, &Exception{Status: status, Kind: string(e.Kind), Message: e.Error()})
}

// BadRequest writes a 400 response with a plain message, for request
// validation failures that never reach a component's own error kinds.
func BadRequest(w http.ResponseWriter, message string) {
	write(w, http.StatusBadRequest, &Exception{Status: http.StatusBadRequest, Message: message})
}

func statusForKind(kind ecode.Kind) int {
	switch kind {
	case ecode.KindNotReady:
		return http.StatusServiceUnavailable
	case ecode.KindTimeout:
		return http.StatusGatewayTimeout
	case ecode.KindControllerError, ecode.KindProtocolError:
		return http.StatusBadGateway
	case ecode.KindInvalidState:
		return http.StatusConflict
	case ecode.KindNotFound:
		return http.StatusNotFound
	case ecode.KindCancelled:
		return http.StatusConflict
	case ecode.KindParseError:
		return http.StatusBadRequest
	case ecode.KindIOError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func write(w http.ResponseWriter, status int, body *Exception) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
