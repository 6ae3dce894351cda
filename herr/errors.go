package herr

import (
	"encoding/json"
	"fittrack/apperr"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
)

type Error struct {
	Error       error
	HTTPMessage string
	Desc        string
	Code        int
}

type Wrap func(w http.ResponseWriter, r *http.Request) *Error

func (fn Wrap) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if e := fn(w, r); e != nil {
		slog.Error("Error in handler:", "desc", e.Desc, "httpMessage", e.HTTPMessage, "code", e.Code, "err", e.Error)
		Write(w, e.Code, e.HTTPMessage)
	}
}

// Write sends the JSON error body the web client reads its message from.
func Write(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(struct {
		StatusCode int    `json:"statusCode"`
		Message    string `json:"message"`
	}{StatusCode: code, Message: message})
}

func Internal(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Internal server error",
		Desc:        desc,
		Code:        http.StatusInternalServerError,
		Error:       err,
	}
}

func BadRequest(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Bad request",
		Desc:        desc,
		Code:        http.StatusBadRequest,
		Error:       err,
	}
}

func Unauthorized(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Unauthorized",
		Desc:        desc,
		Code:        http.StatusUnauthorized,
		Error:       err,
	}
}

func Forbidden(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Forbidden",
		Desc:        desc,
		Code:        http.StatusForbidden,
		Error:       err,
	}
}

func NotFound(err error, desc string) *Error {
	return &Error{
		HTTPMessage: "Not found",
		Desc:        desc,
		Code:        http.StatusNotFound,
		Error:       err,
	}
}

// From maps an apperr kind to its status. Messages of internal errors never reach the client.
func From(err error, desc string) *Error {
	var e *Error
	switch apperr.KindOf(err) {
	case apperr.Validation:
		e = BadRequest(err, desc)
	case apperr.Authentication:
		e = Unauthorized(err, desc)
	case apperr.NotFound:
		e = NotFound(err, desc)
	case apperr.Network:
		e = &Error{
			HTTPMessage: "Service unavailable, please try again later",
			Desc:        desc,
			Code:        http.StatusBadGateway,
			Error:       err,
		}
		return e
	default:
		return Internal(err, desc)
	}
	e.HTTPMessage = apperr.Message(err, e.HTTPMessage)
	return e
}

func WSClose(conn *websocket.Conn, desc string) {
	slog.Info("WebSocket closing", "desc", desc)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, desc))
}
