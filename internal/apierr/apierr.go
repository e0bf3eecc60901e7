// Package apierr classifies handler errors into a fixed set of kinds
// and translates each to an HTTP status and JSON body, following the
// teacher's small single-purpose error-classification files
// (dberr.go, recover.go) rather than a general-purpose error-wrapping
// library.
package apierr

import "net/http"

// Kind enumerates every outcome spec.md's error handling section names.
type Kind int

const (
	// Internal covers anything uncategorized: 500, message only, never
	// a stack trace in the response body.
	Internal Kind = iota
	// Validation covers malformed path/name/argument input: 400.
	Validation
	// NotAuthorized covers a missing or invalid session: 401.
	NotAuthorized
	// Revoked covers a session pointing at a device with an active
	// revocation notice: 401 with {status:"revoked"}.
	Revoked
	// PolicyDenied covers a feature toggle being off or a hidden-path
	// restriction: 403.
	PolicyDenied
	// NotFound covers a missing target: 404.
	NotFound
	// Conflict covers a name collision on create/rename: 409.
	Conflict
	// ResourceUnavailable covers no readable shared folder configured: 500.
	ResourceUnavailable
	// ClientAborted covers a disconnect mid-transfer: logged and cleaned
	// up, never surfaced as a hard error to the client.
	ClientAborted
)

// Error is an apierr-classified error carrying a short, safe message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// New builds an Error of the given kind with msg as its safe, short
// client-facing message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Body is the JSON shape written for any non-2xx apierr response.
type Body struct {
	Error  string `json:"error"`
	Status string `json:"status,omitempty"`
}

// Translate maps an Error to the HTTP status and response body spec.md
// §7 assigns to its kind.
func Translate(err *Error) (int, Body) {
	switch err.Kind {
	case Validation:
		return http.StatusBadRequest, Body{Error: err.Msg}
	case NotAuthorized:
		return http.StatusUnauthorized, Body{Error: err.Msg}
	case Revoked:
		return http.StatusUnauthorized, Body{Error: err.Msg, Status: "revoked"}
	case PolicyDenied:
		return http.StatusForbidden, Body{Error: err.Msg}
	case NotFound:
		return http.StatusNotFound, Body{Error: err.Msg}
	case Conflict:
		return http.StatusConflict, Body{Error: err.Msg}
	case ResourceUnavailable:
		return http.StatusInternalServerError, Body{Error: err.Msg}
	case ClientAborted:
		return http.StatusNoContent, Body{Error: err.Msg}
	default:
		return http.StatusInternalServerError, Body{Error: err.Msg}
	}
}
