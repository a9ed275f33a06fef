package errors

import "net/http"

// Code classifies an error for callers and for the HTTP layer.
type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
	CodeConfiguration Code = "CONFIGURATION_ERROR"
)

type class struct {
	status    int
	public    string
	retryable bool
	// caller-facing codes echo the error's own message and details
	echoMessage bool
	echoDetails bool
}

var classes = map[Code]class{
	CodeValidation:    {status: http.StatusBadRequest, public: "validation failed", echoMessage: true, echoDetails: true},
	CodeNotFound:      {status: http.StatusNotFound, public: "resource not found", echoMessage: true},
	CodeConflict:      {status: http.StatusConflict, public: "conflict detected", echoMessage: true},
	CodeStateConflict: {status: http.StatusUnprocessableEntity, public: "state transition disallowed", echoMessage: true, echoDetails: true},
	CodeIdempotency:   {status: http.StatusConflict, public: "idempotency key reused", echoMessage: true, echoDetails: true},
	CodeInternal:      {status: http.StatusInternalServerError, public: "internal server error", retryable: true},
	CodeDependency:    {status: http.StatusServiceUnavailable, public: "dependency unavailable", retryable: true, echoDetails: true},
	CodeConfiguration: {status: http.StatusInternalServerError, public: "entitlement configuration incomplete"},
}

func (c Code) class() class {
	if cl, ok := classes[c]; ok {
		return cl
	}
	return classes[CodeInternal]
}

// HTTPStatus is the response status for c. Unknown codes map to 500.
func (c Code) HTTPStatus() int { return c.class().status }

// Retryable reports whether the same request may succeed later.
func (c Code) Retryable() bool { return c.class().retryable }

// PublicMessage returns what a client is told about an error with code c
// whose internal message is msg.
func (c Code) PublicMessage(msg string) string {
	cl := c.class()
	if cl.echoMessage && msg != "" {
		return msg
	}
	return cl.public
}

// ExposesDetails reports whether details may be sent to clients.
func (c Code) ExposesDetails() bool { return c.class().echoDetails }
