// Package handler holds handler chains, their registry and the executor that runs them.
package handler

// ErrorKind classifies a DetailedError.
type ErrorKind string

const (
	KindBadRequest   ErrorKind = "BAD_REQUEST"
	KindUnauthorized ErrorKind = "UNAUTHORIZED"
	KindForbidden    ErrorKind = "FORBIDDEN"
	KindNotFound     ErrorKind = "NOT_FOUND"
	KindConflict     ErrorKind = "CONFLICT"
	KindUnknown      ErrorKind = "UNKNOWN"
)

// UnhandledCode is the code carried by errors the engine synthesizes itself.
const UnhandledCode = -1

// DetailedError is the error body of a failed ResultEnvelope.
type DetailedError struct {
	Code    int
	Message string
	Kind    ErrorKind
}

// NewDetailedError builds a DetailedError.
func NewDetailedError(code int, message string, kind ErrorKind) DetailedError {
	return DetailedError{Code: code, Message: message, Kind: kind}
}

// ResultEnvelope is the outcome a handler produces. The zero value is not valid;
// use Success or Failure.
type ResultEnvelope struct {
	success bool
	payload any
	err     *DetailedError
}

// Success wraps a payload in a successful envelope.
func Success(payload any) ResultEnvelope {
	return ResultEnvelope{success: true, payload: payload}
}

// Failure wraps an error body in a failed envelope.
func Failure(de DetailedError) ResultEnvelope {
	return ResultEnvelope{err: &de}
}

// IsSuccess reports whether the envelope carries a success body.
func (r ResultEnvelope) IsSuccess() bool {
	return r.success
}

// Payload returns the success body, nil for failures.
func (r ResultEnvelope) Payload() any {
	return r.payload
}

// ErrorBody returns the error body. ok is false for successes.
func (r ResultEnvelope) ErrorBody() (DetailedError, bool) {
	if r.err == nil {
		return DetailedError{}, false
	}
	return *r.err, true
}

// WireEnvelope is the JSON shape a ResultEnvelope is published in. Error fields
// are flattened next to the success flag.
type WireEnvelope struct {
	Success bool      `json:"success"`
	Payload any       `json:"payload,omitempty"`
	Code    *int      `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Kind    ErrorKind `json:"kind,omitempty"`
}

// Wire returns the serializable form of the envelope.
func (r ResultEnvelope) Wire() WireEnvelope {
	w := WireEnvelope{Success: r.success, Payload: r.payload}
	if r.err != nil {
		code := r.err.Code
		w.Code = &code
		w.Message = r.err.Message
		w.Kind = r.err.Kind
	}
	return w
}
