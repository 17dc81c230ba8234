package handler

import (
	"errors"
	"fmt"
)

// Fault is how a chain terminates abnormally. A fault is either unstructured
// (an arbitrary error, surfaced to the requester as UNKNOWN) or carries a
// pre-built result that is surfaced as-is.
type Fault struct {
	err    error
	result *ResultEnvelope
}

// Reject returns an error a step or response operation can return to end the
// chain with a structured business error instead of an opaque fault.
func Reject(de DetailedError) error {
	res := Failure(de)
	return &Fault{err: fmt.Errorf("%s: %s", de.Kind, de.Message), result: &res}
}

// RejectWith ends the chain with an arbitrary pre-built envelope.
func RejectWith(result ResultEnvelope) error {
	return &Fault{err: errors.New("rejected with pre-built result"), result: &result}
}

// AsFault normalizes err into a Fault. Errors that already wrap a Fault keep
// their pre-built result; anything else becomes unstructured.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{err: err}
}

func (f *Fault) Error() string {
	if f.err == nil {
		return "handler fault"
	}
	return f.err.Error()
}

func (f *Fault) Unwrap() error {
	return f.err
}

// Result returns the pre-built envelope. ok is false for unstructured faults.
func (f *Fault) Result() (ResultEnvelope, bool) {
	if f.result == nil {
		return ResultEnvelope{}, false
	}
	return *f.result, true
}

// Structured reports whether the fault carries a pre-built result.
func (f *Fault) Structured() bool {
	return f.result != nil
}
