package dispatcher

import (
	"errors"

	"github.com/morezero/subject-router/pkg/handler"
)

var (
	errBodyRequired = errors.New("request body required")
	errNoResult     = errors.New("handler completed without a result")
)

// decodeFailureResult maps a payload that could not become a request object.
func decodeFailureResult(err error) handler.ResultEnvelope {
	return handler.Failure(handler.NewDetailedError(handler.UnhandledCode, err.Error(), handler.KindBadRequest))
}

// faultResult surfaces a structured fault's own result; anything else is UNKNOWN.
func faultResult(f *handler.Fault) handler.ResultEnvelope {
	if res, ok := f.Result(); ok {
		return res
	}
	return handler.Failure(handler.NewDetailedError(handler.UnhandledCode, "unhandled error: "+f.Error(), handler.KindUnknown))
}
