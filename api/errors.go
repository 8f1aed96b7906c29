package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/store"
)

type Kind int

const (
	InternalServerError Kind = iota
	BadRequest
	ServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "BadRequest"
	case ServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return "InternalServerError"
	}
}

// ApplicationError is what a handler failure turns into at the HTTP boundary.
// Only BadRequest carries a message to the client.
type ApplicationError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *ApplicationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

func (e *ApplicationError) StatusCode() int {
	switch e.Kind {
	case BadRequest:
		return http.StatusBadRequest
	case ServiceUnavailable:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Classify maps a storage or matching failure to one of the three kinds.
func Classify(err error) *ApplicationError {
	var appErr *ApplicationError
	switch {
	case xerrors.As(err, &appErr):
		return appErr
	case xerrors.Is(err, store.ErrInvalidQuery), xerrors.Is(err, store.ErrNotFound):
		return &ApplicationError{Kind: BadRequest, Message: err.Error(), Err: err}
	case xerrors.Is(err, store.ErrUnavailable), xerrors.Is(err, context.DeadlineExceeded):
		return &ApplicationError{Kind: ServiceUnavailable, Err: err}
	default:
		return &ApplicationError{Kind: InternalServerError, Err: err}
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := Classify(err)
	if appErr.Kind != BadRequest {
		log.Printf("%s %s %s: %+v", requestID(r), r.Method, r.URL.Path, err)
		w.WriteHeader(appErr.StatusCode())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(appErr.StatusCode())
	fmt.Fprint(w, appErr.Message)
}
