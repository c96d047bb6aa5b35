package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClasses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		class  error
		status int
	}{
		{"not found", NotFound("corpus %s", "a/b/c"), ErrNotFound, http.StatusNotFound},
		{"invalid", InvalidInput("query is required"), ErrInvalidInput, http.StatusBadRequest},
		{"upstream", Upstream(errors.New("dial tcp"), "oracle"), ErrUpstream, http.StatusBadGateway},
		{"parse", Parse("not json"), ErrParse, http.StatusUnprocessableEntity},
		{"wrapped", fmt.Errorf("ingest: %w", InvalidInput("empty")), ErrInvalidInput, http.StatusBadRequest},
		{"other", errors.New("boom"), nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.class != nil && !errors.Is(tt.err, tt.class) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.class)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestUpstream_keepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Upstream(cause, "embed query")
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable with errors.Is")
	}
	if Upstream(nil, "x") == nil {
		t.Error("nil cause still yields an error")
	}
}
