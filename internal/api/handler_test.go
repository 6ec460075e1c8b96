//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/sealbox/internal/coordinator"
	"github.com/ashureev/sealbox/internal/engine"
	"github.com/ashureev/sealbox/internal/executor"
	"github.com/ashureev/sealbox/internal/store"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want int
	}{
		{coordinator.ErrNoSession, http.StatusUnauthorized},
		{coordinator.ErrBusy, http.StatusConflict},
		{coordinator.ErrSessionExists, http.StatusConflict},
		{fmt.Errorf("lookup: %w", store.ErrNotFound), http.StatusNotFound},
		{&engine.LocalError{Kind: engine.LocalFilesystem, Err: store.ErrNotFound}, http.StatusNotFound},
		{executor.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{&engine.NetworkError{Kind: engine.NetworkUnauthorized}, http.StatusUnauthorized},
		{&engine.NetworkError{Kind: engine.NetworkForbidden}, http.StatusForbidden},
		{&engine.NetworkError{Kind: engine.NetworkConnection}, http.StatusBadGateway},
		{&engine.LocalError{Kind: engine.LocalFileTooBig}, http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestDescribeHidesInternalErrors(t *testing.T) {
	t.Parallel()
	if got := describe(errors.New("disk exploded"), http.StatusInternalServerError); got == "disk exploded" {
		t.Error("internal error text leaked to the client")
	}
	if got := describe(coordinator.ErrNoSession, http.StatusUnauthorized); got != coordinator.ErrNoSession.Error() {
		t.Errorf("describe(ErrNoSession) = %q", got)
	}
}
