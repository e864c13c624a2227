package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	svcerrors "github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/errors"
	"github.com/josejordan20222-create/Wallet-Human-ID-POLYMARKET-sub002/internal/logging"
)

// =============================================================================
// Responses
// =============================================================================

func TestWriteErrorServiceError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.WithTraceID(req.Context(), "trace-1"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, svcerrors.RelayerUnderfunded("1", "2"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "Relayer out of funds" {
		t.Fatalf("unexpected message %q", body.Error)
	}
	if body.Code != "RELAYER_UNDERFUNDED" || body.TraceID != "trace-1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestWriteErrorHidesPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("internal error leaked: %s", rec.Body.String())
	}
}

// =============================================================================
// Requests
// =============================================================================

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	cases := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"x"}`, false},
		{"empty", ``, true},
		{"unknown field", `{"name":"x","extra":1}`, true},
		{"trailing", `{"name":"x"}{"name":"y"}`, true},
		{"malformed", `{"name":`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var p payload
			err := DecodeJSON(req, &p)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && svcerrors.HTTPStatus(err) != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", svcerrors.HTTPStatus(err))
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := BearerToken(req); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
	req.Header.Set("Authorization", "Bearer abc123")
	if got := BearerToken(req); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
	req.Header.Set("Authorization", "Basic abc123")
	if got := BearerToken(req); got != "" {
		t.Fatalf("expected empty token for basic auth, got %q", got)
	}
}

func TestReadAllWithLimit(t *testing.T) {
	data, truncated, err := ReadAllWithLimit(strings.NewReader("hello world"), 5)
	if err != nil || !truncated || string(data) != "hello" {
		t.Fatalf("got %q truncated=%v err=%v", data, truncated, err)
	}
	if _, err := ReadAllStrict(strings.NewReader("hello world"), 5); err == nil {
		t.Fatalf("expected strict read to fail")
	}
	data, err = ReadAllStrict(strings.NewReader("hi"), 5)
	if err != nil || string(data) != "hi" {
		t.Fatalf("got %q err=%v", data, err)
	}
}
