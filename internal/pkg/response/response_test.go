package response

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		DisplayName string `json:"display_name"`
	}
	body := io.NopCloser(strings.NewReader(`{"display_name":"Ada","balance":1000000}`))
	if err := DecodeJSON(body, &dst); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestErrorEnvelope(t *testing.T) {
	w := httptest.NewRecorder()
	ServiceUnavailable(w, "STORAGE_FAILURE", "try again")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	var resp Response
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Success || resp.Error == nil || resp.Error.Code != "STORAGE_FAILURE" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}
