package main

import (
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, 201, map[string]string{"hello": "world"})

	if w.Code != 201 {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	if got := w.Body.String(); got != "{\"hello\":\"world\"}\n" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, 404, "not_found")

	if w.Code != 404 {
		t.Errorf("expected status 404, got %d", w.Code)
	}
	if got := w.Body.String(); got != "{\"error\":\"not_found\"}\n" {
		t.Errorf("unexpected body: %q", got)
	}
}

func TestDecodeStringList(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		want []string
	}{
		{"valid array", []byte(`["a","b"]`), []string{"a", "b"}},
		{"duplicates collapse", []byte(`["a","b","a","a"]`), []string{"a", "b"}},
		{"empty array", []byte(`[]`), []string{}},
		{"null column", nil, nil},
		{"malformed json", []byte(`{"oops"`), nil},
		{"wrong type", []byte(`"just a string"`), nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := decodeStringList(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("decodeStringList(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestEncodeStringList(t *testing.T) {
	if got := string(encodeStringList(nil)); got != "[]" {
		t.Errorf("nil slice should encode as [], got %q", got)
	}
	if got := string(encodeStringList([]string{"a", "b"})); got != `["a","b"]` {
		t.Errorf("unexpected encoding: %q", got)
	}
}
