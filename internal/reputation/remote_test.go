package reputation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookupFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(LookupResult{
			EnginesTotal:     70,
			EnginesMalicious: 5,
		})
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, "")
	res, err := c.Lookup("deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Found || res.EnginesMalicious != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLookupNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, "")
	res, err := c.Lookup("deadbeef")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Found {
		t.Fatal("expected not found")
	}
}

func TestUploadRejectsOversize(t *testing.T) {
	c := NewRemoteClient("http://example.invalid", "")
	big := make([]byte, (maxUploadMB+1)*1024*1024)
	_, err := c.Upload("big.bin", big)
	if err == nil {
		t.Fatal("expected error for oversized upload")
	}
}
