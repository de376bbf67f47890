package notify

import (
	"runtime"
	"testing"

	"github.com/sentineld/sentineld/internal/egress"
)

func TestNewDefaultsControlURL(t *testing.T) {
	n := New("")
	if n.controlURL == "" {
		t.Fatal("expected a non-empty default controlURL")
	}
	if n.appID != "sentineld" {
		t.Fatalf("expected appID sentineld, got %q", n.appID)
	}
}

func TestIsSupportedMatchesGOOS(t *testing.T) {
	n := New("")
	if got := n.IsSupported(); got != (runtime.GOOS == "windows") {
		t.Fatalf("IsSupported() = %v, want %v", got, runtime.GOOS == "windows")
	}
}

func TestShowReturnsErrorOffWindows(t *testing.T) {
	n := New("")
	err := n.show("title", "message", 0)
	if runtime.GOOS != "windows" && err == nil {
		t.Fatal("expected an error showing a toast on a non-Windows platform")
	}
}

func TestPublishIgnoresUnrelatedEventTypes(t *testing.T) {
	n := New("")
	// ScanProgress isn't one of the two interrupting event kinds; Publish
	// must not attempt to show a toast (and therefore never panics here
	// regardless of platform).
	n.Publish(egress.New(egress.ScanProgress, egress.ScanProgressPayload{JobID: "job-1"}))
}

func TestPublishSkipsAutoQuarantinedThreatDetected(t *testing.T) {
	n := New("")
	n.Publish(egress.New(egress.ThreatDetected, egress.ThreatDetectedPayload{
		Path: "C:\\evil.exe", AutoQuarantined: true,
	}))
}

func TestPublishHandlesThreatActionRequired(t *testing.T) {
	n := New("")
	n.Publish(egress.New(egress.ThreatActionRequired, egress.ThreatDetectedPayload{
		Path: "C:\\suspect.exe", RiskScore: 55,
	}))
}
