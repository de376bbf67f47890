// Package notify fires Windows toast notifications for the two egress
// events that need user-facing interruption ("ThreatActionRequired" and
// "ThreatDetected" with auto_quarantined=false): a high-confidence
// auto-quarantine never needs the user's attention, but an ask-user
// prompt or a detection the engine chose not to act on does.
package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"

	"github.com/sentineld/sentineld/internal/egress"
)

// Notifier fires Windows toast notifications. It implements egress.Sink
// so it can be registered on the same egress.Broadcaster as the
// WebSocket hub and NATS bridge.
type Notifier struct {
	appID      string
	controlURL string
}

// New creates a Notifier. controlURL is opened when the user clicks the
// toast's action button (the control surface has no dashboard of its
// own, so this points at the local control API's base URL).
func New(controlURL string) *Notifier {
	if controlURL == "" {
		controlURL = "http://127.0.0.1:8765"
	}
	return &Notifier{appID: "sentineld", controlURL: controlURL}
}

// Publish implements egress.Sink, filtering to the two event kinds a
// human should be interrupted for.
func (n *Notifier) Publish(ev egress.Event) {
	switch ev.Type {
	case egress.ThreatActionRequired:
		n.notifyActionRequired(ev)
	case egress.ThreatDetected:
		n.notifyIfNotAutoQuarantined(ev)
	}
}

func (n *Notifier) notifyActionRequired(ev egress.Event) {
	payload, ok := ev.Payload.(egress.ThreatDetectedPayload)
	msg := "A detected file needs your decision."
	if ok {
		msg = fmt.Sprintf("%s scored %d — review in the control surface.", payload.Path, payload.RiskScore)
	}
	n.show("Threat awaiting your decision", msg, toast.IM)
}

func (n *Notifier) notifyIfNotAutoQuarantined(ev egress.Event) {
	payload, ok := ev.Payload.(egress.ThreatDetectedPayload)
	if !ok || payload.AutoQuarantined {
		return
	}
	msg := fmt.Sprintf("%s (%s) was flagged but not quarantined automatically.", payload.Path, payload.Name)
	n.show("Threat detected", msg, toast.Default)
}

func (n *Notifier) show(title, message string, audio toast.Audio) error {
	if runtime.GOOS != "windows" {
		return fmt.Errorf("toast notifications only supported on Windows")
	}
	notification := toast.Notification{
		AppID:   n.appID,
		Title:   title,
		Message: message,
		Audio:   audio,
		Actions: []toast.Action{
			{Type: "protocol", Label: "Open control surface", Arguments: n.controlURL},
		},
	}
	return notification.Push()
}

// IsSupported reports whether toast notifications can actually display on
// this platform.
func (n *Notifier) IsSupported() bool {
	return runtime.GOOS == "windows"
}
