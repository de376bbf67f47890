package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"

	"github.com/sentineld/sentineld/internal/egress"
	"github.com/sentineld/sentineld/internal/logging"
)

var log = logging.New("NATSBRIDGE")

// subjectPrefix namespaces every republished subject, one subject per
// event type beneath it.
const subjectPrefix = "sentineld.events."

// Bridge republishes egress events onto NATS subjects. It implements
// egress.Sink so it can be registered directly on an egress.Broadcaster
// alongside the WebSocket hub and desktop notifier.
type Bridge struct {
	conn *nc.Conn
}

// Connect dials the embedded (or external) NATS broker at url with
// indefinite reconnection, since a transient broker hiccup should never
// take down scanning.
func Connect(url string) (*Bridge, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(_ *nc.Conn, err error) {
			if err != nil {
				log.Printf("disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(c *nc.Conn) {
			log.Printf("reconnected to %s", c.ConnectedUrl())
		}),
	}
	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Bridge{conn: conn}, nil
}

// Close closes the underlying connection without draining it.
func (b *Bridge) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// Publish implements egress.Sink, marshaling ev to JSON and publishing it
// on sentineld.events.<type> (e.g. sentineld.events.ThreatDetected).
func (b *Bridge) Publish(ev egress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("marshal event %s: %v", ev.ID, err)
		return
	}
	subject := subjectPrefix + string(ev.Type)
	if err := b.conn.Publish(subject, data); err != nil {
		log.Printf("publish to %s: %v", subject, err)
	}
}
