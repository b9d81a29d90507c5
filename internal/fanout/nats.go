package fanout

import (
	"context"

	"github.com/mustafaturan/bus/v3"
	"github.com/nats-io/nats.go"
	"github.com/phuslu/log"
)

const (
	SubjectStatus   = "cartsync.status"
	SubjectLocation = "cartsync.location"
)

// AttachNATS mirrors every fanout event onto NATS subjects so other
// processes can consume presence changes. Best-effort like any other
// subscriber: publish failures are logged and dropped.
func AttachNATS(h *Hub, nc *nats.Conn) {
	l := log.DefaultLogger
	l.Context = log.NewContext(nil).Str("module", "nats-bridge").Value()
	h.RegisterHandler("nats-bridge", func(_ context.Context, e bus.Event) {
		data, err := Marshal(e)
		if err != nil {
			l.Error().Err(err).Str("topic", e.Topic).Msg("event marshal failed")
			return
		}
		subject := SubjectLocation
		if e.Topic == TopicStatus {
			subject = SubjectStatus
		}
		err = nc.Publish(subject, data)
		if err != nil {
			l.Error().Err(err).Str("subject", subject).Msg("nats publish failed")
		}
	})
}
