package monitor

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/cartsync/internal/fanout"
	"nuha.dev/cartsync/internal/presence"
)

const (
	DefaultInterval  = 30 * time.Second
	DefaultThreshold = 60 * time.Second
)

// Monitor demotes carts to offline after a silence threshold. It is the
// sole authority for staleness-driven offline transitions; socket
// disconnects are handled separately by the connection registry, both
// funnelled through the same presence mutation.
type Monitor struct {
	pres      *presence.Store
	hub       *fanout.Hub
	interval  time.Duration
	threshold time.Duration
	log       log.Logger
}

func New(pres *presence.Store, hub *fanout.Hub, interval, threshold time.Duration) *Monitor {
	m := &Monitor{pres: pres, hub: hub, interval: interval, threshold: threshold}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	if m.threshold <= 0 {
		m.threshold = DefaultThreshold
	}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "monitor").Value()
	return m
}

// Run ticks until ctx is cancelled. The first check runs immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info().Dur("interval", m.interval).Dur("threshold", m.threshold).Msg("starting cart status monitor")
	m.tick(ctx, time.Now())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("cart status monitor stopped")
			return
		case t := <-ticker.C:
			m.tick(ctx, t)
		}
	}
}

func (m *Monitor) tick(ctx context.Context, now time.Time) {
	demoted := m.pres.Sweep(ctx, now.Add(-m.threshold))
	for _, st := range demoted {
		m.log.Info().Str("cart_id", st.CartID).Time("last_seen", st.LastSeen).Msg("cart marked inactive")
		m.hub.PublishStatus(ctx, fanout.StatusChanged{CartID: st.CartID, Name: st.Name, Online: false, LastSeen: st.LastSeen})
	}
}
