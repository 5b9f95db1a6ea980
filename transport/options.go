package transport

import (
	"go.uber.org/zap"

	"github.com/luma/chatter/internal/metrics"
)

const (
	DefaultMaxSessions = 1024
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free one (see Server.Addr)
	Port int

	// Reuseport controls setting SO_REUSEPORT on the listener
	Reuseport bool

	// MaxSessions caps concurrent connections. Connections past the cap are
	// closed as soon as they are accepted.
	MaxSessions int

	// QueueLimit bounds each session's outgoing queue, in bytes
	QueueLimit int

	Metrics *metrics.Metrics

	Log *zap.Logger
}
