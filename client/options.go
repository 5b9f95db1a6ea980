package client

import (
	"time"

	"go.uber.org/zap"
)

const DefaultEventBuffer = 64

type Options struct {
	// DownloadDir is where files received over private links are saved
	DownloadDir string

	// ListenHost is the host private link listeners bind to, all interfaces
	// when empty
	ListenHost string

	// HandshakeTimeout bounds how long either side of a rendezvous waits for
	// the direct connections. Zero waits until the session ends.
	HandshakeTimeout time.Duration

	// EventBuffer is the capacity of the Events channel
	EventBuffer int

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.DownloadDir == "" {
		o.DownloadDir = "."
	}

	if o.EventBuffer < 1 {
		o.EventBuffer = DefaultEventBuffer
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
