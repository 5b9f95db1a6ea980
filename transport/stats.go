package transport

import (
	"context"

	"github.com/tidwall/sjson"
)

// Stats is a point in time view of the server, taken on the loop goroutine.
type Stats struct {
	Sessions int

	// Members are the authenticated identities, sorted
	Members []string

	// PendingRequests are private requests waiting to be accepted
	PendingRequests int

	// AwaitingPorts are accepted private requests waiting for the requester's ports
	AwaitingPorts int
}

// Stats snapshots the directory.
func (s *Server) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	err := s.call(ctx, func() {
		stats.Sessions = s.dir.Len()
		stats.Members = s.dir.Members()
		stats.PendingRequests, stats.AwaitingPorts = s.dir.Pending()
	})

	return stats, err
}

func (s Stats) MarshalJSON() ([]byte, error) {
	doc := []byte(`{}`)

	members := s.Members
	if members == nil {
		members = []string{}
	}

	var err error
	for _, set := range []struct {
		path  string
		value interface{}
	}{
		{"sessions", s.Sessions},
		{"members", members},
		{"rendezvous.pending", s.PendingRequests},
		{"rendezvous.awaitingPorts", s.AwaitingPorts},
	} {
		if doc, err = sjson.SetBytes(doc, set.path, set.value); err != nil {
			return nil, err
		}
	}

	return doc, nil
}
