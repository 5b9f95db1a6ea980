package chat

import (
	"sort"

	"go.uber.org/zap"

	"github.com/luma/chatter/internal/metrics"
	"github.com/luma/chatter/protocol"
)

// pair is an ordered (requester, target) private channel attempt, keyed by
// folded identities.
type pair struct {
	requester string
	target    string
}

type Options struct {
	Metrics *metrics.Metrics
	Log     *zap.Logger
}

// Directory is the server wide registry of sessions. It maps identities to
// authenticated sessions, fans out broadcasts and brokers the rendezvous that
// sets up private channels between two members:
//
//	requester                server                      target
//	PRIVATE-REQUEST(target) ->
//	                            -> PRIVATE-REQUEST-NOTIFY(requester)
//	                            <- PRIVATE-ACCEPT(requester)
//	<- PRIVATE-ESTABLISH-SOURCE(target, target addr)
//	PRIVATE-PORTS(target, ports) ->
//	                            -> PRIVATE-ESTABLISH-DEST(requester, requester addr, ports)
//
// An attempt sits in requested until the target accepts, then in accepted
// until the requester reports its listening ports. Either party leaving
// abandons it without further messages.
type Directory struct {
	sessions map[*Session]struct{}
	members  map[string]*Session

	requested map[pair]struct{}
	accepted  map[pair]struct{}

	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewDirectory(options Options) *Directory {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Directory{
		sessions:  make(map[*Session]struct{}),
		members:   make(map[string]*Session),
		requested: make(map[pair]struct{}),
		accepted:  make(map[pair]struct{}),
		metrics:   options.Metrics,
		log:       log,
	}
}

// Register adds a freshly accepted, unauthenticated session.
func (d *Directory) Register(s *Session) {
	s.dir = d
	d.sessions[s] = struct{}{}
}

// Authenticate gives s the identity if it is valid and not in use by another
// member, compared case-insensitively. The CONNECT-RESPONSE is queued on s
// either way; on success it is followed by a CONNECT-NOTIFY to every member,
// s included.
func (d *Directory) Authenticate(s *Session, identity string) bool {
	key := protocol.FoldIdentity(identity)

	if _, taken := d.members[key]; taken || !protocol.ValidIdentity(identity) {
		s.log.Info("Refused identity",
			zap.String("identity", identity),
			zap.Bool("taken", taken))

		s.Enqueue(protocol.NewConnectResponse(false))
		return false
	}

	s.identity = identity
	s.key = key
	s.log = s.log.With(zap.String("identity", identity))
	d.members[key] = s

	s.log.Info("Authenticated")

	s.Enqueue(protocol.NewConnectResponse(true))
	d.fanOut(protocol.NewConnectNotify(identity))

	return true
}

// Broadcast sends text from the member from to every member, including from.
func (d *Directory) Broadcast(from *Session, text string) {
	d.metrics.Broadcast()
	d.fanOut(protocol.NewMessageBroadcast(from.identity, text))
}

// fanOut encodes msg once and queues it on every member.
func (d *Directory) fanOut(msg *protocol.Message) {
	b, err := msg.MarshalBinary()
	if err != nil {
		d.log.Warn("Failed to encode broadcast",
			zap.Stringer("type", msg.Type),
			zap.Error(err))
		return
	}

	for _, s := range d.members {
		s.enqueueRaw(b, msg.Type)
	}
}

// RequestPrivate records that requester wants a private channel with target and
// notifies the target. Only one attempt per pair of members runs at a time, in
// either direction.
func (d *Directory) RequestPrivate(requester *Session, target string) error {
	key := protocol.FoldIdentity(target)

	if key == requester.key {
		return ErrSelfRequest
	}

	t, ok := d.members[key]
	if !ok {
		d.metrics.Rendezvous(metrics.StepRejected)
		return ErrUnknownTarget
	}

	p := pair{requester: requester.key, target: key}
	if d.pending(p) || d.pending(pair{requester: key, target: requester.key}) {
		return ErrRequestPending
	}

	d.requested[p] = struct{}{}
	d.metrics.Rendezvous(metrics.StepRequest)

	requester.log.Info("Private channel requested", zap.String("target", t.identity))

	t.Enqueue(protocol.NewPrivateRequestNotify(requester.identity))
	return nil
}

// AcceptPrivate accepts requester's pending request on behalf of acceptor. The
// requester is told where the acceptor is and is expected to answer with the
// ports it listens on, see CompletePrivate.
func (d *Directory) AcceptPrivate(acceptor *Session, requester string) error {
	p := pair{requester: protocol.FoldIdentity(requester), target: acceptor.key}

	if _, ok := d.requested[p]; !ok {
		d.metrics.Rendezvous(metrics.StepRejected)
		return ErrNoPendingRequest
	}

	r := d.members[p.requester]

	delete(d.requested, p)
	d.accepted[p] = struct{}{}
	d.metrics.Rendezvous(metrics.StepAccept)

	acceptor.log.Info("Private channel accepted", zap.String("requester", r.identity))

	r.Enqueue(protocol.NewPrivateEstablishSource(acceptor.identity, acceptor.addr))
	return nil
}

// CompletePrivate forwards the ports requester listens on to acceptor, which
// then connects directly. This ends the server's part of the rendezvous.
func (d *Directory) CompletePrivate(requester *Session, acceptor string, messagePort, filePort uint16) error {
	p := pair{requester: requester.key, target: protocol.FoldIdentity(acceptor)}

	if _, ok := d.accepted[p]; !ok {
		d.metrics.Rendezvous(metrics.StepRejected)
		return ErrNoAcceptedRequest
	}

	a := d.members[p.target]

	delete(d.accepted, p)
	d.metrics.Rendezvous(metrics.StepPorts)

	requester.log.Info("Private channel ports sent",
		zap.String("acceptor", a.identity),
		zap.Uint16("messagePort", messagePort),
		zap.Uint16("filePort", filePort))

	a.Enqueue(protocol.NewPrivateEstablishDest(requester.identity, requester.addr, messagePort, filePort))
	return nil
}

// Remove drops s from the directory. Rendezvous attempts s takes part in are
// abandoned and, if s was a member, the remaining members are told it left.
func (d *Directory) Remove(s *Session) {
	if _, ok := d.sessions[s]; !ok {
		return
	}

	delete(d.sessions, s)

	if !s.Authenticated() {
		return
	}

	delete(d.members, s.key)

	for p := range d.requested {
		if p.requester == s.key || p.target == s.key {
			delete(d.requested, p)
		}
	}

	for p := range d.accepted {
		if p.requester == s.key || p.target == s.key {
			delete(d.accepted, p)
		}
	}

	d.fanOut(protocol.NewDisconnectNotify(s.identity))
}

// Members returns the identities of all members, sorted.
func (d *Directory) Members() []string {
	names := make([]string, 0, len(d.members))
	for _, s := range d.members {
		names = append(names, s.identity)
	}

	sort.Strings(names)
	return names
}

// Len is the number of registered sessions, authenticated or not.
func (d *Directory) Len() int {
	return len(d.sessions)
}

// Pending returns how many rendezvous attempts wait for an accept and how many
// wait for ports.
func (d *Directory) Pending() (requested, accepted int) {
	return len(d.requested), len(d.accepted)
}

func (d *Directory) pending(p pair) bool {
	if _, ok := d.requested[p]; ok {
		return true
	}

	_, ok := d.accepted[p]
	return ok
}
