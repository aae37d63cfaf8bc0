package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breezehq/breeze/internal/log"
)

var (
	// ErrNoActiveRun indicates no run stream exists for the session.
	ErrNoActiveRun = errors.New("no active run for session")
)

const (
	// DefaultCapacity bounds the replay buffer per run.
	DefaultCapacity = 200

	// DefaultRetention bounds how long buffered events stay replayable.
	DefaultRetention = 2 * time.Minute

	// subscriberSlack is extra channel headroom beyond the replay buffer so
	// a replay burst plus some live events never blocks the publisher.
	subscriberSlack = 64
)

// Publisher owns one event stream per in-flight run. The producing run
// goroutine publishes, any number of SSE handlers subscribe. Buffered events
// older than the retention window, or beyond the capacity, are evicted;
// reconnects that reach past the evicted edge get a resync event instead of
// a partial replay.
//
// The publisher runs no goroutines of its own; expired streams are swept
// lazily on BeginRun and Attach.
type Publisher struct {
	capacity  int
	retention time.Duration
	logger    log.Logger
	now       func() time.Time

	mu      sync.Mutex
	streams map[uuid.UUID]*runStream
}

type runStream struct {
	turnID  uuid.UUID
	nextSeq int64
	buf     []timedEvent
	subs    map[*Subscriber]struct{}
	closed  bool
	endedAt time.Time
}

// Subscriber receives a run's events. The channel is closed on run
// completion, detach, or overflow; after the channel closes, Dropped
// reports whether the subscriber fell behind and must resync.
type Subscriber struct {
	sessionID uuid.UUID
	ch        chan Event
	chClosed  bool
	dropped   bool
}

// Events returns the subscriber's event channel.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped reports whether this subscriber was disconnected for falling
// behind. Valid to read only after the events channel is closed.
func (s *Subscriber) Dropped() bool { return s.dropped }

// Option configures a Publisher.
type Option func(*Publisher)

// WithCapacity overrides the replay buffer capacity.
func WithCapacity(n int) Option {
	return func(p *Publisher) { p.capacity = n }
}

// WithRetention overrides the replay retention window.
func WithRetention(d time.Duration) Option {
	return func(p *Publisher) { p.retention = d }
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// NewPublisher creates a publisher.
func NewPublisher(logger log.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		capacity:  DefaultCapacity,
		retention: DefaultRetention,
		logger:    logger.With("component", "stream"),
		now:       time.Now,
		streams:   make(map[uuid.UUID]*runStream),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BeginRun opens a fresh event stream for a run on the given session,
// replacing any completed stream left from the previous run. The run
// controller guarantees a single active run per session.
func (p *Publisher) BeginRun(sessionID, turnID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweepLocked()

	if old, ok := p.streams[sessionID]; ok {
		p.closeStreamLocked(old)
	}
	p.streams[sessionID] = &runStream{
		turnID: turnID,
		subs:   make(map[*Subscriber]struct{}),
	}
}

// Publish appends an event to the run's buffer and delivers it to all
// attached subscribers. It assigns and returns the event's sequence.
// Publishing to a session without an open stream is a no-op returning -1;
// that only happens after EndRun during teardown races.
func (p *Publisher) Publish(sessionID uuid.UUID, kind EventKind, payload any) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.streams[sessionID]
	if !ok || st.closed {
		return -1
	}

	ev := Event{
		Sequence: st.nextSeq,
		TurnID:   st.turnID,
		Kind:     kind,
		Payload:  payload,
	}
	st.nextSeq++

	now := p.now()
	st.buf = append(st.buf, timedEvent{ev: ev, at: now})
	p.evictLocked(st, now)

	for sub := range st.subs {
		select {
		case sub.ch <- ev:
		default:
			// Subscriber fell behind; cut it loose so the producer never
			// blocks. The client reconnects and resyncs.
			sub.dropped = true
			p.closeSubscriberLocked(st, sub)
			p.logger.Warn("subscriber dropped, channel full",
				"session_id", sessionID, "sequence", ev.Sequence)
		}
	}
	return ev.Sequence
}

// EndRun closes the run's stream. Subscriber channels are closed; the
// replay buffer stays readable until the retention window expires so
// immediate reconnects can still catch the tail.
func (p *Publisher) EndRun(sessionID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.streams[sessionID]
	if !ok {
		return
	}
	p.closeStreamLocked(st)
}

// Attach subscribes to the session's run stream. Events with sequence
// greater than lastSeen are replayed from the buffer before live delivery;
// pass -1 to receive everything buffered. If the gap reaches past the
// buffer's edge the subscriber gets a single resync event and then the live
// tail only.
//
// Attaching to a completed run within the retention window replays the
// remaining tail and closes the channel immediately after.
func (p *Publisher) Attach(sessionID uuid.UUID, lastSeen int64) (*Subscriber, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.sweepLocked()

	st, ok := p.streams[sessionID]
	if !ok {
		return nil, ErrNoActiveRun
	}

	sub := &Subscriber{
		sessionID: sessionID,
		ch:        make(chan Event, p.capacity+subscriberSlack),
	}

	// Oldest replayable sequence. An empty buffer with events already
	// published means everything was evicted.
	var oldest int64
	if len(st.buf) > 0 {
		oldest = st.buf[0].ev.Sequence
	} else {
		oldest = st.nextSeq
	}

	if lastSeen+1 < oldest {
		sub.ch <- Event{
			Sequence: -1,
			TurnID:   st.turnID,
			Kind:     KindResync,
			Payload: ResyncPayload{
				Reason:       "replay window exceeded",
				NextSequence: st.nextSeq,
			},
		}
	} else {
		for _, te := range st.buf {
			if te.ev.Sequence > lastSeen {
				sub.ch <- te.ev
			}
		}
	}

	if st.closed {
		// Nothing further will be published; hand over the replay and close.
		sub.chClosed = true
		close(sub.ch)
		return sub, nil
	}

	st.subs[sub] = struct{}{}
	return sub, nil
}

// Detach removes a subscriber and closes its channel. Safe to call after
// the run has ended.
func (p *Publisher) Detach(sub *Subscriber) {
	if sub == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if st, ok := p.streams[sub.sessionID]; ok {
		p.closeSubscriberLocked(st, sub)
		return
	}
	if !sub.chClosed {
		sub.chClosed = true
		close(sub.ch)
	}
}

func (p *Publisher) closeSubscriberLocked(st *runStream, sub *Subscriber) {
	if _, ok := st.subs[sub]; ok {
		delete(st.subs, sub)
	}
	if !sub.chClosed {
		sub.chClosed = true
		close(sub.ch)
	}
}

func (p *Publisher) closeStreamLocked(st *runStream) {
	if st.closed {
		return
	}
	st.closed = true
	st.endedAt = p.now()
	for sub := range st.subs {
		p.closeSubscriberLocked(st, sub)
	}
}

// evictLocked trims the buffer to capacity and retention.
func (p *Publisher) evictLocked(st *runStream, now time.Time) {
	cut := 0
	if over := len(st.buf) - p.capacity; over > 0 {
		cut = over
	}
	horizon := now.Add(-p.retention)
	for cut < len(st.buf) && st.buf[cut].at.Before(horizon) {
		cut++
	}
	if cut > 0 {
		st.buf = append([]timedEvent(nil), st.buf[cut:]...)
	}
}

// sweepLocked drops completed streams whose retention has expired. Past
// that point the session store is the only source of truth.
func (p *Publisher) sweepLocked() {
	horizon := p.now().Add(-p.retention)
	for id, st := range p.streams {
		if st.closed && st.endedAt.Before(horizon) {
			delete(p.streams, id)
		}
	}
}
