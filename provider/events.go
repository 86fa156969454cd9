package provider

import (
	"sync"

	"github.com/upb/authflow/models"
	"go.uber.org/zap"
)

// AuthStateListener receives auth-state transitions. session is nil on sign-out.
type AuthStateListener func(event models.AuthEvent, session *models.Session)

type authChange struct {
	event   models.AuthEvent
	session *models.Session
}

// EventHub fans auth-state changes out to subscribers.
// A Client owns one; fakes of the client can embed their own.
type EventHub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscription
	logger *zap.Logger
}

// NewEventHub creates a hub with no subscribers
func NewEventHub(logger *zap.Logger) *EventHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		subs:   make(map[uint64]*Subscription),
		logger: logger,
	}
}

// Subscription is a long-lived registration on the auth-state stream.
// Each subscription delivers events in order on its own goroutine.
type Subscription struct {
	id    uint64
	hub   *EventHub
	fn    AuthStateListener
	mu    sync.Mutex
	queue []authChange
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// OnAuthStateChange registers fn for every future auth-state transition.
// Call Unsubscribe on the returned subscription to release it.
func (c *Client) OnAuthStateChange(fn AuthStateListener) *Subscription {
	return c.events.Subscribe(fn)
}

// Subscribe registers fn and starts its delivery goroutine
func (h *EventHub) Subscribe(fn AuthStateListener) *Subscription {
	h.mu.Lock()
	h.nextID++
	sub := &Subscription{
		id:   h.nextID,
		hub:  h,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	h.mu.Unlock()

	go sub.run()
	return sub
}

// Emit queues the change for every current subscriber. Each one receives its own copy of session.
func (h *EventHub) Emit(event models.AuthEvent, session *models.Session) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	h.logger.Debug("auth state changed",
		zap.String("event", string(event)),
		zap.Int("subscribers", len(subs)))

	for _, s := range subs {
		s.enqueue(authChange{event: event, session: copySession(session)})
	}
}

// Count returns the number of live subscriptions
func (h *EventHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (s *Subscription) enqueue(change authChange) {
	s.mu.Lock()
	s.queue = append(s.queue, change)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		pending := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, change := range pending {
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(change.event, change.session)
		}
	}
}

// Unsubscribe stops delivery. Events already being delivered finish; queued ones are dropped.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
		close(s.done)
	})
}

// copySession gives each subscriber its own value
func copySession(s *models.Session) *models.Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.User.UserMetadata = copyMap(s.User.UserMetadata)
	cp.User.AppMetadata = copyMap(s.User.AppMetadata)
	return &cp
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
