package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskhub/server/internal/infra/events"
	"github.com/taskhub/server/internal/model"
	"github.com/taskhub/server/internal/module/access"
	apperrors "github.com/taskhub/server/internal/shared/errors"
	"github.com/taskhub/server/internal/shared/metrics"
)

// Relay forwards locally published envelopes to peer instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
}

// HubConfig holds hub limits.
type HubConfig struct {
	QueueSize    int
	RelayTimeout time.Duration
}

type memberKey struct {
	projectID uuid.UUID
	userID    uuid.UUID
}

// job is one unit of fan-out work. Exactly one of env or closeRoom is set.
// targets, when non-nil, replaces room membership as the recipient list.
// A control job is only forwarded to peers. remote marks a closeRoom that
// came from a peer and must not be forwarded again.
type job struct {
	env       *Envelope
	targets   []Session
	closeRoom string
	control   bool
	remote    bool
}

// Hub tracks sessions and rooms. All deliveries run on one worker
// goroutine in enqueue order, so envelopes of a room arrive in seq order.
type Hub struct {
	origin   string
	cfg      HubConfig
	resolver *access.Resolver
	reader   access.Reader
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu           sync.RWMutex
	sessions     map[string]Session
	userSessions map[uuid.UUID]map[string]Session
	rooms        map[string]map[string]Session
	sessionRooms map[string]map[string]struct{}
	generations  map[memberKey]uint64
	relay        Relay

	pubMu sync.Mutex
	seq   map[string]uint64

	queue    chan job
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a hub. Start must be called before envelopes flow.
func NewHub(cfg HubConfig, resolver *access.Resolver, reader access.Reader, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.RelayTimeout <= 0 {
		cfg.RelayTimeout = 2 * time.Second
	}
	return &Hub{
		origin:       uuid.NewString(),
		cfg:          cfg,
		resolver:     resolver,
		reader:       reader,
		metrics:      m,
		logger:       logger,
		sessions:     make(map[string]Session),
		userSessions: make(map[uuid.UUID]map[string]Session),
		rooms:        make(map[string]map[string]Session),
		sessionRooms: make(map[string]map[string]struct{}),
		generations:  make(map[memberKey]uint64),
		seq:          make(map[string]uint64),
		queue:        make(chan job, cfg.QueueSize),
		done:         make(chan struct{}),
	}
}

// Origin identifies this hub instance on the relay.
func (h *Hub) Origin() string { return h.origin }

// SetRelay installs the peer relay.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Start launches the fan-out worker.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.run()
}

// Stop halts the worker and closes every session.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		sessions := make([]Session, 0, len(h.sessions))
		for id, s := range h.sessions {
			sessions = append(sessions, s)
			h.detachLocked(id)
		}
		h.mu.Unlock()

		for _, s := range sessions {
			s.Close(CloseShutdown, "server shutting down")
		}
	})
}

// Attach registers a session and joins it to its user room.
func (h *Hub) Attach(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[s.ID()]; ok {
		return
	}
	h.sessions[s.ID()] = s
	byUser, ok := h.userSessions[s.UserID()]
	if !ok {
		byUser = make(map[string]Session)
		h.userSessions[s.UserID()] = byUser
	}
	byUser[s.ID()] = s
	h.joinLocked(UserRoom(s.UserID()), s)
	h.metrics.RealtimeSessions.Inc()
}

// Detach removes a session from every room.
func (h *Hub) Detach(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detachLocked(sessionID)
}

// Join adds a session to room. Project rooms require a capability other
// than none; user rooms are limited to the session's own user.
func (h *Hub) Join(ctx context.Context, sessionID, room string) error {
	kind, id, err := ParseRoom(room)
	if err != nil {
		return apperrors.Invalid(err.Error())
	}

	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("session")
	}

	if kind == KindUser {
		if id != s.UserID() {
			return apperrors.NotFound("room")
		}
		h.mu.Lock()
		h.joinLocked(room, s)
		h.mu.Unlock()
		return nil
	}

	key := memberKey{projectID: id, userID: s.UserID()}
	h.mu.RLock()
	generation := h.generations[key]
	h.mu.RUnlock()

	capability, err := h.resolver.Resolve(ctx, h.reader, s.UserID(), id)
	if err != nil {
		return err
	}
	if capability == model.CapabilityNone {
		return apperrors.NotFound("project")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	// An eviction that ran while the capability was being resolved wins.
	if h.generations[key] != generation {
		return apperrors.NotFound("project")
	}
	if _, ok := h.sessions[sessionID]; !ok {
		return apperrors.NotFound("session")
	}
	h.joinLocked(room, s)
	return nil
}

// Leave removes a session from room.
func (h *Hub) Leave(sessionID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, sessionID)
}

// Publish enqueues an envelope for room. It never blocks; when the queue
// is full the envelope is dropped and the seq gap tells clients to refetch.
func (h *Hub) Publish(room, msgType, entityID string, op events.Op, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("failed to encode realtime payload",
			zap.String("room", room), zap.String("type", msgType), zap.Error(err))
		return
	}

	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.seq[room]++
	env := &Envelope{
		Room:     room,
		Type:     msgType,
		EntityID: entityID,
		Op:       op,
		Seq:      h.seq[room],
		Payload:  raw,
		At:       time.Now().UTC(),
		Origin:   h.origin,
	}
	h.enqueue(job{env: env})
}

// PushUser publishes to the private room of userID.
func (h *Hub) PushUser(userID uuid.UUID, msgType, entityID string, op events.Op, payload any) {
	h.Publish(UserRoom(userID), msgType, entityID, op, payload)
}

// DeliverRemote fans out an envelope received from a peer instance.
// Control envelopes replay the peer's eviction or room close locally.
func (h *Hub) DeliverRemote(env Envelope) {
	if env.Origin == h.origin {
		return
	}
	h.metrics.RealtimeRelayReceived.Inc()

	switch env.Type {
	case controlEvict:
		kind, projectID, err := ParseRoom(env.Room)
		userID, uerr := uuid.Parse(env.EntityID)
		if err != nil || uerr != nil || kind != KindProject {
			h.logger.Warn("discarding malformed eviction", zap.String("room", env.Room), zap.String("user_id", env.EntityID))
			return
		}
		h.evictLocal(projectID, userID)
	case controlCloseRoom:
		h.enqueue(job{closeRoom: env.Room, remote: true})
	default:
		h.enqueue(job{env: &env})
	}
}

// EvictUser removes every session of userID from the project room, on
// this instance and on every peer, and sends each a revoked envelope.
// Joins resolved before the eviction are rejected.
func (h *Hub) EvictUser(projectID, userID uuid.UUID) {
	h.evictLocal(projectID, userID)
	h.enqueue(job{
		env: &Envelope{
			Room:     ProjectRoom(projectID),
			Type:     controlEvict,
			EntityID: userID.String(),
			At:       time.Now().UTC(),
			Origin:   h.origin,
		},
		control: true,
	})
}

func (h *Hub) evictLocal(projectID, userID uuid.UUID) {
	room := ProjectRoom(projectID)

	h.mu.Lock()
	h.generations[memberKey{projectID: projectID, userID: userID}]++
	var evicted []Session
	for id, s := range h.userSessions[userID] {
		if _, ok := h.rooms[room][id]; ok {
			evicted = append(evicted, s)
			h.leaveLocked(room, id)
		}
	}
	h.mu.Unlock()

	if len(evicted) == 0 {
		return
	}
	raw, _ := json.Marshal(map[string]string{"project_id": projectID.String()})
	h.enqueue(job{
		env: &Envelope{
			Room:     room,
			Type:     TypeRevoked,
			EntityID: projectID.String(),
			Op:       events.OpDeleted,
			Payload:  raw,
			At:       time.Now().UTC(),
			Origin:   h.origin,
		},
		targets: evicted,
	})
}

// CloseRoom removes every session from room once envelopes already
// queued for it have been delivered. Peers close their copy of the room
// after the envelopes relayed before it.
func (h *Hub) CloseRoom(room string) {
	h.enqueue(job{closeRoom: room})
}

// RoomSize returns the number of sessions in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// SessionCount returns the number of attached sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) enqueue(j job) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.queue <- j:
	default:
		h.metrics.RealtimeDropped.WithLabelValues("queue_full").Inc()
		h.logger.Warn("realtime queue full, dropping envelope")
	}
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return
		case j := <-h.queue:
			h.process(j)
		}
	}
}

func (h *Hub) process(j job) {
	if j.closeRoom != "" {
		h.mu.Lock()
		for id := range h.rooms[j.closeRoom] {
			h.leaveLocked(j.closeRoom, id)
		}
		h.mu.Unlock()
		if !j.remote {
			h.forward(Envelope{Room: j.closeRoom, Type: controlCloseRoom, At: time.Now().UTC(), Origin: h.origin})
		}
		return
	}
	if j.control {
		h.forward(*j.env)
		return
	}

	data, err := json.Marshal(j.env)
	if err != nil {
		h.logger.Warn("failed to encode envelope", zap.String("room", j.env.Room), zap.Error(err))
		return
	}

	targets := j.targets
	if targets == nil {
		h.mu.RLock()
		members := h.rooms[j.env.Room]
		targets = make([]Session, 0, len(members))
		for _, s := range members {
			targets = append(targets, s)
		}
		h.mu.RUnlock()
	}

	for _, s := range targets {
		if err := s.Send(data); err != nil {
			h.dropSession(s, err)
		}
	}
	h.metrics.RealtimePublished.WithLabelValues(roomKind(j.env.Room)).Inc()

	if j.env.Origin == h.origin && j.targets == nil {
		h.forward(*j.env)
	}
}

func (h *Hub) forward(env Envelope) {
	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RelayTimeout)
	defer cancel()
	if err := relay.Publish(ctx, env); err != nil {
		h.logger.Warn("failed to relay envelope", zap.String("room", env.Room), zap.Error(err))
	}
}

func (h *Hub) dropSession(s Session, err error) {
	reason := "closed"
	if errors.Is(err, ErrBufferFull) {
		reason = "slow_consumer"
		s.Close(CloseSlowConsumer, "send buffer full")
	}
	h.metrics.RealtimeDropped.WithLabelValues(reason).Inc()
	h.Detach(s.ID())
}

func (h *Hub) joinLocked(room string, s Session) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Session)
		h.rooms[room] = members
	}
	members[s.ID()] = s

	joined, ok := h.sessionRooms[s.ID()]
	if !ok {
		joined = make(map[string]struct{})
		h.sessionRooms[s.ID()] = joined
	}
	joined[room] = struct{}{}
}

func (h *Hub) leaveLocked(room, sessionID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.sessionRooms[sessionID]; ok {
		delete(joined, room)
	}
}

func (h *Hub) detachLocked(sessionID string) {
	s, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for room := range h.sessionRooms[sessionID] {
		h.leaveLocked(room, sessionID)
	}
	delete(h.sessionRooms, sessionID)
	delete(h.sessions, sessionID)
	if byUser, ok := h.userSessions[s.UserID()]; ok {
		delete(byUser, sessionID)
		if len(byUser) == 0 {
			delete(h.userSessions, s.UserID())
		}
	}
	h.metrics.RealtimeSessions.Dec()
}
