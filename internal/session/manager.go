// Package session manages externally-initiated pairing sessions: remote
// dApps that reach the wallet over a relay instead of the page bridge.
// Proposals arrive after pairing, approved sessions carry signing requests,
// and every request funnels into the same router and approval gate the
// bridge uses. Payloads cross the relay sealed; only the two session
// participants hold the keys.
package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glide-wallet/glide-wallet/internal/chains"
	"github.com/glide-wallet/glide-wallet/internal/events"
	"github.com/glide-wallet/glide-wallet/internal/logger"
	"github.com/glide-wallet/glide-wallet/internal/metrics"
	"github.com/glide-wallet/glide-wallet/internal/relay"
	"github.com/glide-wallet/glide-wallet/internal/router"
	"github.com/glide-wallet/glide-wallet/internal/storage"
	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
	"github.com/glide-wallet/glide-wallet/pkg/wire"
)

var (
	// ErrUnknownProposal is returned when deciding a proposal the manager
	// does not hold.
	ErrUnknownProposal = errors.New("unknown proposal")
	// ErrUnknownSession is returned when disconnecting a topic the manager
	// does not hold.
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnsatisfiable is returned by Approve when the proposal demands
	// chains, methods, or events the wallet does not support. The proposal
	// stays pending so the holder can still reject it.
	ErrUnsatisfiable = errors.New("proposal cannot be satisfied")
)

// Status is where a session sits in its lifecycle.
type Status string

const (
	// StatusActive means the session is settled and may carry requests.
	StatusActive Status = "active"
	// StatusDisconnected means a peer tore the session down.
	StatusDisconnected Status = "disconnected"
)

// Proposal is a dApp's request to establish a session, awaiting the
// holder's decision.
type Proposal struct {
	ID           int64      `json:"id"`
	PairingTopic string     `json:"pairingTopic"`
	Relay        string     `json:"relay"`
	Proposer     Metadata   `json:"proposer"`
	ProposerKey  string     `json:"proposerKey"`
	Required     Namespaces `json:"requiredNamespaces"`
	Optional     Namespaces `json:"optionalNamespaces,omitempty"`
	ReceivedAt   time.Time  `json:"receivedAt"`
}

// Session is one settled authorization between the wallet and a remote
// dApp, scoped to specific chains, methods, events, and the address it was
// approved for.
type Session struct {
	Topic      string     `json:"topic"`
	Peer       Metadata   `json:"peer"`
	Namespaces Namespaces `json:"namespaces"`
	Address    string     `json:"address"`
	Expiry     time.Time  `json:"expiry"`
	Status     Status     `json:"status"`
}

// record pairs the public session view with the key that seals its traffic.
type record struct {
	Session
	symKey []byte
}

// Handler routes session requests into the wallet. *router.Router satisfies
// it.
type Handler interface {
	Handle(ctx context.Context, call router.Call) (any, error)
	Accounts() []string
	ActiveChain() int64
}

// Config wires the manager's collaborators.
type Config struct {
	Relay    relay.Relay
	Handler  Handler
	Registry *chains.Registry
	Store    storage.Store
	Bus      *events.Bus
	Metadata Metadata
	Metrics  *metrics.Metrics

	// TTL is how long an approved session stays valid. Zero selects the
	// default.
	TTL time.Duration

	// OnProposal pushes a fresh proposal to the holder for a decision.
	OnProposal func(Proposal)
	// OnSessionsChanged tells the holder the session list changed under it:
	// a settle, a peer deletion, an expiry.
	OnSessionsChanged func()
}

// Manager owns every pairing and session for one unlock lifetime.
type Manager struct {
	relay    relay.Relay
	handler  Handler
	registry *chains.Registry
	store    storage.Store
	bus      *events.Bus
	metadata Metadata
	metrics  *metrics.Metrics
	ttl      time.Duration
	log      *slog.Logger

	onProposal        func(Proposal)
	onSessionsChanged func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nextID atomic.Int64

	mu        sync.Mutex
	closed    bool
	pairings  map[string][]byte
	proposals map[int64]Proposal
	sessions  map[string]*record
}

// New builds the manager, restores persisted sessions (dropping expired
// ones), and starts consuming the relay. The manager subscribes to the
// provider event bus so chain switches reach remote peers too.
func New(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.Relay == nil {
		return nil, fmt.Errorf("session manager requires a relay")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("session manager requires a handler")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("session manager requires a chain registry")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session manager requires a store")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("session manager requires an event bus")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = sessionTTL
	}

	m := &Manager{
		relay:             cfg.Relay,
		handler:           cfg.Handler,
		registry:          cfg.Registry,
		store:             cfg.Store,
		bus:               cfg.Bus,
		metadata:          cfg.Metadata,
		metrics:           cfg.Metrics,
		ttl:               ttl,
		log:               logger.Component("session"),
		onProposal:        cfg.OnProposal,
		onSessionsChanged: cfg.OnSessionsChanged,
		pairings:          make(map[string][]byte),
		proposals:         make(map[int64]Proposal),
		sessions:          make(map[string]*record),
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.nextID.Store(time.Now().UnixMicro() * 1000)

	if err := m.restore(ctx); err != nil {
		m.cancel()
		return nil, err
	}

	providerEvents, err := cfg.Bus.Subscribe(m.ctx)
	if err != nil {
		m.cancel()
		return nil, fmt.Errorf("subscribing to provider events: %w", err)
	}

	m.wg.Add(2)
	go m.run()
	go m.forwardProviderEvents(providerEvents)
	return m, nil
}

// restore reloads persisted sessions, resubscribes their topics, and drops
// the ones that expired while the wallet was locked.
func (m *Manager) restore(ctx context.Context) error {
	records, err := m.store.ListSessions()
	if err != nil {
		return fmt.Errorf("loading persisted sessions: %w", err)
	}

	now := time.Now()
	for _, stored := range records {
		if time.Unix(stored.Expiry, 0).Before(now) {
			if err := m.store.DeleteSession(stored.Topic); err != nil {
				m.log.Warn("dropping expired session failed", "topic", stored.Topic, "error", err)
			}
			continue
		}

		symKey, err := hex.DecodeString(stored.SymKey)
		if err != nil || len(symKey) != symKeySize {
			m.log.Warn("persisted session has unusable key, dropping", "topic", stored.Topic)
			_ = m.store.DeleteSession(stored.Topic)
			continue
		}
		var namespaces Namespaces
		if err := json.Unmarshal(stored.Namespaces, &namespaces); err != nil {
			m.log.Warn("persisted session has unusable namespaces, dropping", "topic", stored.Topic)
			_ = m.store.DeleteSession(stored.Topic)
			continue
		}
		if err := m.relay.Subscribe(ctx, stored.Topic); err != nil {
			return fmt.Errorf("resubscribing session %s: %w", stored.Topic, err)
		}

		m.sessions[stored.Topic] = &record{
			Session: Session{
				Topic:      stored.Topic,
				Peer:       Metadata{Name: stored.PeerName, URL: stored.PeerURL},
				Namespaces: namespaces,
				Address:    stored.Address,
				Expiry:     time.Unix(stored.Expiry, 0),
				Status:     StatusActive,
			},
			symKey: symKey,
		}
	}

	m.metrics.SetSessionsActive(len(m.sessions))
	if len(m.sessions) > 0 {
		m.log.Info("sessions restored", "count", len(m.sessions))
	}
	return nil
}

// Pair opens a pairing from a wc: URI. Proposals arrive asynchronously on
// the pairing topic afterward, surfacing through OnProposal.
func (m *Manager) Pair(ctx context.Context, uri string) error {
	parsed, err := ParseURI(uri)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("session manager is closed")
	}
	m.pairings[parsed.Topic] = parsed.SymKey
	m.mu.Unlock()

	if err := m.relay.Subscribe(ctx, parsed.Topic); err != nil {
		m.mu.Lock()
		delete(m.pairings, parsed.Topic)
		m.mu.Unlock()
		return fmt.Errorf("subscribing pairing topic: %w", err)
	}

	m.log.Info("pairing opened", "topic", parsed.Topic, "protocol", parsed.Protocol)
	return nil
}

// Approve accepts a proposal: it computes the approved namespaces for the
// active address, runs the key agreement, settles the session on its new
// topic, and answers the dApp on the pairing topic. A proposal that cannot
// be satisfied is left pending so the holder can still reject it.
func (m *Manager) Approve(ctx context.Context, proposalID int64) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, fmt.Errorf("session manager is closed")
	}
	proposal, ok := m.proposals[proposalID]
	pairingKey := m.pairings[proposal.PairingTopic]
	m.mu.Unlock()
	if !ok {
		return Session{}, fmt.Errorf("%w %d", ErrUnknownProposal, proposalID)
	}
	if pairingKey == nil {
		return Session{}, fmt.Errorf("pairing for proposal %d is gone", proposalID)
	}

	accounts := m.handler.Accounts()
	if len(accounts) == 0 {
		return Session{}, fmt.Errorf("no active identity to scope the session to")
	}
	address := accounts[0]

	approved, err := approveNamespaces(supportedNamespace(m.registry), proposal.Required, proposal.Optional, address)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnsatisfiable, err)
	}

	kp, err := newKeyPair()
	if err != nil {
		return Session{}, err
	}
	symKey, err := deriveSymKey(kp, proposal.ProposerKey)
	if err != nil {
		return Session{}, fmt.Errorf("agreeing on session key: %w", err)
	}
	topic := topicFor(symKey)

	if err := m.relay.Subscribe(ctx, topic); err != nil {
		return Session{}, fmt.Errorf("subscribing session topic: %w", err)
	}

	responderKey := hex.EncodeToString(kp.public[:])
	reply, err := newRPCResult(proposal.ID, proposeResult{
		Relay:              relayInfo{Protocol: proposal.Relay},
		ResponderPublicKey: responderKey,
	})
	if err != nil {
		return Session{}, err
	}
	if err := m.publish(ctx, proposal.PairingTopic, pairingKey, reply, tagSessionProposeReply, envelopeTTL); err != nil {
		return Session{}, fmt.Errorf("answering proposal: %w", err)
	}

	expiry := time.Now().Add(m.ttl)
	settle, err := newRPCRequest(m.id(), methodSessionSettle, settleParams{
		Relay:      relayInfo{Protocol: proposal.Relay},
		Controller: participant{PublicKey: responderKey, Metadata: m.metadata},
		Namespaces: approved,
		Expiry:     expiry.Unix(),
	})
	if err != nil {
		return Session{}, err
	}
	if err := m.publish(ctx, topic, symKey, settle, tagSessionSettle, envelopeTTL); err != nil {
		return Session{}, fmt.Errorf("settling session: %w", err)
	}

	sess := Session{
		Topic:      topic,
		Peer:       proposal.Proposer,
		Namespaces: approved,
		Address:    address,
		Expiry:     expiry,
		Status:     StatusActive,
	}

	m.mu.Lock()
	m.sessions[topic] = &record{Session: sess, symKey: symKey}
	delete(m.proposals, proposalID)
	active := len(m.sessions)
	m.mu.Unlock()

	m.persist(sess, symKey)
	m.metrics.SetSessionsActive(active)
	m.log.Info("session settled",
		"topic", topic,
		"peer", proposal.Proposer.Name,
		"address", address,
	)
	m.notifySessionsChanged()
	return sess, nil
}

// Reject declines a proposal and tells the dApp so.
func (m *Manager) Reject(ctx context.Context, proposalID int64) error {
	m.mu.Lock()
	proposal, ok := m.proposals[proposalID]
	pairingKey := m.pairings[proposal.PairingTopic]
	delete(m.proposals, proposalID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownProposal, proposalID)
	}

	if pairingKey != nil {
		reply := newRPCError(proposal.ID, rpcerr.ErrUserRejected)
		if err := m.publish(ctx, proposal.PairingTopic, pairingKey, reply, tagSessionProposeReply, envelopeTTL); err != nil {
			return fmt.Errorf("answering proposal: %w", err)
		}
	}

	m.log.Info("session proposal rejected", "peer", proposal.Proposer.Name)
	return nil
}

// Disconnect tears a session down from the wallet side and tells the peer.
func (m *Manager) Disconnect(ctx context.Context, topic string) error {
	m.mu.Lock()
	rec, ok := m.sessions[topic]
	if ok {
		delete(m.sessions, topic)
	}
	active := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownSession, topic)
	}

	farewell, err := newRPCRequest(m.id(), methodSessionDelete, deleteParams{
		Code:    6000,
		Message: "User disconnected.",
	})
	if err == nil {
		if err := m.publish(ctx, topic, rec.symKey, farewell, tagSessionDelete, deleteTTL); err != nil {
			m.log.Warn("session delete not delivered", "topic", topic, "error", err)
		}
	}

	if err := m.relay.Unsubscribe(ctx, topic); err != nil {
		m.log.Warn("unsubscribing session topic failed", "topic", topic, "error", err)
	}
	if err := m.store.DeleteSession(topic); err != nil {
		m.log.Warn("deleting persisted session failed", "topic", topic, "error", err)
	}

	m.metrics.SetSessionsActive(active)
	m.log.Info("session disconnected", "topic", topic, "peer", rec.Peer.Name)
	m.notifySessionsChanged()
	return nil
}

// UpdateAccount rescopes every active session to a new address and pushes
// an accountsChanged event to each peer. Sessions stay connected through an
// identity switch.
func (m *Manager) UpdateAccount(ctx context.Context, address string) error {
	chainRef := fmt.Sprintf("%s:%d", namespaceEVM, m.handler.ActiveChain())

	// Value copies: the live records stay behind the lock, and a concurrent
	// switch or peer delete cannot race the persist/publish pass below.
	m.mu.Lock()
	updated := make([]record, 0, len(m.sessions))
	for _, rec := range m.sessions {
		if rec.Status != StatusActive {
			continue
		}
		rec.Namespaces = rescope(rec.Namespaces, address)
		rec.Address = address
		updated = append(updated, *rec)
	}
	m.mu.Unlock()

	event, err := newRPCRequest(m.id(), methodSessionEvent, accountsChangedEvent(chainRef, address))
	if err != nil {
		return err
	}
	for _, rec := range updated {
		m.persist(rec.Session, rec.symKey)
		if err := m.publish(ctx, rec.Topic, rec.symKey, event, tagSessionEvent, envelopeTTL); err != nil {
			m.log.Warn("accountsChanged not delivered", "topic", rec.Topic, "error", err)
		}
	}

	if len(updated) > 0 {
		m.log.Info("sessions rescoped to new account", "count", len(updated), "address", address)
	}
	return nil
}

// Sessions returns the current session list, stable by topic.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.Session)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// Proposals returns the proposals still awaiting a decision.
func (m *Manager) Proposals() []Proposal {
	m.mu.Lock()
	out := make([]Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, p)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops the manager. In-flight session requests are canceled; the
// relay itself belongs to the caller and stays open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

// run consumes the relay delivery stream.
func (m *Manager) run() {
	defer m.wg.Done()
	for {
		select {
		case inbound, ok := <-m.relay.Messages():
			if !ok {
				return
			}
			m.dispatch(inbound)
		case <-m.ctx.Done():
			return
		}
	}
}

// dispatch unseals one inbound relay message and hands it to the right
// handler. Anything malformed is logged and dropped; protocol garbage must
// never take the pump down.
func (m *Manager) dispatch(inbound relay.Inbound) {
	m.mu.Lock()
	var symKey []byte
	rec, isSession := m.sessions[inbound.Topic]
	if isSession {
		symKey = rec.symKey
	} else {
		symKey = m.pairings[inbound.Topic]
	}
	var snapshot record
	if isSession {
		snapshot = *rec
	}
	m.mu.Unlock()

	if symKey == nil {
		m.log.Debug("message on unknown topic dropped", "topic", inbound.Topic)
		return
	}

	plaintext, err := openEnvelope(symKey, inbound.Message)
	if err != nil {
		m.log.Warn("unsealing relay message failed", "topic", inbound.Topic, "error", err)
		return
	}
	var msg rpcMessage
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		m.log.Warn("malformed session payload dropped", "topic", inbound.Topic, "error", err)
		return
	}

	if msg.Method == "" {
		// A response to something we published: a settle ack, an event ack.
		m.log.Debug("session reply received", "topic", inbound.Topic, "id", msg.ID)
		return
	}

	switch msg.Method {
	case methodSessionPropose:
		m.handlePropose(inbound.Topic, symKey, msg)
	case methodSessionRequest:
		if !isSession {
			m.log.Warn("session request on pairing topic dropped", "topic", inbound.Topic)
			return
		}
		m.wg.Add(1)
		go m.handleRequest(snapshot, msg)
	case methodSessionDelete:
		if !isSession {
			return
		}
		m.handlePeerDelete(snapshot, msg)
	case methodSessionPing:
		if reply, err := newRPCResult(msg.ID, true); err == nil {
			m.reply(inbound.Topic, symKey, reply, tagSessionPingReply)
		}
	default:
		m.log.Debug("unhandled session method dropped", "topic", inbound.Topic, "method", msg.Method)
	}
}

// handlePropose records an inbound proposal and pushes it to the holder.
func (m *Manager) handlePropose(topic string, symKey []byte, msg rpcMessage) {
	var params proposeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || params.Proposer.PublicKey == "" {
		m.reply(topic, symKey, newRPCError(msg.ID, rpcerr.InvalidParams("malformed session proposal")), tagSessionProposeReply)
		return
	}

	protocol := "irn"
	if len(params.Relays) > 0 && params.Relays[0].Protocol != "" {
		protocol = params.Relays[0].Protocol
	}

	proposal := Proposal{
		ID:           msg.ID,
		PairingTopic: topic,
		Relay:        protocol,
		Proposer:     params.Proposer.Metadata,
		ProposerKey:  params.Proposer.PublicKey,
		Required:     params.RequiredNamespaces,
		Optional:     params.OptionalNamespaces,
		ReceivedAt:   time.Now(),
	}

	m.mu.Lock()
	m.proposals[msg.ID] = proposal
	m.mu.Unlock()

	m.log.Info("session proposal received",
		"peer", proposal.Proposer.Name,
		"url", proposal.Proposer.URL,
		"proposal_id", proposal.ID,
	)
	if m.onProposal != nil {
		m.onProposal(proposal)
	}
}

// handleRequest routes one session request through the wallet and answers
// on the session topic under the request's own id. It runs in its own
// goroutine because the approval gate may hold it for as long as the human
// takes.
func (m *Manager) handleRequest(rec record, msg rpcMessage) {
	defer m.wg.Done()

	var params requestParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		m.reply(rec.Topic, rec.symKey, newRPCError(msg.ID, rpcerr.InvalidParams("malformed session request")), tagSessionRequestReply)
		return
	}
	method := params.Request.Method

	if !rec.Namespaces.allows(params.ChainID, method) {
		m.reply(rec.Topic, rec.symKey, newRPCError(msg.ID, rpcerr.New(
			rpcerr.CodeUnauthorized,
			fmt.Sprintf("session is not authorized for %s on %s", method, params.ChainID),
		)), tagSessionRequestReply)
		return
	}

	// Requests execute on the wallet's active chain. A request targeting
	// another approved chain must switch first, so the holder sees the
	// switch rather than a transaction silently landing elsewhere.
	activeRef := fmt.Sprintf("%s:%d", namespaceEVM, m.handler.ActiveChain())
	if method != "wallet_switchEthereumChain" && params.ChainID != activeRef {
		m.reply(rec.Topic, rec.symKey, newRPCError(msg.ID, rpcerr.New(
			rpcerr.CodeChainDisconnected,
			fmt.Sprintf("wallet is active on %s, request targets %s", activeRef, params.ChainID),
		)), tagSessionRequestReply)
		return
	}

	ctx := logger.WithRequestID(m.ctx, strconv.FormatInt(msg.ID, 10))
	result, err := m.handler.Handle(ctx, router.Call{
		Method: method,
		Params: params.Request.Params,
		Origin: router.Origin{
			Transport: "session",
			Name:      rec.Peer.Name,
			URL:       rec.Peer.URL,
		},
	})
	if err != nil {
		m.reply(rec.Topic, rec.symKey, newRPCError(msg.ID, rpcerr.FromError(err)), tagSessionRequestReply)
		return
	}

	reply, err := newRPCResult(msg.ID, result)
	if err != nil {
		reply = newRPCError(msg.ID, rpcerr.Internal(err))
	}
	m.reply(rec.Topic, rec.symKey, reply, tagSessionRequestReply)
}

// handlePeerDelete processes a teardown initiated by the other side: ack
// it, mark the session disconnected, drop it, and push the change to the
// holder.
func (m *Manager) handlePeerDelete(rec record, msg rpcMessage) {
	if ack, err := newRPCResult(msg.ID, true); err == nil {
		m.reply(rec.Topic, rec.symKey, ack, tagSessionDeleteReply)
	}

	m.mu.Lock()
	if live, ok := m.sessions[rec.Topic]; ok {
		live.Status = StatusDisconnected
		delete(m.sessions, rec.Topic)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if err := m.relay.Unsubscribe(m.ctx, rec.Topic); err != nil {
		m.log.Warn("unsubscribing session topic failed", "topic", rec.Topic, "error", err)
	}
	if err := m.store.DeleteSession(rec.Topic); err != nil {
		m.log.Warn("deleting persisted session failed", "topic", rec.Topic, "error", err)
	}

	m.metrics.SetSessionsActive(active)
	m.log.Info("session deleted by peer", "topic", rec.Topic, "peer", rec.Peer.Name)
	m.notifySessionsChanged()
}

// forwardProviderEvents pushes chain switches to sessions that subscribed
// to them. Account changes travel through UpdateAccount instead, which also
// rescopes namespaces.
func (m *Manager) forwardProviderEvents(providerEvents <-chan events.Event) {
	defer m.wg.Done()
	for {
		select {
		case event, ok := <-providerEvents:
			if !ok {
				return
			}
			if event.Type != wire.EventChainChanged {
				continue
			}
			var hexID string
			if err := json.Unmarshal(event.Payload, &hexID); err != nil {
				continue
			}
			id, err := chains.ParseChainID(hexID)
			if err != nil {
				continue
			}
			m.broadcastChainChanged(fmt.Sprintf("%s:%d", namespaceEVM, id), hexID)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) broadcastChainChanged(chainRef, hexID string) {
	m.mu.Lock()
	targets := make([]*record, 0, len(m.sessions))
	for _, rec := range m.sessions {
		if rec.Status == StatusActive && rec.Namespaces.allowsEvent(chainRef, wire.EventChainChanged) {
			targets = append(targets, rec)
		}
	}
	m.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	event, err := newRPCRequest(m.id(), methodSessionEvent, chainChangedEvent(chainRef, hexID))
	if err != nil {
		return
	}
	for _, rec := range targets {
		if err := m.publish(m.ctx, rec.Topic, rec.symKey, event, tagSessionEvent, envelopeTTL); err != nil {
			m.log.Warn("chainChanged not delivered", "topic", rec.Topic, "error", err)
		}
	}
}

func accountsChangedEvent(chainRef, address string) eventParams {
	var params eventParams
	params.Event.Name = wire.EventAccountsChanged
	params.Event.Data = []string{address}
	params.ChainID = chainRef
	return params
}

func chainChangedEvent(chainRef, hexID string) eventParams {
	var params eventParams
	params.Event.Name = wire.EventChainChanged
	params.Event.Data = hexID
	params.ChainID = chainRef
	return params
}

// persist writes one session to the store. Persistence is best-effort: a
// live session keeps working even when the write fails.
func (m *Manager) persist(sess Session, symKey []byte) {
	namespaces, err := json.Marshal(sess.Namespaces)
	if err != nil {
		m.log.Warn("marshaling session namespaces failed", "topic", sess.Topic, "error", err)
		return
	}
	err = m.store.PutSession(storage.SessionRecord{
		Topic:      sess.Topic,
		SymKey:     hex.EncodeToString(symKey),
		PeerName:   sess.Peer.Name,
		PeerURL:    sess.Peer.URL,
		Address:    sess.Address,
		Namespaces: namespaces,
		Expiry:     sess.Expiry.Unix(),
		CreatedAt:  time.Now().Unix(),
	})
	if err != nil {
		m.log.Warn("persisting session failed", "topic", sess.Topic, "error", err)
	}
}

// publish seals one protocol message and hands it to the relay.
func (m *Manager) publish(ctx context.Context, topic string, symKey []byte, msg rpcMessage, tag int64, ttl time.Duration) error {
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling session message: %w", err)
	}
	sealed, err := sealEnvelope(symKey, plaintext)
	if err != nil {
		return fmt.Errorf("sealing session message: %w", err)
	}
	return m.relay.Publish(ctx, topic, sealed, tag, ttl)
}

// reply publishes a response from the pump or a request goroutine, where
// there is no caller left to hand an error to.
func (m *Manager) reply(topic string, symKey []byte, msg rpcMessage, tag int64) {
	if err := m.publish(m.ctx, topic, symKey, msg, tag, envelopeTTL); err != nil {
		m.log.Warn("session reply failed", "topic", topic, "error", err)
	}
}

func (m *Manager) id() int64 {
	return m.nextID.Add(1)
}

func (m *Manager) notifySessionsChanged() {
	if m.onSessionsChanged != nil {
		m.onSessionsChanged()
	}
}
