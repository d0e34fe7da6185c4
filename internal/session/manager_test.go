package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glide-wallet/glide-wallet/internal/chains"
	"github.com/glide-wallet/glide-wallet/internal/events"
	"github.com/glide-wallet/glide-wallet/internal/relay"
	"github.com/glide-wallet/glide-wallet/internal/router"
	"github.com/glide-wallet/glide-wallet/internal/storage"
	"github.com/glide-wallet/glide-wallet/pkg/rpcerr"
	"github.com/glide-wallet/glide-wallet/pkg/wire"
)

const (
	addressA = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	addressB = "0x1111111111111111111111111111111111111111"
)

// testRelay hands the manager's publishes to the test and lets the test
// inject inbound traffic, standing in for the relay network.
type publishedMessage struct {
	Topic   string
	Message string
	Tag     int64
	TTL     time.Duration
}

type testRelay struct {
	mu        sync.Mutex
	subs      map[string]bool
	inbound   chan relay.Inbound
	published chan publishedMessage
}

func newTestRelay() *testRelay {
	return &testRelay{
		subs:      make(map[string]bool),
		inbound:   make(chan relay.Inbound, 16),
		published: make(chan publishedMessage, 32),
	}
}

func (r *testRelay) Subscribe(_ context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[topic] = true
	return nil
}

func (r *testRelay) Unsubscribe(_ context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, topic)
	return nil
}

func (r *testRelay) Publish(_ context.Context, topic, message string, tag int64, ttl time.Duration) error {
	r.published <- publishedMessage{Topic: topic, Message: message, Tag: tag, TTL: ttl}
	return nil
}

func (r *testRelay) Messages() <-chan relay.Inbound { return r.inbound }

func (r *testRelay) Close() error { return nil }

func (r *testRelay) subscribed(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[topic]
}

func (r *testRelay) deliver(topic, message string, tag int64) {
	r.inbound <- relay.Inbound{Topic: topic, Message: message, Tag: tag}
}

func (r *testRelay) awaitPublish(t *testing.T) publishedMessage {
	t.Helper()
	select {
	case msg := <-r.published:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a relay publish")
		return publishedMessage{}
	}
}

func (r *testRelay) expectNoPublish(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-r.published:
		t.Fatalf("unexpected publish on %s with tag %d", msg.Topic, msg.Tag)
	case <-time.After(wait):
	}
}

// stubHandler records what the manager routes into the wallet.
type stubHandler struct {
	mu       sync.Mutex
	calls    []router.Call
	handle   func(ctx context.Context, call router.Call) (any, error)
	accounts []string
	chain    int64
}

func (h *stubHandler) Handle(ctx context.Context, call router.Call) (any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	handle := h.handle
	h.mu.Unlock()

	if handle != nil {
		return handle(ctx, call)
	}
	return "ok", nil
}

func (h *stubHandler) Accounts() []string { return h.accounts }

func (h *stubHandler) ActiveChain() int64 { return h.chain }

func (h *stubHandler) recorded() []router.Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]router.Call{}, h.calls...)
}

// dappPeer plays the remote dApp: it owns the pairing key, runs its half of
// the key agreement, and seals and opens envelopes like a real peer.
type dappPeer struct {
	kp           keyPair
	metadata     Metadata
	pairingKey   []byte
	pairingTopic string
	sessionKey   []byte
	sessionTopic string
}

func newDappPeer(t *testing.T) *dappPeer {
	t.Helper()

	kp, err := newKeyPair()
	require.NoError(t, err)
	pairingKey := make([]byte, symKeySize)
	_, err = rand.Read(pairingKey)
	require.NoError(t, err)

	return &dappPeer{
		kp: kp,
		metadata: Metadata{
			Name:        "Example Swap",
			Description: "Token swaps",
			URL:         "https://swap.example.org",
			Icons:       []string{"https://swap.example.org/icon.png"},
		},
		pairingKey:   pairingKey,
		pairingTopic: topicFor(pairingKey),
	}
}

func (d *dappPeer) uri() string {
	return fmt.Sprintf("wc:%s@2?relay-protocol=irn&symKey=%s", d.pairingTopic, hex.EncodeToString(d.pairingKey))
}

func (d *dappPeer) seal(t *testing.T, key []byte, msg rpcMessage) string {
	t.Helper()
	plaintext, err := json.Marshal(msg)
	require.NoError(t, err)
	sealed, err := sealEnvelope(key, plaintext)
	require.NoError(t, err)
	return sealed
}

func (d *dappPeer) open(t *testing.T, key []byte, sealed string) rpcMessage {
	t.Helper()
	plaintext, err := openEnvelope(key, sealed)
	require.NoError(t, err)
	var msg rpcMessage
	require.NoError(t, json.Unmarshal(plaintext, &msg))
	return msg
}

func (d *dappPeer) propose(t *testing.T, id int64, required, optional Namespaces) string {
	t.Helper()
	msg, err := newRPCRequest(id, methodSessionPropose, proposeParams{
		Relays: []relayInfo{{Protocol: "irn"}},
		Proposer: participant{
			PublicKey: hex.EncodeToString(d.kp.public[:]),
			Metadata:  d.metadata,
		},
		RequiredNamespaces: required,
		OptionalNamespaces: optional,
	})
	require.NoError(t, err)
	return d.seal(t, d.pairingKey, msg)
}

func (d *dappPeer) request(t *testing.T, id int64, chainRef, method, params string) string {
	t.Helper()
	var body requestParams
	body.Request.Method = method
	body.Request.Params = json.RawMessage(params)
	body.ChainID = chainRef

	msg, err := newRPCRequest(id, methodSessionRequest, body)
	require.NoError(t, err)
	return d.seal(t, d.sessionKey, msg)
}

// completeSettlement consumes the wallet's proposal answer and settle
// message, deriving the dApp's copy of the session key along the way.
func (d *dappPeer) completeSettlement(t *testing.T, r *testRelay) settleParams {
	t.Helper()

	reply := r.awaitPublish(t)
	require.Equal(t, tagSessionProposeReply, reply.Tag)
	require.Equal(t, d.pairingTopic, reply.Topic)
	answer := d.open(t, d.pairingKey, reply.Message)
	require.Nil(t, answer.Error)
	var result proposeResult
	require.NoError(t, json.Unmarshal(answer.Result, &result))

	sessionKey, err := deriveSymKey(d.kp, result.ResponderPublicKey)
	require.NoError(t, err)
	d.sessionKey = sessionKey
	d.sessionTopic = topicFor(sessionKey)

	settle := r.awaitPublish(t)
	require.Equal(t, tagSessionSettle, settle.Tag)
	require.Equal(t, d.sessionTopic, settle.Topic)
	settleMsg := d.open(t, d.sessionKey, settle.Message)
	require.Equal(t, methodSessionSettle, settleMsg.Method)
	var params settleParams
	require.NoError(t, json.Unmarshal(settleMsg.Params, &params))
	return params
}

type managerFixture struct {
	manager   *Manager
	relay     *testRelay
	handler   *stubHandler
	bus       *events.Bus
	store     *storage.LevelDB
	proposals chan Proposal
	changes   chan struct{}
	closeOnce sync.Once
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	return newManagerFixtureWithStore(t, store)
}

func newManagerFixtureWithStore(t *testing.T, store *storage.LevelDB) *managerFixture {
	t.Helper()

	fx := &managerFixture{
		relay:     newTestRelay(),
		handler:   &stubHandler{accounts: []string{addressA}, chain: 1},
		bus:       events.NewBus(),
		store:     store,
		proposals: make(chan Proposal, 8),
		changes:   make(chan struct{}, 8),
	}

	manager, err := New(context.Background(), Config{
		Relay:    fx.relay,
		Handler:  fx.handler,
		Registry: chains.NewRegistry(nil),
		Store:    store,
		Bus:      fx.bus,
		Metadata: Metadata{Name: "Glide Wallet", URL: "https://glide.example.org"},
		OnProposal: func(p Proposal) {
			fx.proposals <- p
		},
		OnSessionsChanged: func() {
			select {
			case fx.changes <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)
	fx.manager = manager

	t.Cleanup(func() { fx.close(t) })
	return fx
}

func (fx *managerFixture) close(t *testing.T) {
	t.Helper()
	fx.closeOnce.Do(func() {
		require.NoError(t, fx.manager.Close())
		require.NoError(t, fx.bus.Close())
		require.NoError(t, fx.store.Close())
	})
}

func (fx *managerFixture) awaitProposal(t *testing.T) Proposal {
	t.Helper()
	select {
	case p := <-fx.proposals:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session proposal")
		return Proposal{}
	}
}

func (fx *managerFixture) awaitSessionsChanged(t *testing.T) {
	t.Helper()
	select {
	case <-fx.changes:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session list change")
	}
}

func requiredNamespaces() Namespaces {
	return Namespaces{
		"eip155": {
			Chains:  []string{"eip155:1"},
			Methods: []string{"personal_sign", "eth_sendTransaction", "wallet_switchEthereumChain"},
			Events:  []string{"accountsChanged", "chainChanged"},
		},
	}
}

func optionalNamespaces() Namespaces {
	return Namespaces{
		"eip155": {
			Chains:  []string{"eip155:137"},
			Methods: []string{"eth_signTypedData_v4"},
			Events:  []string{},
		},
	}
}

func establishSession(t *testing.T, fx *managerFixture, d *dappPeer) Session {
	t.Helper()

	require.NoError(t, fx.manager.Pair(context.Background(), d.uri()))
	fx.relay.deliver(d.pairingTopic, d.propose(t, 7001, requiredNamespaces(), optionalNamespaces()), tagSessionPropose)
	proposal := fx.awaitProposal(t)

	sess, err := fx.manager.Approve(context.Background(), proposal.ID)
	require.NoError(t, err)
	d.completeSettlement(t, fx.relay)
	fx.awaitSessionsChanged(t)
	return sess
}

func TestPairSubscribesPairingTopic(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)

	require.NoError(t, fx.manager.Pair(context.Background(), d.uri()))
	assert.True(t, fx.relay.subscribed(d.pairingTopic))

	require.Error(t, fx.manager.Pair(context.Background(), "wc:broken"))
}

func TestProposalReachesHolder(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)

	require.NoError(t, fx.manager.Pair(context.Background(), d.uri()))
	fx.relay.deliver(d.pairingTopic, d.propose(t, 4242, requiredNamespaces(), nil), tagSessionPropose)

	proposal := fx.awaitProposal(t)
	assert.EqualValues(t, 4242, proposal.ID)
	assert.Equal(t, d.pairingTopic, proposal.PairingTopic)
	assert.Equal(t, "Example Swap", proposal.Proposer.Name)
	assert.Equal(t, hex.EncodeToString(d.kp.public[:]), proposal.ProposerKey)

	pending := fx.manager.Proposals()
	require.Len(t, pending, 1)
	assert.EqualValues(t, 4242, pending[0].ID)
}

func TestApproveSettlesSession(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)

	require.NoError(t, fx.manager.Pair(context.Background(), d.uri()))
	fx.relay.deliver(d.pairingTopic, d.propose(t, 7001, requiredNamespaces(), optionalNamespaces()), tagSessionPropose)
	proposal := fx.awaitProposal(t)

	sess, err := fx.manager.Approve(context.Background(), proposal.ID)
	require.NoError(t, err)
	settled := d.completeSettlement(t, fx.relay)
	fx.awaitSessionsChanged(t)

	assert.Equal(t, d.sessionTopic, sess.Topic)
	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, addressA, sess.Address)
	assert.True(t, fx.relay.subscribed(sess.Topic))

	assert.Equal(t, "Glide Wallet", settled.Controller.Metadata.Name)
	assert.Equal(t, sess.Namespaces, settled.Namespaces)
	assert.WithinDuration(t,
		time.Now().Add(sessionTTL),
		time.Unix(settled.Expiry, 0),
		time.Minute,
	)
	assert.Contains(t, settled.Namespaces["eip155"].Accounts, "eip155:1:"+addressA)
	assert.Contains(t, settled.Namespaces["eip155"].Chains, "eip155:137")

	assert.Empty(t, fx.manager.Proposals())
	require.Len(t, fx.manager.Sessions(), 1)

	stored, err := fx.store.GetSession(sess.Topic)
	require.NoError(t, err)
	assert.Equal(t, addressA, stored.Address)
	assert.Equal(t, "Example Swap", stored.PeerName)
}

func TestApproveUnknownProposal(t *testing.T) {
	fx := newManagerFixture(t)

	_, err := fx.manager.Approve(context.Background(), 999)
	require.ErrorContains(t, err, "unknown proposal")
}

func TestApproveUnsatisfiableProposalStaysPending(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)

	greedy := Namespaces{
		"eip155": {
			Chains:  []string{"eip155:999999"},
			Methods: []string{"personal_sign"},
			Events:  []string{"accountsChanged"},
		},
	}
	require.NoError(t, fx.manager.Pair(context.Background(), d.uri()))
	fx.relay.deliver(d.pairingTopic, d.propose(t, 7002, greedy, nil), tagSessionPropose)
	proposal := fx.awaitProposal(t)

	_, err := fx.manager.Approve(context.Background(), proposal.ID)
	require.ErrorContains(t, err, "unsupported chains")
	require.Len(t, fx.manager.Proposals(), 1)

	// The holder can still turn it down cleanly.
	require.NoError(t, fx.manager.Reject(context.Background(), proposal.ID))
	reply := fx.relay.awaitPublish(t)
	assert.Equal(t, tagSessionProposeReply, reply.Tag)
	answer := d.open(t, d.pairingKey, reply.Message)
	require.NotNil(t, answer.Error)
	assert.Equal(t, rpcerr.CodeUserRejected, answer.Error.Code)
	assert.Empty(t, fx.manager.Proposals())
}

func TestRejectAnswersPeer(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)

	require.NoError(t, fx.manager.Pair(context.Background(), d.uri()))
	fx.relay.deliver(d.pairingTopic, d.propose(t, 7003, requiredNamespaces(), nil), tagSessionPropose)
	proposal := fx.awaitProposal(t)

	require.NoError(t, fx.manager.Reject(context.Background(), proposal.ID))

	reply := fx.relay.awaitPublish(t)
	assert.Equal(t, d.pairingTopic, reply.Topic)
	answer := d.open(t, d.pairingKey, reply.Message)
	assert.EqualValues(t, 7003, answer.ID)
	require.NotNil(t, answer.Error)
	assert.Equal(t, rpcerr.CodeUserRejected, answer.Error.Code)

	assert.Empty(t, fx.manager.Proposals())
	assert.Empty(t, fx.manager.Sessions())
}

func TestSessionRequestRoutesThroughWallet(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	params := `["0x48656c6c6f","` + addressA + `"]`
	fx.relay.deliver(d.sessionTopic, d.request(t, 9001, "eip155:1", "personal_sign", params), tagSessionRequest)

	reply := fx.relay.awaitPublish(t)
	assert.Equal(t, tagSessionRequestReply, reply.Tag)
	assert.Equal(t, d.sessionTopic, reply.Topic)

	msg := d.open(t, d.sessionKey, reply.Message)
	assert.EqualValues(t, 9001, msg.ID)
	require.Nil(t, msg.Error)
	var result string
	require.NoError(t, json.Unmarshal(msg.Result, &result))
	assert.Equal(t, "ok", result)

	calls := fx.handler.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "personal_sign", calls[0].Method)
	assert.JSONEq(t, params, string(calls[0].Params))
	assert.Equal(t, "session", calls[0].Origin.Transport)
	assert.Equal(t, "Example Swap", calls[0].Origin.Name)
	assert.Equal(t, "https://swap.example.org", calls[0].Origin.URL)
}

func TestSessionRequestErrorPassesThrough(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	fx.handler.handle = func(context.Context, router.Call) (any, error) {
		return nil, rpcerr.ErrUserRejected
	}
	fx.relay.deliver(d.sessionTopic, d.request(t, 9002, "eip155:1", "personal_sign", `["0x00","`+addressA+`"]`), tagSessionRequest)

	msg := d.open(t, d.sessionKey, fx.relay.awaitPublish(t).Message)
	assert.EqualValues(t, 9002, msg.ID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, rpcerr.CodeUserRejected, msg.Error.Code)
}

func TestSessionRequestUnapprovedMethodDenied(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	fx.relay.deliver(d.sessionTopic, d.request(t, 9003, "eip155:1", "eth_coinbase", `[]`), tagSessionRequest)

	msg := d.open(t, d.sessionKey, fx.relay.awaitPublish(t).Message)
	require.NotNil(t, msg.Error)
	assert.Equal(t, rpcerr.CodeUnauthorized, msg.Error.Code)
	assert.Empty(t, fx.handler.recorded())
}

func TestSessionRequestUnapprovedChainDenied(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	// BNB Chain is one the wallet supports but this session never approved.
	fx.relay.deliver(d.sessionTopic, d.request(t, 9004, "eip155:56", "personal_sign", `["0x00","`+addressA+`"]`), tagSessionRequest)

	msg := d.open(t, d.sessionKey, fx.relay.awaitPublish(t).Message)
	require.NotNil(t, msg.Error)
	assert.Equal(t, rpcerr.CodeUnauthorized, msg.Error.Code)
	assert.Empty(t, fx.handler.recorded())
}

func TestSessionRequestForeignChainDenied(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	// Polygon is approved for the session but the wallet is active on
	// mainnet, so anything but a switch request bounces.
	fx.relay.deliver(d.sessionTopic, d.request(t, 9005, "eip155:137", "personal_sign", `["0x00","`+addressA+`"]`), tagSessionRequest)

	msg := d.open(t, d.sessionKey, fx.relay.awaitPublish(t).Message)
	require.NotNil(t, msg.Error)
	assert.Equal(t, rpcerr.CodeChainDisconnected, msg.Error.Code)
	assert.Empty(t, fx.handler.recorded())
}

func TestSessionSwitchChainRequestRoutes(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	fx.relay.deliver(d.sessionTopic, d.request(t, 9006, "eip155:137", "wallet_switchEthereumChain", `[{"chainId":"0x89"}]`), tagSessionRequest)

	msg := d.open(t, d.sessionKey, fx.relay.awaitPublish(t).Message)
	assert.EqualValues(t, 9006, msg.ID)
	assert.Nil(t, msg.Error)

	calls := fx.handler.recorded()
	require.Len(t, calls, 1)
	assert.Equal(t, "wallet_switchEthereumChain", calls[0].Method)
}

func TestPeerDeleteDisconnectsSession(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	sess := establishSession(t, fx, d)

	farewell, err := newRPCRequest(9100, methodSessionDelete, deleteParams{Code: 6000, Message: "User disconnected."})
	require.NoError(t, err)
	fx.relay.deliver(d.sessionTopic, d.seal(t, d.sessionKey, farewell), tagSessionDelete)

	ack := fx.relay.awaitPublish(t)
	assert.Equal(t, tagSessionDeleteReply, ack.Tag)
	msg := d.open(t, d.sessionKey, ack.Message)
	assert.EqualValues(t, 9100, msg.ID)

	fx.awaitSessionsChanged(t)
	require.Eventually(t, func() bool {
		return len(fx.manager.Sessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = fx.store.GetSession(sess.Topic)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, fx.relay.subscribed(sess.Topic))
}

func TestDisconnectTellsPeer(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	sess := establishSession(t, fx, d)

	require.NoError(t, fx.manager.Disconnect(context.Background(), sess.Topic))

	farewell := fx.relay.awaitPublish(t)
	assert.Equal(t, tagSessionDelete, farewell.Tag)
	assert.Equal(t, d.sessionTopic, farewell.Topic)
	msg := d.open(t, d.sessionKey, farewell.Message)
	assert.Equal(t, methodSessionDelete, msg.Method)
	var params deleteParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, 6000, params.Code)

	fx.awaitSessionsChanged(t)
	assert.Empty(t, fx.manager.Sessions())
	_, err := fx.store.GetSession(sess.Topic)
	require.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, fx.relay.subscribed(sess.Topic))

	require.ErrorContains(t, fx.manager.Disconnect(context.Background(), sess.Topic), "unknown session")
}

func TestUpdateAccountPropagatesWithoutTeardown(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	sess := establishSession(t, fx, d)

	require.NoError(t, fx.manager.UpdateAccount(context.Background(), addressB))

	event := fx.relay.awaitPublish(t)
	assert.Equal(t, tagSessionEvent, event.Tag)
	assert.Equal(t, d.sessionTopic, event.Topic)
	msg := d.open(t, d.sessionKey, event.Message)
	require.Equal(t, methodSessionEvent, msg.Method)

	var got struct {
		Event struct {
			Name string   `json:"name"`
			Data []string `json:"data"`
		} `json:"event"`
		ChainID string `json:"chainId"`
	}
	require.NoError(t, json.Unmarshal(msg.Params, &got))
	assert.Equal(t, "accountsChanged", got.Event.Name)
	assert.Equal(t, []string{addressB}, got.Event.Data)
	assert.Equal(t, "eip155:1", got.ChainID)

	sessions := fx.manager.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, StatusActive, sessions[0].Status)
	assert.Equal(t, addressB, sessions[0].Address)
	assert.Contains(t, sessions[0].Namespaces["eip155"].Accounts, "eip155:1:"+addressB)

	stored, err := fx.store.GetSession(sess.Topic)
	require.NoError(t, err)
	assert.Equal(t, addressB, stored.Address)
}

func TestUpdateAccountConcurrentSwitches(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	// Drain the relay so no publish blocks while the switches race.
	done := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			select {
			case <-fx.relay.published:
			case <-done:
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for _, address := range []string{addressA, addressB} {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				assert.NoError(t, fx.manager.UpdateAccount(context.Background(), address))
			}
		}(address)
	}
	wg.Wait()
	close(done)
	<-drained

	// Whichever switch landed last, the session is intact and scoped to one
	// of the two addresses, in memory and on disk alike.
	sessions := fx.manager.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, StatusActive, sessions[0].Status)
	assert.Contains(t, []string{addressA, addressB}, sessions[0].Address)

	stored, err := fx.store.GetSession(sessions[0].Topic)
	require.NoError(t, err)
	assert.Contains(t, []string{addressA, addressB}, stored.Address)
}

func TestChainSwitchReachesSessions(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	require.NoError(t, fx.bus.Publish(wire.EventChainChanged, "0x89"))

	event := fx.relay.awaitPublish(t)
	assert.Equal(t, tagSessionEvent, event.Tag)
	msg := d.open(t, d.sessionKey, event.Message)
	require.Equal(t, methodSessionEvent, msg.Method)

	var got struct {
		Event struct {
			Name string `json:"name"`
			Data string `json:"data"`
		} `json:"event"`
		ChainID string `json:"chainId"`
	}
	require.NoError(t, json.Unmarshal(msg.Params, &got))
	assert.Equal(t, "chainChanged", got.Event.Name)
	assert.Equal(t, "0x89", got.Event.Data)
	assert.Equal(t, "eip155:137", got.ChainID)
}

func TestRestoreReloadsPersistedSessions(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.Open(dir)
	require.NoError(t, err)
	fx := newManagerFixtureWithStore(t, store)
	d := newDappPeer(t)
	sess := establishSession(t, fx, d)
	fx.close(t)

	reopened, err := storage.Open(dir)
	require.NoError(t, err)
	require.NoError(t, reopened.PutSession(storage.SessionRecord{
		Topic:      "expired00",
		SymKey:     strings.Repeat("ab", 32),
		Namespaces: json.RawMessage(`{}`),
		Expiry:     time.Now().Add(-time.Hour).Unix(),
	}))
	fresh := newManagerFixtureWithStore(t, reopened)

	sessions := fresh.manager.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, sess.Topic, sessions[0].Topic)
	assert.Equal(t, StatusActive, sessions[0].Status)
	assert.Equal(t, "Example Swap", sessions[0].Peer.Name)
	assert.True(t, fresh.relay.subscribed(sess.Topic))

	_, err = reopened.GetSession("expired00")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// The peer kept its key, so requests flow again without re-pairing.
	fresh.relay.deliver(d.sessionTopic, d.request(t, 9200, "eip155:1", "personal_sign", `["0x00","`+addressA+`"]`), tagSessionRequest)
	msg := d.open(t, d.sessionKey, fresh.relay.awaitPublish(t).Message)
	assert.EqualValues(t, 9200, msg.ID)
	assert.Nil(t, msg.Error)
}

func TestMalformedTrafficIsDropped(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	require.NoError(t, fx.manager.Pair(context.Background(), d.uri()))

	wrongKey := make([]byte, symKeySize)
	wrongKey[3] = 7
	forged, err := sealEnvelope(wrongKey, []byte(`{"id":1,"method":"wc_sessionPropose"}`))
	require.NoError(t, err)
	garbledJSON, err := sealEnvelope(d.pairingKey, []byte("not json"))
	require.NoError(t, err)

	fx.relay.deliver(d.pairingTopic, "not base64 at all", tagSessionPropose)
	fx.relay.deliver(d.pairingTopic, forged, tagSessionPropose)
	fx.relay.deliver(d.pairingTopic, garbledJSON, tagSessionPropose)
	fx.relay.deliver("unknown-topic", forged, tagSessionRequest)

	fx.relay.expectNoPublish(t, 150*time.Millisecond)

	// The pump survived all of it.
	ping, err := newRPCRequest(9300, methodSessionPing, nil)
	require.NoError(t, err)
	fx.relay.deliver(d.pairingTopic, d.seal(t, d.pairingKey, ping), tagSessionPing)

	reply := fx.relay.awaitPublish(t)
	assert.Equal(t, tagSessionPingReply, reply.Tag)
	msg := d.open(t, d.pairingKey, reply.Message)
	assert.EqualValues(t, 9300, msg.ID)
}

func TestCloseCancelsInflightRequests(t *testing.T) {
	fx := newManagerFixture(t)
	d := newDappPeer(t)
	establishSession(t, fx, d)

	started := make(chan struct{})
	fx.handler.handle = func(ctx context.Context, _ router.Call) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fx.relay.deliver(d.sessionTopic, d.request(t, 9400, "eip155:1", "personal_sign", `["0x00","`+addressA+`"]`), tagSessionRequest)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request never reached the handler")
	}

	closed := make(chan error, 1)
	go func() { closed <- fx.manager.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on an in-flight request")
	}

	// The suspended request resolved with an error instead of hanging.
	msg := d.open(t, d.sessionKey, fx.relay.awaitPublish(t).Message)
	assert.EqualValues(t, 9400, msg.ID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, rpcerr.CodeInternal, msg.Error.Code)
}
