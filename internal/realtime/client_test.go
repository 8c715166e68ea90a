package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuslink/matchmaker/internal/auth"
	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/presence"
)

type call struct {
	method string
	args   []interface{}
}

type fakeCoordinator struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeCoordinator) record(method string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method: method, args: args})
}

func (f *fakeCoordinator) Connect(connID string, _ presence.Notifier) { f.record("Connect", connID) }
func (f *fakeCoordinator) Login(connID, stableID string)            { f.record("Login", connID, stableID) }
func (f *fakeCoordinator) JoinQueue(connID string, req presence.JoinRequest) {
	f.record("JoinQueue", connID, req)
}
func (f *fakeCoordinator) LeaveQueue(connID string)      { f.record("LeaveQueue", connID) }
func (f *fakeCoordinator) StopCall(connID string)        { f.record("StopCall", connID) }
func (f *fakeCoordinator) Skip(connID string)            { f.record("Skip", connID) }
func (f *fakeCoordinator) GetTokenBalance(connID string) { f.record("GetTokenBalance", connID) }
func (f *fakeCoordinator) AddTokens(connID string, tier models.Tier, amount int) {
	f.record("AddTokens", connID, tier, amount)
}
func (f *fakeCoordinator) Relay(connID, event, roomID string, payload json.RawMessage) {
	f.record("Relay", connID, event, roomID, string(payload))
}
func (f *fakeCoordinator) Disconnect(connID string) { f.record("Disconnect", connID) }

func newTestClient(coord Coordinator) *Client {
	return newClient("c1", NewHub(nil, nil), coord, nil, Limits{}, zap.NewNop())
}

func msg(event, data string) WSMessage {
	return WSMessage{Event: event, Data: json.RawMessage(data)}
}

func TestDispatch(t *testing.T) {
	coord := &fakeCoordinator{}
	c := newTestClient(coord)

	c.dispatch(msg("login", `{"stable_id":"uid-1"}`))
	c.dispatch(msg("login", `{}`))
	c.dispatch(msg("join_queue", `{"name":"Asha","branch":"CSE","gender":"Female","mode":"text","tier":"golden","hobbies":["music"],"filters":{"branch":"ECE"}}`))
	c.dispatch(msg("join_queue", `not json`))
	c.dispatch(msg("leave_queue", ``))
	c.dispatch(msg("stop_call", ``))
	c.dispatch(msg("skip", ``))
	c.dispatch(msg("get_token_balance", ``))
	c.dispatch(msg("add_tokens", `{"type":"regular","amount":10}`))
	c.dispatch(msg("offer", `{"room_id":"a:b","payload":{"type":"offer","sdp":"v=0"}}`))
	c.dispatch(msg("answer", `{"room_id":"a:b","payload":{"type":"offer","sdp":"v=0"}}`))
	c.dispatch(msg("message", `{"payload":"hi"}`))
	c.dispatch(msg("message", `{"room_id":"a:b","payload":"hi"}`))
	c.dispatch(msg("unknown", `{}`))

	want := []string{"Login", "JoinQueue", "LeaveQueue", "StopCall", "Skip", "GetTokenBalance", "AddTokens", "Relay", "Relay"}
	var got []string
	for _, cl := range coord.calls {
		got = append(got, cl.method)
	}
	require.Equal(t, want, got)

	assert.Equal(t, []interface{}{"c1", "uid-1"}, coord.calls[0].args)
	req := coord.calls[1].args[1].(presence.JoinRequest)
	assert.Equal(t, "Asha", req.Name)
	assert.Equal(t, models.ModeText, req.Mode)
	assert.Equal(t, models.TierGolden, req.Tier)
	assert.Equal(t, []string{"music"}, req.Hobbies)
	assert.Equal(t, "ECE", req.Filters.Branch)
	assert.Equal(t, []interface{}{"c1", models.TierRegular, 10}, coord.calls[6].args)
	assert.Equal(t, []interface{}{"c1", "offer", "a:b", `{"type":"offer","sdp":"v=0"}`}, coord.calls[7].args)
	assert.Equal(t, []interface{}{"c1", "message", "a:b", `"hi"`}, coord.calls[8].args)
}

func TestLoginRequiresIdentityToken(t *testing.T) {
	jwtSvc := auth.NewJWTService("test-secret", 1)
	own, err := jwtSvc.Generate("uid-1", "user")
	require.NoError(t, err)
	other, err := jwtSvc.Generate("uid-2", "user")
	require.NoError(t, err)
	forged, err := auth.NewJWTService("other-secret", 1).Generate("uid-1", "user")
	require.NoError(t, err)

	coord := &fakeCoordinator{}
	c := newTestClient(coord)
	c.identity = jwtSvc

	c.dispatch(msg("login", `{"stable_id":"uid-1"}`))
	c.dispatch(msg("login", `{"stable_id":"uid-1","token":"`+other+`"}`))
	c.dispatch(msg("login", `{"stable_id":"uid-1","token":"`+forged+`"}`))
	c.dispatch(msg("login", `{"stable_id":"uid-1","token":"not-a-jwt"}`))
	require.Empty(t, coord.calls)

	c.dispatch(msg("login", `{"stable_id":"uid-1","token":"`+own+`"}`))
	require.Len(t, coord.calls, 1)
	assert.Equal(t, call{method: "Login", args: []interface{}{"c1", "uid-1"}}, coord.calls[0])
}

func TestJoinQueueWithoutPayload(t *testing.T) {
	coord := &fakeCoordinator{}
	c := newTestClient(coord)
	c.dispatch(WSMessage{Event: "join_queue"})
	require.Len(t, coord.calls, 1)
	assert.Equal(t, presence.JoinRequest{}, coord.calls[0].args[1])
}

func TestRateLimitedClient(t *testing.T) {
	c := newClient("c1", NewHub(nil, nil), &fakeCoordinator{}, nil, Limits{EventsPerSec: 1, Burst: 2}, zap.NewNop())
	allowed := 0
	for i := 0; i < 5; i++ {
		if c.limiter.Allow() {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func next(t *testing.T, c *Client) (string, map[string]interface{}) {
	t.Helper()
	select {
	case m := <-c.send:
		var data map[string]interface{}
		require.NoError(t, json.Unmarshal(m.Data, &data))
		return m.Event, data
	default:
		t.Fatal("no message queued")
		return "", nil
	}
}

func TestNotifierEnvelopes(t *testing.T) {
	c := newTestClient(&fakeCoordinator{})

	c.MatchFound(models.PartnerInfo{Name: "Ravi", Branch: "ECE", Gender: "Male"}, "a:b", true)
	ev, data := next(t, c)
	assert.Equal(t, EventMatchFound, ev)
	assert.Equal(t, "a:b", data["room_id"])
	assert.Equal(t, true, data["is_initiator"])
	assert.Equal(t, "Ravi", data["partner"].(map[string]interface{})["name"])

	c.PartnerDisconnected(models.ReasonSkip)
	ev, data = next(t, c)
	assert.Equal(t, EventPartnerDisconnected, ev)
	assert.Equal(t, "skip", data["reason"])

	c.InsufficientTokens("no tokens", models.TokenBalance{})
	ev, data = next(t, c)
	assert.Equal(t, EventInsufficientTokens, ev)
	assert.Equal(t, "no tokens", data["message"])
	assert.Equal(t, float64(0), data["balance"].(map[string]interface{})["free_trials"])

	c.PurchaseSuccess(models.TierGolden, 3)
	ev, data = next(t, c)
	assert.Equal(t, EventPurchaseSuccess, ev)
	assert.Equal(t, "golden", data["type"])
	assert.Equal(t, float64(3), data["amount"])

	c.Relay(EventAnswer, "a:b", json.RawMessage(`{"type":"answer","sdp":"v=0"}`))
	ev, data = next(t, c)
	assert.Equal(t, EventAnswer, ev)
	assert.Equal(t, "a:b", data["room_id"])
}

func TestSendBufferFullDropsMessages(t *testing.T) {
	c := newTestClient(&fakeCoordinator{})
	for i := 0; i < cap(c.send)+10; i++ {
		c.MatchError("x")
	}
	assert.Len(t, c.send, cap(c.send))
}

type fakeStatsPublisher struct {
	payloads [][]byte
	err      error
}

func (f *fakeStatsPublisher) PublishStats(payload []byte) error {
	f.payloads = append(f.payloads, payload)
	return f.err
}

func TestHubPublishStats(t *testing.T) {
	pub := &fakeStatsPublisher{err: errors.New("redis down")}
	hub := NewHub(nil, pub)
	a := newClient("a", hub, &fakeCoordinator{}, nil, Limits{}, zap.NewNop())
	b := newClient("b", hub, &fakeCoordinator{}, nil, Limits{}, zap.NewNop())
	hub.Register(a)
	hub.Register(b)
	require.Equal(t, 2, hub.Count())

	hub.PublishStats(models.AggregateStats{TotalUsers: 10, Online: 2, Idle: 2})

	for _, c := range []*Client{a, b} {
		ev, data := next(t, c)
		assert.Equal(t, EventServerStats, ev)
		assert.Equal(t, float64(2), data["online"])
	}
	require.Len(t, pub.payloads, 1)
	assert.JSONEq(t, `{"total_users":10,"online":2,"idle":2,"on_call":0,"queued":0}`, string(pub.payloads[0]))

	hub.Unregister(a)
	assert.Equal(t, 1, hub.Count())
}

func TestDecodeBalanceChange(t *testing.T) {
	raw := `{"event":"balance_change","data":{"stable_id":"u1","balance":{"free_trials":1,"regular_tokens":2,"golden_tokens":3,"total_chats_used":4},"tier":"golden","amount":3},"at":1}`
	change, err := decodeBalanceChange(raw)
	require.NoError(t, err)
	assert.Equal(t, models.BalanceChange{
		StableID: "u1",
		Balance:  models.TokenBalance{FreeTrials: 1, RegularTokens: 2, GoldenTokens: 3, TotalChatsUsed: 4},
		Tier:     models.TierGolden,
		Amount:   3,
	}, change)

	_, err = decodeBalanceChange(`{"event":"balance_change","data":"oops"}`)
	assert.Error(t, err)
}
