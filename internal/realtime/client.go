package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/campuslink/matchmaker/internal/auth"
	"github.com/campuslink/matchmaker/internal/models"
	"github.com/campuslink/matchmaker/internal/presence"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Outbound event names.
const (
	EventMatchFound          = "match_found"
	EventPartnerDisconnected = "partner_disconnected"
	EventTokenBalanceUpdate  = "token_balance_update"
	EventInsufficientTokens  = "insufficient_tokens"
	EventMatchError          = "match_error"
	EventPurchaseSuccess     = "purchase_success"
	EventICEServers          = "ice_servers"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Coordinator is the event surface of the presence coordinator used by a client.
type Coordinator interface {
	Connect(connID string, notify presence.Notifier)
	Login(connID, stableID string)
	JoinQueue(connID string, req presence.JoinRequest)
	LeaveQueue(connID string)
	StopCall(connID string)
	Skip(connID string)
	GetTokenBalance(connID string)
	AddTokens(connID string, tier models.Tier, amount int)
	Relay(connID, event, roomID string, payload json.RawMessage)
	Disconnect(connID string)
}

// Limits bounds inbound traffic per connection.
type Limits struct {
	EventsPerSec float64
	Burst        int
}

// IdentityVerifier checks the identity token sent with login. *auth.JWTService implements it.
type IdentityVerifier interface {
	Validate(token string) (*auth.Claims, error)
}

type loginPayload struct {
	StableID string `json:"stable_id"`
	Token    string `json:"token,omitempty"`
}

type addTokensPayload struct {
	Type   models.Tier `json:"type"`
	Amount int         `json:"amount"`
}

type relayPayload struct {
	RoomID  string          `json:"room_id"`
	Payload json.RawMessage `json:"payload"`
}

// Client is one WebSocket connection. It is the presence.Notifier of its participant.
type Client struct {
	ID      string
	hub     *Hub
	coord   Coordinator
	conn    *websocket.Conn
	send    chan WSMessage
	done    chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger

	// identity, when set, makes login require a token issued for the stable id.
	identity IdentityVerifier
}

func newClient(id string, hub *Hub, coord Coordinator, conn *websocket.Conn, limits Limits, logger *zap.Logger) *Client {
	if limits.EventsPerSec <= 0 {
		limits.EventsPerSec = 20
	}
	if limits.Burst <= 0 {
		limits.Burst = 40
	}
	return &Client{
		ID:      id,
		hub:     hub,
		coord:   coord,
		conn:    conn,
		send:    make(chan WSMessage, 256),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(limits.EventsPerSec), limits.Burst),
		logger:  logger.With(zap.String("conn_id", id)),
	}
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// A nil identity accepts any stable id on login.
func ServeWs(hub *Hub, coord Coordinator, signaling *Signaling, limits Limits, identity IdentityVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(uuid.New().String(), hub, coord, conn, limits, logger)
		client.identity = identity
		hub.Register(client)
		client.emit(EventICEServers, gin.H{"ice_servers": signaling.Configuration().ICEServers})
		coord.Connect(client.ID, client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.coord.Disconnect(c.ID)
		c.hub.Unregister(c)
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if !c.limiter.Allow() {
			c.logger.Debug("event rate limited", zap.String("event", msg.Event))
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch decodes one inbound event and forwards it to the coordinator.
// Malformed payloads are logged and dropped.
func (c *Client) dispatch(msg WSMessage) {
	switch msg.Event {
	case "login":
		var p loginPayload
		if !c.decode(msg, &p) || p.StableID == "" || !c.verifyLogin(p) {
			return
		}
		c.coord.Login(c.ID, p.StableID)
	case "join_queue":
		var req presence.JoinRequest
		if len(msg.Data) > 0 && !c.decode(msg, &req) {
			return
		}
		c.coord.JoinQueue(c.ID, req)
	case "leave_queue":
		c.coord.LeaveQueue(c.ID)
	case "stop_call":
		c.coord.StopCall(c.ID)
	case "skip":
		c.coord.Skip(c.ID)
	case "get_token_balance":
		c.coord.GetTokenBalance(c.ID)
	case "add_tokens":
		var p addTokensPayload
		if !c.decode(msg, &p) {
			return
		}
		c.coord.AddTokens(c.ID, p.Type, p.Amount)
	case EventOffer, EventAnswer, EventICECandidate, EventMessage:
		var p relayPayload
		if !c.decode(msg, &p) || p.RoomID == "" {
			return
		}
		if err := ValidateRelay(msg.Event, p.Payload); err != nil {
			c.logger.Warn("invalid relay payload", zap.String("event", msg.Event), zap.Error(err))
			return
		}
		c.coord.Relay(c.ID, msg.Event, p.RoomID, p.Payload)
	default:
		// ignore
	}
}

// verifyLogin reports whether p may claim its stable id. A rejected login
// leaves the connection a guest.
func (c *Client) verifyLogin(p loginPayload) bool {
	if c.identity == nil {
		return true
	}
	claims, err := c.identity.Validate(p.Token)
	if err != nil {
		c.logger.Warn("login rejected", zap.String("stable_id", p.StableID), zap.Error(err))
		return false
	}
	if claims.Subject != p.StableID {
		c.logger.Warn("login rejected", zap.String("stable_id", p.StableID), zap.String("token_subject", claims.Subject))
		return false
	}
	return true
}

func (c *Client) decode(msg WSMessage, v interface{}) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		c.logger.Warn("invalid payload", zap.String("event", msg.Event), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) enqueue(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping", zap.String("event", msg.Event))
	}
}

func (c *Client) emit(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("marshal outbound", zap.String("event", event), zap.Error(err))
		return
	}
	c.enqueue(WSMessage{Event: event, Data: data})
}

// MatchFound implements presence.Notifier.
func (c *Client) MatchFound(partner models.PartnerInfo, roomID string, isInitiator bool) {
	c.emit(EventMatchFound, gin.H{"partner": partner, "room_id": roomID, "is_initiator": isInitiator})
}

// PartnerDisconnected implements presence.Notifier.
func (c *Client) PartnerDisconnected(reason models.LeaveReason) {
	c.emit(EventPartnerDisconnected, gin.H{"reason": reason})
}

// TokenBalanceUpdate implements presence.Notifier.
func (c *Client) TokenBalanceUpdate(balance models.TokenBalance) {
	c.emit(EventTokenBalanceUpdate, balance)
}

// InsufficientTokens implements presence.Notifier.
func (c *Client) InsufficientTokens(message string, balance models.TokenBalance) {
	c.emit(EventInsufficientTokens, gin.H{"message": message, "balance": balance})
}

// MatchError implements presence.Notifier.
func (c *Client) MatchError(message string) {
	c.emit(EventMatchError, gin.H{"message": message})
}

// PurchaseSuccess implements presence.Notifier.
func (c *Client) PurchaseSuccess(tier models.Tier, amount int) {
	c.emit(EventPurchaseSuccess, gin.H{"type": tier, "amount": amount})
}

// Relay implements presence.Notifier.
func (c *Client) Relay(event, roomID string, payload json.RawMessage) {
	c.emit(event, relayPayload{RoomID: roomID, Payload: payload})
}
