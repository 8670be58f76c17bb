package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pulse/backend/internal/auth"
	"pulse/backend/internal/config"
	"pulse/backend/internal/domain"
	"pulse/backend/internal/ingest"
	"pulse/backend/internal/monitoring"
)

// closeCodeTooManyConnections 连接数达到上限时的专用关闭码
const closeCodeTooManyConnections = 4429

// TokenValidator 接入令牌验证
type TokenValidator interface {
	ValidateStreamToken(token string) (*auth.StreamClaims, error)
}

// KeyAuthenticator API密钥验证与状态查询
//
// GetAPIKey 用于订阅时的在线复核：被撤销的密钥即使
// 连接仍在，也无法建立新订阅
type KeyAuthenticator interface {
	Authenticate(rawKey string) (*domain.APIKey, error)
	GetAPIKey(id string) (*domain.APIKey, error)
}

// TelemetrySink 客户端经 WebSocket 上报遥测数据的落地入口
type TelemetrySink interface {
	IngestEvent(ctx context.Context, event *domain.Event, meta ingest.RequestMeta) (*domain.Event, error)
	IngestMetric(ctx context.Context, metric *domain.Metric, meta ingest.RequestMeta) (*domain.Metric, error)
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 无 Origin 视为同源或非浏览器客户端
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}

			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeMessage      MessageType = "message" // 非遥测频道的服务端推送
	MessageTypeHeartbeat    MessageType = "heartbeat"
	MessageTypeSubscribe    MessageType = "subscribe"
	MessageTypeUnsubscribe  MessageType = "unsubscribe"
	MessageTypeSubscribed   MessageType = "subscribed"
	MessageTypeUnsubscribed MessageType = "unsubscribed"
	MessageTypeEvent        MessageType = "event"  // 双向：客户端上报 / 服务端推送
	MessageTypeMetric       MessageType = "metric" // 双向：客户端上报 / 服务端推送
	MessageTypeAlert        MessageType = "alert"  // 服务端推送告警
	MessageTypeError        MessageType = "error"
)

// channelMessageType 根据频道前缀确定推送帧的类型
func channelMessageType(channel string) MessageType {
	switch {
	case strings.HasPrefix(channel, "events:"):
		return MessageTypeEvent
	case strings.HasPrefix(channel, "metrics:"):
		return MessageTypeMetric
	case strings.HasPrefix(channel, "alerts:"):
		return MessageTypeAlert
	default:
		return MessageTypeMessage
	}
}

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID       string
	conn     *websocket.Conn
	send     chan []byte
	hub      *Hub
	channels map[string]bool // 已订阅的频道
	mu       sync.RWMutex
	log      *zap.Logger

	closed bool // send 已关闭（由 mu 保护）

	// 认证信息；KeyID 为空表示匿名连接，只能订阅公开频道
	KeyID       string
	Permissions []domain.Permission

	// 入站消息节流与心跳记录
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nano
	ip       string
	ua       string
}

// Hub 管理所有WebSocket连接
type Hub struct {
	clients  map[string]*Client            // clientID -> Client
	channels map[string]map[string]*Client // channel -> clientID -> Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{} // Run 退出后关闭，避免注册/注销阻塞

	mu             sync.RWMutex
	log            *zap.Logger
	metrics        *monitoring.Metrics
	cfg            config.WebSocketConfig
	allowedOrigins []string

	tokens TokenValidator
	keys   KeyAuthenticator
	events TelemetrySink
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	Channel string
	Message *Message
}

// NewHub 创建WebSocket Hub
func NewHub(
	cfg config.WebSocketConfig,
	allowedOrigins []string,
	tokens TokenValidator,
	keys KeyAuthenticator,
	events TelemetrySink,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		channels:       make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *BroadcastMessage, 256),
		done:           make(chan struct{}),
		log:            logger,
		metrics:        metrics,
		cfg:            cfg,
		allowedOrigins: allowedOrigins,
		tokens:         tokens,
		keys:           keys,
		events:         events,
	}
}

// Run 启动Hub，阻塞直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			// 容量判定和注册在同一事件里完成，并发升级不会超限
			h.mu.Lock()
			if len(h.clients) >= h.cfg.MaxConnections {
				h.mu.Unlock()
				h.rejectClient(client)
				continue
			}
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.metrics.WSConnectionsActive.Inc()
			h.metrics.WSConnectionsTotal.Inc()
			h.log.Info("client registered",
				zap.String("id", client.ID),
				zap.String("keyID", client.KeyID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				for channel := range client.channels {
					if clients, exists := h.channels[channel]; exists {
						delete(clients, client.ID)
						if len(clients) == 0 {
							delete(h.channels, channel)
						}
					}
				}
				delete(h.clients, client.ID)
				h.metrics.WSConnectionsActive.Dec()
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			h.mu.Unlock()
			client.closeSend()

		case msg := <-h.broadcast:
			h.broadcastToChannel(msg.Channel, msg.Message)

		case <-ticker.C:
			h.sendHeartbeats()
			h.sweepStaleClients()
		}
	}
}

// Broadcast 把频道消息分发给订阅的客户端
//
// payload 是服务端信封 JSON，原样转发
func (h *Hub) Broadcast(channel string, payload []byte) {
	msg := &Message{
		Type:      channelMessageType(channel),
		Channel:   channel,
		Data:      payload,
		Timestamp: time.Now().UTC(),
	}

	select {
	case h.broadcast <- &BroadcastMessage{Channel: channel, Message: msg}:
	default:
		h.metrics.WSMessagesDropped.WithLabelValues("hub_backlog").Inc()
		h.log.Warn("hub broadcast backlog full, dropping message",
			zap.String("channel", channel))
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastToChannel 向订阅特定频道的客户端分发消息
func (h *Hub) broadcastToChannel(channel string, msg *Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.channels[channel]))
	for _, client := range h.channels[channel] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		if client.trySend(data) {
			h.metrics.WSMessagesDelivered.Inc()
		} else {
			// 慢客户端丢消息，不阻塞其余订阅者
			h.metrics.WSMessagesDropped.WithLabelValues("slow_client").Inc()
			h.log.Warn("client channel blocked, skipping",
				zap.String("clientID", client.ID))
		}
	}
}

// sendHeartbeats 向所有客户端发送应用层心跳
func (h *Hub) sendHeartbeats() {
	msg := &Message{
		Type:      MessageTypeHeartbeat,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.trySend(data)
	}
}

// sweepStaleClients 断开超过两个心跳周期无响应的连接
func (h *Hub) sweepStaleClients() {
	cutoff := time.Now().Add(-2 * h.cfg.HeartbeatInterval).UnixNano()

	h.mu.RLock()
	var stale []*Client
	for _, client := range h.clients {
		if client.lastSeen.Load() < cutoff {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.log.Info("closing stale client",
			zap.String("clientID", client.ID))
		// 关闭连接触发 readPump 退出并完成注销
		client.conn.Close()
	}
}

// rejectClient 连接数达到上限，以专用关闭码拒绝，
// 客户端可识别并退避
func (h *Hub) rejectClient(client *Client) {
	h.log.Warn("connection limit reached, rejecting client",
		zap.String("clientID", client.ID),
		zap.String("ip", client.ip))
	deadline := time.Now().Add(time.Second)
	client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCodeTooManyConnections, "too many connections"),
		deadline)
	client.conn.Close()
	client.closeSend()
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.channels = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.closeSend()
	}
}

// authenticateClient 解析连接的认证信息
//
// 认证可选：提供令牌或密钥时必须有效，否则作为匿名连接
// 接入（仅能订阅公开频道）
func (h *Hub) authenticateClient(c *gin.Context) (*Client, error) {
	client := &Client{
		ID:       uuid.New().String(),
		channels: make(map[string]bool),
		log:      h.log,
		ip:       c.ClientIP(),
		ua:       c.Request.UserAgent(),
	}

	// 接入令牌（浏览器路径）
	if token := c.Query("token"); token != "" {
		claims, err := h.tokens.ValidateStreamToken(token)
		if err != nil {
			return nil, fmt.Errorf("invalid stream token: %w", err)
		}
		client.KeyID = claims.KeyID
		client.Permissions = claims.Permissions
		return client, nil
	}

	// 原始API密钥（非浏览器客户端可直接携带请求头）
	rawKey := c.GetHeader("X-API-Key")
	if rawKey == "" {
		rawKey = c.Query("api_key")
	}
	if rawKey != "" {
		apiKey, err := h.keys.Authenticate(rawKey)
		if err != nil {
			return nil, fmt.Errorf("invalid API key: %w", err)
		}
		client.KeyID = apiKey.ID
		client.Permissions = apiKey.Permissions
		return client, nil
	}

	// 匿名连接
	return client, nil
}

// HandleWebSocket 处理WebSocket连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		client, err := hub.authenticateClient(c)
		if err != nil {
			hub.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client.conn = conn
		client.hub = hub
		client.send = make(chan []byte, hub.cfg.SendBuffer)
		client.limiter = rate.NewLimiter(rate.Limit(hub.cfg.MessageRate), hub.cfg.MessageBurst)
		client.lastSeen.Store(time.Now().UnixNano())

		// 连接数上限在 Run 的注册分支里判定（超限回专用关闭码）
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	readDeadline := 2 * c.hub.cfg.HeartbeatInterval
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.lastSeen.Store(time.Now().UnixNano())
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		c.lastSeen.Store(time.Now().UnixNano())
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		// 入站节流：超速的消息直接丢弃并告知客户端
		if !c.limiter.Allow() {
			c.hub.metrics.WSMessagesDropped.WithLabelValues("rate_limited").Inc()
			c.sendError("message rate limit exceeded")
			continue
		}

		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribeChannel(msg.Channel)
	case MessageTypeUnsubscribe:
		c.unsubscribeChannel(msg.Channel)
	case MessageTypeEvent:
		c.ingestEvent(msg.Data)
	case MessageTypeMetric:
		c.ingestMetric(msg.Data)
	case MessageTypeHeartbeat:
		// lastSeen 已在读循环更新，回一帧心跳作为应答
		c.sendMessage(&Message{Type: MessageTypeHeartbeat, Timestamp: time.Now().UTC()})
	default:
		// 未知类型回 heartbeat 类型的错误载荷，连接保持打开
		c.sendMessage(&Message{
			Type:      MessageTypeHeartbeat,
			Error:     fmt.Sprintf("unknown message type: %s", msg.Type),
			Timestamp: time.Now().UTC(),
		})
	}
}

// subscribeChannel 订阅频道
//
// 每次订阅都对密钥记录做在线复核：权限快照过期或密钥被
// 撤销时拒绝，不依赖连接建立时的状态
func (c *Client) subscribeChannel(channel string) {
	if channel == "" {
		c.sendError("channel is required")
		return
	}

	required := domain.ChannelPermission(channel)
	if required != "" {
		if !c.verifyPermission(required) {
			c.hub.metrics.WSSubscriptionsTotal.WithLabelValues("denied").Inc()
			c.log.Warn("subscription denied",
				zap.String("clientID", c.ID),
				zap.String("channel", channel),
				zap.String("keyID", c.KeyID))
			c.sendError(fmt.Sprintf("no permission to subscribe channel: %s", channel))
			return
		}
	}

	c.mu.Lock()
	c.channels[channel] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if c.hub.channels[channel] == nil {
		c.hub.channels[channel] = make(map[string]*Client)
	}
	c.hub.channels[channel][c.ID] = c
	c.hub.mu.Unlock()

	c.hub.metrics.WSSubscriptionsTotal.WithLabelValues("granted").Inc()
	c.log.Info("subscribed to channel",
		zap.String("clientID", c.ID),
		zap.String("channel", channel))

	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		Channel:   channel,
		Timestamp: time.Now().UTC(),
	})
}

// unsubscribeChannel 取消订阅频道
func (c *Client) unsubscribeChannel(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()

	c.hub.mu.Lock()
	if clients, exists := c.hub.channels[channel]; exists {
		delete(clients, c.ID)
		if len(clients) == 0 {
			delete(c.hub.channels, channel)
		}
	}
	c.hub.mu.Unlock()

	c.log.Info("unsubscribed from channel",
		zap.String("clientID", c.ID),
		zap.String("channel", channel))

	c.sendMessage(&Message{
		Type:      MessageTypeUnsubscribed,
		Channel:   channel,
		Timestamp: time.Now().UTC(),
	})
}

// ingestEvent 客户端经连接上报事件，落地前复核 write 权限
func (c *Client) ingestEvent(data json.RawMessage) {
	if !c.canIngest() {
		return
	}

	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		c.sendError("invalid event payload")
		return
	}

	if _, err := c.hub.events.IngestEvent(context.Background(), &event, c.requestMeta()); err != nil {
		c.sendError(err.Error())
	}
}

// ingestMetric 客户端经连接上报指标
func (c *Client) ingestMetric(data json.RawMessage) {
	if !c.canIngest() {
		return
	}

	var metric domain.Metric
	if err := json.Unmarshal(data, &metric); err != nil {
		c.sendError("invalid metric payload")
		return
	}

	if _, err := c.hub.events.IngestMetric(context.Background(), &metric, c.requestMeta()); err != nil {
		c.sendError(err.Error())
	}
}

// canIngest 检查客户端是否允许经连接上报遥测数据
func (c *Client) canIngest() bool {
	if c.hub.events == nil {
		c.sendError("telemetry upload is not enabled")
		return false
	}
	if !c.verifyPermission(domain.PermissionWrite) {
		c.sendError("no permission to publish telemetry")
		return false
	}
	return true
}

// requestMeta 上报时的来源元数据
func (c *Client) requestMeta() ingest.RequestMeta {
	return ingest.RequestMeta{
		APIKeyID:  c.KeyID,
		IP:        c.ip,
		UserAgent: c.ua,
	}
}

// verifyPermission 对密钥做在线复核
func (c *Client) verifyPermission(required domain.Permission) bool {
	if c.KeyID == "" {
		return false
	}

	apiKey, err := c.hub.keys.GetAPIKey(c.KeyID)
	if err != nil {
		return false
	}
	if !apiKey.IsActive || apiKey.IsExpired(time.Now().UTC()) {
		return false
	}
	return apiKey.HasPermission(required)
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	c.sendMessage(&Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	})
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	if !c.trySend(data) {
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}

// trySend 投递到发送缓冲；通道已关闭或缓冲已满时返回 false
func (c *Client) trySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭发送通道，幂等；与 trySend 通过 mu 互斥，
// 不存在向已关闭通道写入的窗口
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
