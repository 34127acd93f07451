package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/makeasinger/videoagent/internal/model"
	"github.com/makeasinger/videoagent/internal/port"
	"github.com/makeasinger/videoagent/internal/rpc"
	"github.com/makeasinger/videoagent/internal/service"
	"github.com/makeasinger/videoagent/internal/store"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client is one socket bound to a conversation
type Client struct {
	ContextID string
	Inline    bool

	send   chan []byte
	mu     sync.Mutex
	closed bool
	direct map[string]*port.DirectIO
}

func newClient(contextID string, inline bool) *Client {
	return &Client{
		ContextID: contextID,
		Inline:    inline,
		send:      make(chan []byte, sendBuffer),
		direct:    make(map[string]*port.DirectIO),
	}
}

// enqueue queues a frame without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
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

func (c *Client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	direct := make([]*port.DirectIO, 0, len(c.direct))
	for _, d := range c.direct {
		direct = append(direct, d)
	}
	c.mu.Unlock()

	// Close runs the untrack callbacks, which take c.mu.
	for _, d := range direct {
		d.Close()
	}
}

// track keeps an inline port open for as long as the socket or the run that
// owns it, whichever ends first.
func (c *Client) track(taskID string, d *port.DirectIO) {
	c.mu.Lock()
	closed := c.closed
	if !closed {
		c.direct[taskID] = d
	}
	c.mu.Unlock()

	if closed {
		d.Close()
		return
	}
	d.OnClose(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.direct[taskID] == d {
			delete(c.direct, taskID)
		}
	})
}

func (c *Client) inlinePorts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.direct)
}

// BroadcastMessage is a frame for every socket of one conversation
type BroadcastMessage struct {
	ContextID string
	Message   []byte
}

// Hub maintains active WebSocket connections grouped by context id and
// pushes task status notifications to them.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}

	mu sync.RWMutex

	dispatcher *rpc.Dispatcher
	tasks      *service.TaskService
	writer     port.TaskWriter
	logger     *zap.Logger
}

func NewHub(d *rpc.Dispatcher, tasks *service.TaskService, writer port.TaskWriter, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		done:       make(chan struct{}),
		dispatcher: d,
		tasks:      tasks,
		writer:     writer,
		logger:     logger.Named("ws"),
	}
}

// Run starts the hub's main loop and returns when ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					client.close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ContextID] == nil {
				h.clients[client.ContextID] = make(map[*Client]bool)
			}
			h.clients[client.ContextID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("context_id", client.ContextID))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client unregistered", zap.String("context_id", client.ContextID))

		case msg := <-h.broadcast:
			var slow []*Client
			h.mu.RLock()
			for client := range h.clients[msg.ContextID] {
				if !client.enqueue(msg.Message) {
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.logger.Warn("dropping slow client", zap.String("context_id", client.ContextID))
				h.remove(client)
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[client.ContextID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.clients, client.ContextID)
			}
		}
	}
	client.close()
}

// Clients returns the number of sockets bound to a context
func (h *Hub) Clients(contextID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[contextID])
}

// Listener forwards every task update as a tasks/status notification to the
// sockets of the task's context.
func (h *Hub) Listener() store.Listener {
	return func(ctx context.Context, ev store.Event) error {
		data, err := json.Marshal(model.JSONRPCNotification{
			JSONRPC: model.JSONRPCVersion,
			Method:  model.MethodStatus,
			Params:  model.NewTaskEvent(ev.Task),
		})
		if err != nil {
			return err
		}

		select {
		case h.broadcast <- &BroadcastMessage{ContextID: ev.Task.ContextID, Message: data}:
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
}

// HandleConnection serves one socket until it closes. A socket without a
// context id gets a fresh one, announced in the first frame.
func (h *Hub) HandleConnection(c *websocket.Conn, contextID string, inline bool) {
	client := h.attach(contextID, inline)
	if client == nil {
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.done:
		}
	}()

	go h.writePump(c, client)

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		if resp := h.handleFrame(client, message); resp != nil {
			data, err := json.Marshal(resp)
			if err != nil {
				h.logger.Error("failed to marshal response", zap.Error(err))
				continue
			}
			client.enqueue(data)
		}
	}
}

// attach registers a client and queues the connected frame. It returns nil
// once the hub has stopped.
func (h *Hub) attach(contextID string, inline bool) *Client {
	if contextID == "" {
		contextID = uuid.New().String()
	}
	client := newClient(contextID, inline)

	select {
	case h.register <- client:
	case <-h.done:
		return nil
	}

	data, err := json.Marshal(model.WSMessage{Type: model.WSMessageTypeConnected, ContextID: contextID})
	if err == nil {
		client.enqueue(data)
	}
	return client
}

func (h *Hub) writePump(c *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = c.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame answers one inbound frame. Notifications get no response.
func (h *Hub) handleFrame(client *Client, message []byte) any {
	var frame model.WSFrame
	if err := json.Unmarshal(message, &frame); err == nil && frame.Type == model.WSMessageTypePing {
		return model.WSMessage{Type: model.WSMessageTypePong}
	}

	req, errResp := rpc.Decode(message)
	if errResp != nil {
		return errResp
	}

	var resp *model.JSONRPCResponse
	switch req.Method {
	case model.MethodSend, model.MethodSendSubscribe:
		resp = h.send(client, req)
	default:
		resp = h.dispatcher.Handle(context.Background(), req, service.SendOptions{})
	}

	if len(req.ID) == 0 {
		return nil
	}
	return resp
}

// send creates or resumes a task for the socket's conversation. On an inline
// socket the engine waits on this connection for replies.
func (h *Hub) send(client *Client, req *model.JSONRPCRequest) *model.JSONRPCResponse {
	params, rpcErr := h.dispatcher.SendParams(req)
	if rpcErr != nil {
		return rpc.ErrorResponse(req.ID, rpcErr)
	}
	if params.ContextID == "" {
		params.ContextID = client.ContextID
	}

	opts := service.SendOptions{}
	if client.Inline {
		opts.NewIO = func(taskID string) port.IO {
			d := port.NewDirectIO(h.writer, taskID)
			client.track(taskID, d)
			return d
		}
	}

	res, err := h.tasks.Send(context.Background(), params, opts)
	if err != nil {
		return rpc.ErrorResponse(req.ID, h.dispatcher.FromError(err))
	}
	return rpc.Result(req.ID, res.Task)
}
