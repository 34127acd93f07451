package model

// WebSocket control frame types. Everything else on the socket is JSON-RPC.
const (
	WSMessageTypePing = "ping"
	WSMessageTypePong      = "pong"
	WSMessageTypeConnected = "connected"
)

// WSMessage represents a control frame. ContextID is set on the connected
// frame sent when a socket is accepted.
type WSMessage struct {
	Type      string `json:"type"`
	ContextID string `json:"contextId,omitempty"`
}

// WSFrame is used to sniff an inbound frame before decoding it
type WSFrame struct {
	Type    string `json:"type,omitempty"`
	JSONRPC string `json:"jsonrpc,omitempty"`
	Method  string `json:"method,omitempty"`
}
