// internal/websocket/types.go
package websocket

// RPCRequest is a method invocation sent by the browser client.
type RPCRequest struct {
	ID     string        `json:"id"`     // correlates the response
	Method string        `json:"method"` // e.g. "RestoreToCheckpoint"
	Params []interface{} `json:"params"` // positional arguments
}

// RPCResponse answers one RPCRequest.
type RPCResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WSEvent is a server-initiated push, mirroring the event hub.
type WSEvent struct {
	Type    string      `json:"type"`    // e.g. "checkpoint:recorded"
	Payload interface{} `json:"payload"` // event data
}

// WSMessage is the single wire envelope for both directions.
type WSMessage struct {
	// Kind is "rpc_request", "rpc_response" or "event".
	Kind string `json:"kind"`

	Request  *RPCRequest  `json:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty"`
	Event    *WSEvent     `json:"event,omitempty"`
}
