package models

// TransferEvent is the wire frame published by the chain watcher on the
// transfer stream. Amounts are base units; addresses arrive as reported by the
// ledger and are normalized by the relay before any routing or storage.
type TransferEvent struct {
	TxHash    string `msgpack:"tx_hash"`
	From      string `msgpack:"from"`
	To        string `msgpack:"to"`
	TokenID   int64  `msgpack:"token_id"`
	Amount    string `msgpack:"amount"`
	Timestamp int64  `msgpack:"timestamp"`
}

// Server -> client event kinds. Each outbound frame carries the kind in the
// "event" field; "type" is left free for payload semantics (the transfer
// direction in tokenTransfer frames).
const (
	EventRegistered     = "registered"
	EventTokenTransfer  = "tokenTransfer"
	EventNewTransaction = "newTransaction"
	EventNewDisaster    = "newDisaster"
	EventError          = "error"
	EventPong           = "pong"
)

// Transfer directions relative to the session's registered address.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Client -> server operations on the persistent connection.
type Operation string

const (
	OpRegister Operation = "register"
	OpPing     Operation = "ping"
)

// Envelope carries the operation tag of an inbound frame; the full frame is
// decoded a second time into the op-specific request.
type Envelope struct {
	Operation Operation `json:"operation"`
}

type RegisterRequest struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

type RegisteredFrame struct {
	Event   string `json:"event"`
	Success bool   `json:"success"`
	// Degraded warns the client that the ledger stream is down at
	// registration time; push updates resume when it recovers.
	Degraded bool `json:"degraded,omitempty"`
}

type TokenTransferFrame struct {
	Event   string `json:"event"`
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID int64  `json:"tokenId"`
	Amount  string `json:"amount"`
	Type    string `json:"type"`
	TxHash  string `json:"txHash"`
}

type NewTransactionFrame struct {
	Event   string `json:"event"`
	TxHash  string `json:"txHash"`
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID int64  `json:"tokenId"`
	Amount  string `json:"amount"`
}

type DisasterFrame struct {
	Event     string  `json:"event"`
	Location  string  `json:"location"`
	Magnitude float64 `json:"magnitude"`
	Type      string  `json:"type"`
	Timestamp string  `json:"timestamp"`
}

type ErrorFrame struct {
	Event string `json:"event"`
	Error string `json:"error"`
}

type StatusFrame struct {
	Event string `json:"event"`
}
