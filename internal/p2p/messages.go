package p2p

import (
	"encoding/json"
	"fmt"

	"github.com/aibtcc/aibtcc-go/internal/types"
)

const (
	// ProtocolVersion is the current peer protocol version.
	ProtocolVersion = "1.0.0"

	// BlockTopicName is the GossipSub topic carrying NEW_BLOCK frames.
	BlockTopicName = "/aibtcc/blocks/" + ProtocolVersion

	// TxTopicName is the GossipSub topic carrying NEW_TRANSACTION frames.
	TxTopicName = "/aibtcc/transactions/" + ProtocolVersion

	// ChainSyncProtocolID is the stream protocol for full-chain exchange.
	ChainSyncProtocolID = "/aibtcc/chain/" + ProtocolVersion
)

// maxFrameSize caps a single wire frame. Full chains travel on the sync
// stream, so this bound has to fit an entire serialized history.
const maxFrameSize = 16 * 1024 * 1024 // 16MB

// Frame types. Every frame is a UTF-8 JSON object {type, data?}; unknown
// types are logged and ignored by the receiver.
const (
	MsgRequestFullChain = "REQUEST_FULL_CHAIN"
	MsgFullChain        = "FULL_CHAIN"
	MsgNewBlock         = "NEW_BLOCK"
	MsgNewTransaction   = "NEW_TRANSACTION"
)

// Message is the wire envelope.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeMessage serializes an envelope with the given payload. A nil
// payload produces a bare {type} frame.
func EncodeMessage(msgType string, payload interface{}) ([]byte, error) {
	msg := Message{Type: msgType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a wire frame, enforcing the size cap before any
// allocation-heavy decoding.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", len(data))
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("frame has no type")
	}
	return &msg, nil
}

// DecodeBlock parses the payload of a NEW_BLOCK frame.
func (m *Message) DecodeBlock() (*types.Block, error) {
	var b types.Block
	if err := json.Unmarshal(m.Data, &b); err != nil {
		return nil, fmt.Errorf("decode block payload: %w", err)
	}
	return &b, nil
}

// DecodeTransaction parses the payload of a NEW_TRANSACTION frame.
func (m *Message) DecodeTransaction() (*types.Transaction, error) {
	var t types.Transaction
	if err := json.Unmarshal(m.Data, &t); err != nil {
		return nil, fmt.Errorf("decode transaction payload: %w", err)
	}
	return &t, nil
}

// DecodeChain parses the payload of a FULL_CHAIN frame: the ordered block
// array.
func (m *Message) DecodeChain() ([]*types.Block, error) {
	var blocks []*types.Block
	if err := json.Unmarshal(m.Data, &blocks); err != nil {
		return nil, fmt.Errorf("decode chain payload: %w", err)
	}
	return blocks, nil
}
