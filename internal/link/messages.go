// Package link implements the WebSocket connection between the desktop and
// the paired mobile device. One logical peer at a time; JSON text frames with
// a small type/payload envelope. File bytes ride inside chunk frames as
// base64, integrity is a SHA-256 over the raw bytes announced at the end of a
// transfer.
package link

import (
	"encoding/json"
	"fmt"
)

// Message types carried in the envelope.
const (
	TypePairHello = "pair.hello"
	TypePairOK    = "pair.ok"

	TypeTransferStart    = "transfer.start"
	TypeTransferChunk    = "transfer.chunk"
	TypeTransferProgress = "transfer.progress"
	TypeTransferComplete = "transfer.complete"
	TypeTransferFail     = "transfer.fail"
	TypeTransferCancel   = "transfer.cancel"

	TypeMediaCommand = "media.command"
	TypeStatusUpdate = "status.update"
)

// Verification outcomes on the wire.
const (
	VerifiedUnknown = ""
	VerifiedPassed  = "passed"
	VerifiedFailed  = "failed"
)

// Envelope wraps every frame on the link.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload opens a connection. The token must match the server's
// configured pair token or the connection is closed.
type HelloPayload struct {
	Token      string `json:"token"`
	DeviceName string `json:"deviceName"`
}

// PairOKPayload acknowledges a successful handshake.
type PairOKPayload struct {
	DeviceName string `json:"deviceName"`
}

// TransferStartPayload announces a new transfer from the sending side.
type TransferStartPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	MIME string `json:"mime,omitempty"`
}

// TransferChunkPayload carries one chunk of file data. Data is base64 in the
// JSON encoding ([]byte marshals that way).
type TransferChunkPayload struct {
	ID   string `json:"id"`
	Seq  int    `json:"seq"`
	Data []byte `json:"data"`
}

// TransferProgressPayload reports the receiver's absolute byte count back to
// the sender.
type TransferProgressPayload struct {
	ID    string `json:"id"`
	Bytes int64  `json:"bytes"`
}

// TransferCompletePayload ends a transfer. The sending side fills SHA256 with
// the hex digest of the file; the receiving side echoes the frame back with
// Verified set to the comparison outcome.
type TransferCompletePayload struct {
	ID       string `json:"id"`
	SHA256   string `json:"sha256,omitempty"`
	Verified string `json:"verified,omitempty"`
}

// TransferFailPayload aborts a transfer with a reason.
type TransferFailPayload struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// TransferCancelPayload requests cancellation of a transfer. Receiving one
// must never be answered with another, or the two sides echo forever.
type TransferCancelPayload struct {
	ID string `json:"id"`
}

// MediaCommandPayload relays a media control action to the peer.
type MediaCommandPayload struct {
	Command string `json:"command"`
	Value   int    `json:"value,omitempty"`
}

// StatusUpdatePayload mirrors the mobile device's status.
type StatusUpdatePayload struct {
	DeviceName string `json:"deviceName"`
	Battery    int    `json:"battery"`
	Charging   bool   `json:"charging"`
}

// Encode marshals a typed payload into a wire frame.
func Encode(msgType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		raw = data
	}
	frame, err := json.Marshal(Envelope{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return frame, nil
}

// Decode parses a wire frame into its envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("frame missing type")
	}
	return env, nil
}

// DecodePayload parses an envelope's payload into dst.
func DecodePayload(env Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("parse %s payload: %w", env.Type, err)
	}
	return nil
}
