package channel

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/Ning0612/addonsync/internal/domain"
)

// Message types exchanged over the channel
const (
	TypeDownloadRequest  = "download-request"
	TypeDownloadChunk    = "download-chunk"
	TypeDownloadComplete = "download-complete"
	TypeDownloadError    = "download-error"
	TypeBackupStatus     = "backup-status"
)

// Message is one channel event. Download events are keyed by RequestID.
type Message struct {
	Type      string                     `json:"type"`
	RequestID string                     `json:"requestId,omitempty"`
	File      *domain.ArtifactDescriptor `json:"file,omitempty"`
	Chunk     *Payload                   `json:"chunk,omitempty"`
	TotalSize int64                      `json:"totalSize,omitempty"`
	IsLast    bool                       `json:"isLast,omitempty"`
	Error     string                     `json:"error,omitempty"`
	Status    string                     `json:"status,omitempty"`
	Desc      string                     `json:"desc,omitempty"`
}

// PayloadKind tags how chunk bytes arrived on the wire
type PayloadKind int

const (
	// Bytes holds raw bytes (binary frame, or a JSON byte array / buffer view)
	Bytes PayloadKind = iota
	// Base64Text holds base64 text from a JSON string
	Base64Text
)

// Payload is a chunk body. The kind is fixed when the frame is decoded.
type Payload struct {
	Kind PayloadKind
	Data []byte
	Text string
}

// Decode returns the chunk bytes
func (p *Payload) Decode() ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	switch p.Kind {
	case Bytes:
		return p.Data, nil
	case Base64Text:
		data, err := base64.StdEncoding.DecodeString(p.Text)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 chunk: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %d", p.Kind)
	}
}

// bufferView is the JSON form of a serialized byte view: {"type":"Buffer","data":[...]}
type bufferView struct {
	Type string `json:"type"`
	Data []int  `json:"data"`
}

// UnmarshalJSON accepts a base64 string, a byte array or a buffer view object
func (p *Payload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.New("empty chunk")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = Payload{Kind: Base64Text, Text: s}
		return nil
	case '[':
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return err
		}
		return p.fromInts(ints)
	case '{':
		var view bufferView
		if err := json.Unmarshal(data, &view); err != nil {
			return err
		}
		return p.fromInts(view.Data)
	default:
		return fmt.Errorf("unsupported chunk encoding: %.16s", data)
	}
}

func (p *Payload) fromInts(ints []int) error {
	buf := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value out of range at %d: %d", i, v)
		}
		buf[i] = byte(v)
	}
	*p = Payload{Kind: Bytes, Data: buf}
	return nil
}

// MarshalJSON writes base64 text for both kinds
func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Kind == Base64Text {
		return json.Marshal(p.Text)
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(p.Data))
}

// EncodeBinary builds a binary frame: 4-byte big-endian header length,
// JSON header, raw payload.
func EncodeBinary(header Message, payload []byte) ([]byte, error) {
	header.Chunk = nil
	h, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 4, 4+len(h)+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(h)))
	frame = append(frame, h...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeFrame parses a websocket frame of the given type into a Message
func DecodeFrame(messageType int, data []byte) (Message, error) {
	var msg Message

	switch messageType {
	case websocket.TextMessage:
		if err := json.Unmarshal(data, &msg); err != nil {
			return Message{}, fmt.Errorf("invalid text frame: %w", err)
		}
		return msg, nil

	case websocket.BinaryMessage:
		if len(data) < 4 {
			return Message{}, errors.New("binary frame too short")
		}
		n := binary.BigEndian.Uint32(data[:4])
		if uint64(n) > uint64(len(data)-4) {
			return Message{}, fmt.Errorf("binary frame header length %d exceeds frame", n)
		}
		if err := json.Unmarshal(data[4:4+n], &msg); err != nil {
			return Message{}, fmt.Errorf("invalid binary frame header: %w", err)
		}
		payload := make([]byte, len(data)-4-int(n))
		copy(payload, data[4+n:])
		msg.Chunk = &Payload{Kind: Bytes, Data: payload}
		return msg, nil

	default:
		return Message{}, fmt.Errorf("unsupported frame type %d", messageType)
	}
}
