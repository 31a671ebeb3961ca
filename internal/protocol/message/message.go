package message

import (
	"fmt"

	"github.com/vitalmesh/meshlink/internal/protocol/schema"
	"github.com/vitalmesh/meshlink/internal/protocol/tlv"
)

// Version is the envelope version this package speaks.
const Version uint8 = 1

// EnvelopeLen is the byte length of the payload envelope: one version
// byte followed by one message type byte.
const EnvelopeLen = 2

// Message is one application message carried in a frame payload. The
// set is closed: every variant lives in this package, and wire input
// that does not decode lands in Unrecognized rather than an error.
type Message interface {
	messageType() uint8
}

// Unrecognized carries a payload that could not be decoded against the
// wire contract, with the reason it was rejected.
type Unrecognized struct {
	Version     uint8
	MessageType uint8
	Raw         []byte
	Reason      string
}

func (Unrecognized) messageType() uint8 { return 0 }

// TypeOf returns the wire message type of m, 0 for Unrecognized.
func TypeOf(m Message) uint8 { return m.messageType() }

// Encode serializes m into a frame payload: the two-byte envelope
// followed by the TLV fields of the message body.
func Encode(m Message) ([]byte, error) {
	var fields []tlv.Field
	switch v := m.(type) {
	case ConfigRequest:
		fields = v.fields()
	case ConfigComplete:
		fields = v.fields()
	case Keepalive:
		fields = v.fields()
	case HealthReport:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		fields = v.fields()
	case TextMessage:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		fields = v.fields()
	case EntityRecord:
		if err := v.Validate(); err != nil {
			return nil, err
		}
		fields = v.fields()
	default:
		return nil, fmt.Errorf("message: cannot encode %T", m)
	}
	mt := m.messageType()
	if err := schema.Validate(mt, fields); err != nil {
		return nil, err
	}
	body, err := tlv.EncodeFields(fields)
	if err != nil {
		return nil, err
	}
	out := make([]byte, EnvelopeLen+len(body))
	out[0] = Version
	out[1] = mt
	copy(out[EnvelopeLen:], body)
	return out, nil
}

// Decode maps a frame payload to its typed message. It is total:
// payloads that fail the envelope, the TLV layer, or schema validation
// come back as Unrecognized with the reason attached.
func Decode(payload []byte) Message {
	if len(payload) < EnvelopeLen {
		return Unrecognized{Raw: payload, Reason: "short envelope"}
	}
	version := payload[0]
	mt := payload[1]
	if version != Version {
		return Unrecognized{
			Version:     version,
			MessageType: mt,
			Raw:         payload,
			Reason:      fmt.Sprintf("unsupported version %d", version),
		}
	}
	if !schema.Known(mt) {
		return Unrecognized{
			Version:     version,
			MessageType: mt,
			Raw:         payload,
			Reason:      fmt.Sprintf("unknown message type %d", mt),
		}
	}
	fields, err := tlv.DecodeFields(payload[EnvelopeLen:])
	if err == nil {
		err = schema.Validate(mt, fields)
	}
	if err != nil {
		return Unrecognized{Version: version, MessageType: mt, Raw: payload, Reason: err.Error()}
	}

	var m Message
	switch mt {
	case schema.MsgConfigRequest:
		m, err = decodeConfigRequest(fields)
	case schema.MsgConfigComplete:
		m, err = decodeConfigComplete(fields)
	case schema.MsgKeepalive:
		m, err = decodeKeepalive(fields)
	case schema.MsgHealthReport:
		m, err = decodeHealthReport(fields)
	case schema.MsgTextMessage:
		m, err = decodeTextMessage(fields)
	case schema.MsgEntityRecord:
		m, err = decodeEntityRecord(fields)
	default:
		return Unrecognized{Version: version, MessageType: mt, Raw: payload, Reason: "no decoder for message type"}
	}
	if err != nil {
		return Unrecognized{Version: version, MessageType: mt, Raw: payload, Reason: err.Error()}
	}
	return m
}

func requiredString(fields []tlv.Field, id uint8) string {
	f, _ := tlv.GetField(fields, id)
	return string(f.Value)
}
