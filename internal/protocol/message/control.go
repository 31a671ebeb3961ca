package message

import (
	"github.com/vitalmesh/meshlink/internal/protocol/schema"
	"github.com/vitalmesh/meshlink/internal/protocol/tlv"
)

// ConfigRequest opens the handshake: the host asks the device to replay
// its configuration, tagging the exchange with a locally chosen
// correlation id.
type ConfigRequest struct {
	CorrelationID uint32
}

func (ConfigRequest) messageType() uint8 { return schema.MsgConfigRequest }

func (c ConfigRequest) fields() []tlv.Field {
	return []tlv.Field{tlv.U32(schema.FieldCorrelationID, c.CorrelationID)}
}

func decodeConfigRequest(fields []tlv.Field) (ConfigRequest, error) {
	f, _ := tlv.GetField(fields, schema.FieldCorrelationID)
	id, err := f.AsU32()
	if err != nil {
		return ConfigRequest{}, err
	}
	return ConfigRequest{CorrelationID: id}, nil
}

// ConfigComplete closes the handshake from the device side, echoing the
// correlation id of the request it answers.
type ConfigComplete struct {
	CorrelationID uint32
}

func (ConfigComplete) messageType() uint8 { return schema.MsgConfigComplete }

func (c ConfigComplete) fields() []tlv.Field {
	return []tlv.Field{tlv.U32(schema.FieldCorrelationID, c.CorrelationID)}
}

func decodeConfigComplete(fields []tlv.Field) (ConfigComplete, error) {
	f, _ := tlv.GetField(fields, schema.FieldCorrelationID)
	id, err := f.AsU32()
	if err != nil {
		return ConfigComplete{}, err
	}
	return ConfigComplete{CorrelationID: id}, nil
}

// Keepalive carries the rotating nonce the host sends while a link is
// connected.
type Keepalive struct {
	Nonce uint16
}

func (Keepalive) messageType() uint8 { return schema.MsgKeepalive }

func (k Keepalive) fields() []tlv.Field {
	return []tlv.Field{tlv.U16(schema.FieldNonce, k.Nonce)}
}

func decodeKeepalive(fields []tlv.Field) (Keepalive, error) {
	f, _ := tlv.GetField(fields, schema.FieldNonce)
	nonce, err := f.AsU16()
	if err != nil {
		return Keepalive{}, err
	}
	return Keepalive{Nonce: nonce}, nil
}

// Control serializes the host-side control traffic for a link engine.
// It satisfies the link package's ControlEncoder without that package
// ever seeing these message types.
type Control struct{}

func (Control) HandshakePayload(correlationID uint32) ([]byte, error) {
	return Encode(ConfigRequest{CorrelationID: correlationID})
}

func (Control) KeepalivePayload(nonce uint16) ([]byte, error) {
	return Encode(Keepalive{Nonce: nonce})
}
