package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vitalmesh/meshlink/internal/protocol/tlv"
)

// Message type IDs from the wire contract.
const (
	MsgConfigRequest  uint8 = 1
	MsgConfigComplete uint8 = 2
	MsgKeepalive      uint8 = 3
	MsgHealthReport   uint8 = 4
	MsgTextMessage    uint8 = 5
	MsgEntityRecord   uint8 = 6
)

// Field IDs from the wire contract.
const (
	FieldCorrelationID uint8 = 1
	FieldNonce         uint8 = 2

	FieldPerson         uint8 = 10
	FieldTimestampMS    uint8 = 11
	FieldRiskLevel      uint8 = 12
	FieldRecommendation uint8 = 13
	FieldAlert          uint8 = 14

	FieldSender uint8 = 20
	FieldBody   uint8 = 21

	FieldEntityID   uint8 = 30
	FieldLabel      uint8 = 31
	FieldHardwareID uint8 = 32
	FieldLongitude  uint8 = 33
	FieldLatitude   uint8 = 34
	FieldAltitude   uint8 = 35
)

type Requirement struct {
	ID   uint8
	Type uint8
}

type ValidationError struct {
	MessageType uint8
	FieldID     uint8
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint8][]Requirement{
	MsgConfigRequest: {
		{FieldCorrelationID, tlv.TypeU32},
	},
	MsgConfigComplete: {
		{FieldCorrelationID, tlv.TypeU32},
	},
	MsgKeepalive: {
		{FieldNonce, tlv.TypeU16},
	},
	MsgHealthReport: {
		{FieldPerson, tlv.TypeString},
		{FieldTimestampMS, tlv.TypeU64},
		{FieldRiskLevel, tlv.TypeString},
		{FieldRecommendation, tlv.TypeString},
		{FieldAlert, tlv.TypeBool},
	},
	MsgTextMessage: {
		{FieldSender, tlv.TypeString},
		{FieldBody, tlv.TypeString},
	},
	MsgEntityRecord: {
		{FieldEntityID, tlv.TypeString},
		{FieldLabel, tlv.TypeString},
		{FieldHardwareID, tlv.TypeString},
		{FieldLongitude, tlv.TypeU64},
		{FieldLatitude, tlv.TypeU64},
		{FieldAltitude, tlv.TypeU64},
	},
}

// Known reports whether messageType is part of the wire contract.
func Known(messageType uint8) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate enforces required fields and required field types for a message type.
// Fields beyond the requirements are ignored.
func Validate(messageType uint8, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Debug().Uint8("message_type", messageType).Msg("schema: unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Debug().
				Uint8("message_type", messageType).
				Uint8("field_id", req.ID).
				Msg("schema: missing required field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint8("message_type", messageType).
				Uint8("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema: field type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
