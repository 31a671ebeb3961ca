package schema

import (
	"testing"

	"github.com/vitalmesh/meshlink/internal/protocol/tlv"
	"github.com/vitalmesh/meshlink/internal/testutil/testlog"
)

func healthReportFields() []tlv.Field {
	return []tlv.Field{
		tlv.String(FieldPerson, "dispatch-7"),
		tlv.U64(FieldTimestampMS, 1724300000000),
		tlv.String(FieldRiskLevel, "yellow"),
		tlv.String(FieldRecommendation, "hydrate and rest"),
		tlv.Bool(FieldAlert, false),
	}
}

func TestValidateHealthReportRequiredFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgHealthReport, healthReportFields()); err != nil {
		t.Fatalf("validate health report: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := append(healthReportFields(), tlv.Bytes(250, []byte{0x01}))
	if err := Validate(MsgHealthReport, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.String(FieldPerson, "dispatch-7")}
	err := Validate(MsgHealthReport, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldTimestampMS || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := healthReportFields()
	fields[2] = tlv.U32(FieldRiskLevel, 2)
	err := Validate(MsgHealthReport, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldRiskLevel || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageTypeDeterministic(t *testing.T) {
	testlog.Start(t)
	err := Validate(99, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
	if Known(99) {
		t.Fatalf("message type 99 should not be known")
	}
}

func TestValidateControlMessages(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgConfigRequest, []tlv.Field{tlv.U32(FieldCorrelationID, 7)}); err != nil {
		t.Fatalf("validate config request: %v", err)
	}
	if err := Validate(MsgKeepalive, []tlv.Field{tlv.U16(FieldNonce, 0xBEEF)}); err != nil {
		t.Fatalf("validate keepalive: %v", err)
	}
}

func TestValidateEntityRecordRequiresGeoFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.String(FieldEntityID, "entity-1"),
		tlv.String(FieldLabel, "medic"),
		tlv.String(FieldHardwareID, "a1b2c3d4"),
		tlv.U64(FieldLongitude, 0),
		tlv.U64(FieldLatitude, 0),
	}
	err := Validate(MsgEntityRecord, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldAltitude {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}
