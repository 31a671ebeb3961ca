package message

import (
	"fmt"
	"strings"

	"github.com/vitalmesh/meshlink/internal/protocol/schema"
	"github.com/vitalmesh/meshlink/internal/protocol/tlv"
)

// RiskLevel is the triage verdict attached to a health report.
type RiskLevel string

const (
	RiskGreen  RiskLevel = "green"
	RiskYellow RiskLevel = "yellow"
	RiskRed    RiskLevel = "red"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskGreen, RiskYellow, RiskRed:
		return true
	}
	return false
}

// HealthReport is the structured triage verdict relayed across the
// mesh. The json tags cover the relay's admin surface; the wire uses
// TLV fields only.
type HealthReport struct {
	Person         string    `json:"person"`
	TimestampMS    uint64    `json:"timestamp_ms"`
	Risk           RiskLevel `json:"risk"`
	Recommendation string    `json:"recommendation"`
	Alert          bool      `json:"alert"`
}

func (r HealthReport) Validate() error {
	if strings.TrimSpace(r.Person) == "" {
		return fmt.Errorf("health report missing person")
	}
	if r.TimestampMS == 0 {
		return fmt.Errorf("health report missing timestamp_ms")
	}
	if !r.Risk.Valid() {
		return fmt.Errorf("health report invalid risk level %q", r.Risk)
	}
	if strings.TrimSpace(r.Recommendation) == "" {
		return fmt.Errorf("health report missing recommendation")
	}
	return nil
}

func (HealthReport) messageType() uint8 { return schema.MsgHealthReport }

func (r HealthReport) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldPerson, r.Person),
		tlv.U64(schema.FieldTimestampMS, r.TimestampMS),
		tlv.String(schema.FieldRiskLevel, string(r.Risk)),
		tlv.String(schema.FieldRecommendation, r.Recommendation),
		tlv.Bool(schema.FieldAlert, r.Alert),
	}
}

func decodeHealthReport(fields []tlv.Field) (HealthReport, error) {
	tsField, _ := tlv.GetField(fields, schema.FieldTimestampMS)
	ts, err := tsField.AsU64()
	if err != nil {
		return HealthReport{}, err
	}
	alertField, _ := tlv.GetField(fields, schema.FieldAlert)
	alert, err := alertField.AsBool()
	if err != nil {
		return HealthReport{}, err
	}
	return HealthReport{
		Person:         requiredString(fields, schema.FieldPerson),
		TimestampMS:    ts,
		Risk:           RiskLevel(requiredString(fields, schema.FieldRiskLevel)),
		Recommendation: requiredString(fields, schema.FieldRecommendation),
		Alert:          alert,
	}, nil
}

// TextMessage is a free-text payload, either raw vitals from the device
// or operator chat.
type TextMessage struct {
	Sender string
	Body   string
}

func (m TextMessage) Validate() error {
	if strings.TrimSpace(m.Sender) == "" {
		return fmt.Errorf("text message missing sender")
	}
	if m.Body == "" {
		return fmt.Errorf("text message missing body")
	}
	return nil
}

func (TextMessage) messageType() uint8 { return schema.MsgTextMessage }

func (m TextMessage) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldSender, m.Sender),
		tlv.String(schema.FieldBody, m.Body),
	}
}

func decodeTextMessage(fields []tlv.Field) (TextMessage, error) {
	return TextMessage{
		Sender: requiredString(fields, schema.FieldSender),
		Body:   requiredString(fields, schema.FieldBody),
	}, nil
}
