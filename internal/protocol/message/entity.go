package message

import (
	"fmt"
	"math"
	"strings"

	"github.com/vitalmesh/meshlink/internal/protocol/schema"
	"github.com/vitalmesh/meshlink/internal/protocol/tlv"
)

// EntityRecord describes a tracked device and its last known position.
// Coordinates travel as bit-cast float64 values.
type EntityRecord struct {
	EntityID   string
	Label      string
	HardwareID string
	Longitude  float64
	Latitude   float64
	Altitude   float64
}

func (e EntityRecord) Validate() error {
	if strings.TrimSpace(e.EntityID) == "" {
		return fmt.Errorf("entity record missing entity_id")
	}
	if strings.TrimSpace(e.HardwareID) == "" {
		return fmt.Errorf("entity record missing hardware_id")
	}
	if e.Longitude < -180 || e.Longitude > 180 {
		return fmt.Errorf("entity record longitude out of range: %v", e.Longitude)
	}
	if e.Latitude < -90 || e.Latitude > 90 {
		return fmt.Errorf("entity record latitude out of range: %v", e.Latitude)
	}
	return nil
}

func (EntityRecord) messageType() uint8 { return schema.MsgEntityRecord }

func (e EntityRecord) fields() []tlv.Field {
	return []tlv.Field{
		tlv.String(schema.FieldEntityID, e.EntityID),
		tlv.String(schema.FieldLabel, e.Label),
		tlv.String(schema.FieldHardwareID, e.HardwareID),
		tlv.U64(schema.FieldLongitude, math.Float64bits(e.Longitude)),
		tlv.U64(schema.FieldLatitude, math.Float64bits(e.Latitude)),
		tlv.U64(schema.FieldAltitude, math.Float64bits(e.Altitude)),
	}
}

func decodeEntityRecord(fields []tlv.Field) (EntityRecord, error) {
	lon, err := requiredFloat(fields, schema.FieldLongitude)
	if err != nil {
		return EntityRecord{}, err
	}
	lat, err := requiredFloat(fields, schema.FieldLatitude)
	if err != nil {
		return EntityRecord{}, err
	}
	alt, err := requiredFloat(fields, schema.FieldAltitude)
	if err != nil {
		return EntityRecord{}, err
	}
	return EntityRecord{
		EntityID:   requiredString(fields, schema.FieldEntityID),
		Label:      requiredString(fields, schema.FieldLabel),
		HardwareID: requiredString(fields, schema.FieldHardwareID),
		Longitude:  lon,
		Latitude:   lat,
		Altitude:   alt,
	}, nil
}

func requiredFloat(fields []tlv.Field, id uint8) (float64, error) {
	f, _ := tlv.GetField(fields, id)
	bits, err := f.AsU64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}
