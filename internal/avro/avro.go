// Package avro implements the single Avro record this repo needs —
// com.moment.risk.EnterpriseActionEvent — plus the Confluent
// wire-format framing around it. The schemaless binary encoding covers
// only the primitive types this one schema uses: string, int, boolean,
// and a ["null","float"] union.
package avro

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EnterpriseActionEventSchema is the Avro record schema for an
// enterprise action event. The timestamp travels as a string and the
// nullable risk_score tail field is reserved for enrichment by
// downstream producers.
const EnterpriseActionEventSchema = `{
  "type": "record",
  "name": "EnterpriseActionEvent",
  "namespace": "com.moment.risk",
  "fields": [
    {"name": "event_id", "type": "string"},
    {"name": "actor_id", "type": "string"},
    {"name": "action", "type": "string"},
    {"name": "role", "type": "string"},
    {"name": "frequency_last_60s", "type": "int"},
    {"name": "geo_change", "type": "boolean"},
    {"name": "timestamp", "type": "string"},
    {"name": "session_id", "type": "string"},
    {"name": "resource_sensitivity", "type": "string"},
    {"name": "risk_score", "type": ["null", "float"], "default": null}
  ]
}`

// Subject is the default schema-registry subject name for this record.
const Subject = "enterprise-action-events-value"

// MagicByte is the Confluent wire-format magic byte (always zero)
// preceding every schema-registry-backed payload.
const MagicByte = 0x00

// WirePrefixLen is the length of the Confluent wire-format header:
// one magic byte plus a 4-byte big-endian schema ID.
const WirePrefixLen = 5

// Record is the plain field set of EnterpriseActionEventSchema. It
// has no dependency on internal/models so this package stays a
// self-contained, independently testable codec; internal/wirecodec
// converts to/from models.Event.
type Record struct {
	EventID             string
	ActorID             string
	Action              string
	Role                string
	FrequencyLast60s    int32
	GeoChange           bool
	Timestamp           string
	SessionID           string
	ResourceSensitivity string
	RiskScore           *float32
}

// Encode writes r as a schemaless Avro binary body (no wire prefix).
func Encode(r Record) []byte {
	buf := make([]byte, 0, 128)
	buf = appendString(buf, r.EventID)
	buf = appendString(buf, r.ActorID)
	buf = appendString(buf, r.Action)
	buf = appendString(buf, r.Role)
	buf = appendLong(buf, int64(r.FrequencyLast60s))
	buf = appendBool(buf, r.GeoChange)
	buf = appendString(buf, r.Timestamp)
	buf = appendString(buf, r.SessionID)
	buf = appendString(buf, r.ResourceSensitivity)
	if r.RiskScore == nil {
		buf = appendLong(buf, 0) // union branch 0: null
	} else {
		buf = appendLong(buf, 1) // union branch 1: float
		buf = appendFloat(buf, *r.RiskScore)
	}
	return buf
}

// Decode reads a schemaless Avro binary body produced by Encode.
func Decode(body []byte) (Record, error) {
	var r Record
	d := &decoder{buf: body}

	var err error
	if r.EventID, err = d.readString(); err != nil {
		return r, fmt.Errorf("avro: event_id: %w", err)
	}
	if r.ActorID, err = d.readString(); err != nil {
		return r, fmt.Errorf("avro: actor_id: %w", err)
	}
	if r.Action, err = d.readString(); err != nil {
		return r, fmt.Errorf("avro: action: %w", err)
	}
	if r.Role, err = d.readString(); err != nil {
		return r, fmt.Errorf("avro: role: %w", err)
	}
	freq, err := d.readLong()
	if err != nil {
		return r, fmt.Errorf("avro: frequency_last_60s: %w", err)
	}
	r.FrequencyLast60s = int32(freq)
	if r.GeoChange, err = d.readBool(); err != nil {
		return r, fmt.Errorf("avro: geo_change: %w", err)
	}
	if r.Timestamp, err = d.readString(); err != nil {
		return r, fmt.Errorf("avro: timestamp: %w", err)
	}
	if r.SessionID, err = d.readString(); err != nil {
		return r, fmt.Errorf("avro: session_id: %w", err)
	}
	if r.ResourceSensitivity, err = d.readString(); err != nil {
		return r, fmt.Errorf("avro: resource_sensitivity: %w", err)
	}
	branch, err := d.readLong()
	if err != nil {
		return r, fmt.Errorf("avro: risk_score union: %w", err)
	}
	if branch == 1 {
		f, err := d.readFloat()
		if err != nil {
			return r, fmt.Errorf("avro: risk_score: %w", err)
		}
		r.RiskScore = &f
	}
	return r, nil
}

// Wrap prepends the Confluent wire-format header to an Avro body.
func Wrap(schemaID uint32, body []byte) []byte {
	out := make([]byte, WirePrefixLen+len(body))
	out[0] = MagicByte
	binary.BigEndian.PutUint32(out[1:5], schemaID)
	copy(out[5:], body)
	return out
}

// Unwrap splits a Confluent wire-format payload into its schema ID and
// Avro body. It returns an error if the payload is too short or its
// magic byte does not match.
func Unwrap(data []byte) (schemaID uint32, body []byte, err error) {
	if len(data) < WirePrefixLen {
		return 0, nil, fmt.Errorf("avro: payload too short for wire prefix (%d bytes)", len(data))
	}
	if data[0] != MagicByte {
		return 0, nil, fmt.Errorf("avro: invalid magic byte: %d", data[0])
	}
	schemaID = binary.BigEndian.Uint32(data[1:5])
	return schemaID, data[5:], nil
}

// IsWireFormat reports whether data looks like a Confluent wire-format
// payload (as opposed to a JSON document, which this repo uses as the
// default encoding).
func IsWireFormat(data []byte) bool {
	return len(data) >= WirePrefixLen && data[0] == MagicByte
}

func zigzagEncode(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

func zigzagDecode(n uint64) int64 {
	return int64(n>>1) ^ -int64(n&1)
}

func appendLong(buf []byte, n int64) []byte {
	z := zigzagEncode(n)
	for z >= 0x80 {
		buf = append(buf, byte(z)|0x80)
		z >>= 7
	}
	return append(buf, byte(z))
}

func appendString(buf []byte, s string) []byte {
	buf = appendLong(buf, int64(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendFloat(buf []byte, f float32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(f))
	return append(buf, tmp[:]...)
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) readLong() (int64, error) {
	var result uint64
	var shift uint
	for {
		if d.pos >= len(d.buf) {
			return 0, fmt.Errorf("unexpected end of buffer")
		}
		b := d.buf[d.pos]
		d.pos++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("varint too long")
		}
	}
	return zigzagDecode(result), nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readLong()
	if err != nil {
		return "", err
	}
	if n < 0 || d.pos+int(n) > len(d.buf) {
		return "", fmt.Errorf("string length %d out of bounds", n)
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s, nil
}

func (d *decoder) readBool() (bool, error) {
	if d.pos >= len(d.buf) {
		return false, fmt.Errorf("unexpected end of buffer")
	}
	b := d.buf[d.pos]
	d.pos++
	return b != 0, nil
}

func (d *decoder) readFloat() (float32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, fmt.Errorf("unexpected end of buffer")
	}
	bits := binary.LittleEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return math.Float32frombits(bits), nil
}
