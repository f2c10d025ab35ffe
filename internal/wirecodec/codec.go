// Package wirecodec picks between the default JSON encoding and the
// optional Confluent-wire Avro encoding for the Event type. JSON
// always works; Avro is used only once a schema registry endpoint is
// configured, and any Avro failure falls back to JSON with a logged
// warning rather than failing the stage.
package wirecodec

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/redwing-381/moment/internal/avro"
	"github.com/redwing-381/moment/internal/logging"
	"github.com/redwing-381/moment/internal/models"
	"github.com/redwing-381/moment/internal/schemaregistry"
)

// Config controls whether Avro is attempted at all.
type Config struct {
	Enabled     bool
	RegistryURL string
	APIKey      string
	APISecret   string
	Subject     string
}

// Codec encodes/decodes Events, transparently choosing JSON or
// Confluent-wire Avro. A zero-value *Codec (or one built with
// Config.Enabled false) always uses JSON, which is exactly the
// behavior a nil schema-registry endpoint should have.
type Codec struct {
	registry *schemaregistry.Client
	subject  string
	enabled  bool
	log      *logging.Logger

	mu         sync.Mutex
	schemaID   int32
	registered bool
}

// New constructs a Codec. When cfg.Enabled is false or cfg.RegistryURL
// is empty, the returned Codec encodes/decodes JSON only.
func New(cfg Config, log *logging.Logger) *Codec {
	subject := cfg.Subject
	if subject == "" {
		subject = avro.Subject
	}
	c := &Codec{subject: subject, log: log}
	if cfg.Enabled && cfg.RegistryURL != "" {
		c.registry = schemaregistry.New(cfg.RegistryURL, cfg.APIKey, cfg.APISecret, nil)
		c.enabled = true
	}
	return c
}

// EncodeEvent serializes e as Avro-wire bytes when Avro is enabled and
// the schema registry is reachable, falling back to JSON (with a
// logged warning) on any failure.
func (c *Codec) EncodeEvent(ctx context.Context, e models.Event) ([]byte, error) {
	if c == nil || !c.enabled {
		return json.Marshal(e)
	}

	id, err := c.ensureSchema(ctx)
	if err != nil {
		c.warnFallback("register avro schema", err)
		return json.Marshal(e)
	}

	body := avro.Encode(toRecord(e))
	return avro.Wrap(uint32(id), body), nil
}

// DecodeEvent accepts either JSON or Confluent-wire Avro payloads,
// detecting the format from the leading magic byte.
func (c *Codec) DecodeEvent(ctx context.Context, data []byte) (models.Event, error) {
	if !avro.IsWireFormat(data) {
		var e models.Event
		err := json.Unmarshal(data, &e)
		return e, err
	}

	_, body, err := avro.Unwrap(data)
	if err != nil {
		return models.Event{}, fmt.Errorf("wirecodec: %w", err)
	}

	rec, err := avro.Decode(body)
	if err != nil {
		return models.Event{}, fmt.Errorf("wirecodec: decode avro body: %w", err)
	}
	return fromRecord(rec)
}

func (c *Codec) ensureSchema(ctx context.Context) (int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.registered {
		return c.schemaID, nil
	}
	id, err := c.registry.Register(ctx, c.subject, avro.EnterpriseActionEventSchema)
	if err != nil {
		return 0, err
	}
	c.schemaID = id
	c.registered = true
	return id, nil
}

func (c *Codec) warnFallback(action string, err error) {
	if c.log == nil {
		return
	}
	c.log.WithField("action", action).WithField("error", err).Warn("wirecodec: avro path failed, falling back to JSON")
}

func toRecord(e models.Event) avro.Record {
	return avro.Record{
		EventID:             e.EventID,
		ActorID:             e.ActorID,
		Action:              e.Action,
		Role:                e.Role,
		FrequencyLast60s:    int32(e.FrequencyLast60s),
		GeoChange:           e.GeoChange,
		Timestamp:           strconv.FormatInt(e.Timestamp, 10),
		SessionID:           e.SessionID,
		ResourceSensitivity: string(e.ResourceSensitivity),
	}
}

func fromRecord(r avro.Record) (models.Event, error) {
	ts, err := strconv.ParseInt(r.Timestamp, 10, 64)
	if err != nil {
		return models.Event{}, fmt.Errorf("wirecodec: parse timestamp %q: %w", r.Timestamp, err)
	}
	return models.Event{
		EventID:             r.EventID,
		ActorID:             r.ActorID,
		Action:              r.Action,
		Role:                r.Role,
		FrequencyLast60s:    int(r.FrequencyLast60s),
		GeoChange:           r.GeoChange,
		Timestamp:           ts,
		SessionID:           r.SessionID,
		ResourceSensitivity: models.Sensitivity(r.ResourceSensitivity),
	}, nil
}
