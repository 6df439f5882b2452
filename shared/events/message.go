package events

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
	jsoniter "github.com/json-iterator/go"
)

var (
	jsonAPI       = jsoniter.ConfigCompatibleWithStandardLibrary
	jsonNumberAPI = jsoniter.Config{
		EscapeHTML:             true,
		SortMapKeys:            true,
		ValidateJsonRawMessage: true,
		UseNumber:              true,
	}.Froze()
)

// Entity is anything whose lifecycle can be published. EntityType is the
// type name as the application spells it ("Order", "TestObject").
type Entity interface {
	EntityType() string
	EntityID() any
}

// Event is the wire payload. Field order is the serialized key order.
type Event struct {
	EventName  string `json:"event_name"`
	EntityType string `json:"entity_type"`
	EntityID   any    `json:"entity_id"`
	Path       string `json:"path"`
}

// Codec builds payloads and classification attributes. It never mutates
// the entity and performs no I/O.
type Codec struct {
	baseAPIURL string
	source     string
	now        func() time.Time
}

func NewCodec(settings Settings) Codec {
	settings = settings.withDefaults()
	return Codec{
		baseAPIURL: settings.BaseAPIURL,
		source:     settings.Source,
		now:        time.Now,
	}
}

func (c Codec) Build(eventName string, entity Entity) Event {
	entityType := TypeName(entity)
	id := entity.EntityID()
	return Event{
		EventName:  eventName,
		EntityType: entityType,
		EntityID:   id,
		Path:       fmt.Sprintf("%s/%s/%v", c.baseAPIURL, inflection.Plural(entityType), id),
	}
}

func (c Codec) Encode(eventName string, entity Entity) ([]byte, Attributes, error) {
	if entity == nil {
		return nil, nil, errors.New("entity is nil")
	}
	payload, err := jsonAPI.Marshal(c.Build(eventName, entity))
	if err != nil {
		return nil, nil, err
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	attrs := Attributes{
		"event_name":      StringAttribute(eventName),
		"source":          StringAttribute(c.source),
		"time":            StringAttribute(now().Format(time.RFC3339)),
		"message_version": StringAttribute(MessageVersion),
	}
	return payload, attrs, nil
}

// Decode parses a payload produced by Encode. Numeric entity ids come back
// as json.Number.
func Decode(payload []byte) (Event, error) {
	var ev Event
	if err := jsonNumberAPI.Unmarshal(payload, &ev); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(ev.EventName) == "" {
		return Event{}, errors.New("event_name is required")
	}
	return ev, nil
}

type notification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// DecodeNotification accepts either a bare Event payload or an SNS
// notification envelope that carries the Event in its Message field.
func DecodeNotification(body string) (Event, error) {
	var n notification
	if err := jsonAPI.UnmarshalFromString(body, &n); err != nil {
		return Event{}, err
	}
	if n.Type == "Notification" || (n.Message != "" && n.Type == "") {
		return Decode([]byte(n.Message))
	}
	return Decode([]byte(body))
}

// TypeName is the snake_case entity type used in payloads and group ids.
func TypeName(entity Entity) string {
	return strings.ToLower(strcase.ToSnake(entity.EntityType()))
}

// GroupID orders FIFO deliveries per entity instance.
func GroupID(entity Entity) string {
	return fmt.Sprintf("%s.%v", TypeName(entity), entity.EntityID())
}

// EventName is "<EntityType>.<transition>" with the type as the application spells it.
func EventName(entity Entity, transition Transition) string {
	return entity.EntityType() + "." + string(transition)
}
