package modhost

import (
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// eventSource is the CloudEvents source attribute of every registry event.
const eventSource = "modhost/registry"

// NewCloudEvent builds a CloudEvent with a time-ordered id. An empty source
// means the registry. The subject names what the event is about: the module
// for module events, domain and path for handler events and the reload id
// for reload events.
func NewCloudEvent(eventType, source string, data any, metadata map[string]any) cloudevents.Event {
	if source == "" {
		source = eventSource
	}
	event := cloudevents.NewEvent()
	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if subject := eventSubject(data); subject != "" {
		event.SetSubject(subject)
	}

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	for key, value := range metadata {
		event.SetExtension(key, value)
	}
	return event
}

func eventSubject(data any) string {
	switch d := data.(type) {
	case ModuleEvent:
		if d.Path != "" {
			return d.Path
		}
		return d.Name
	case HandlerFailedEvent:
		return d.Domain + d.Path
	case ReloadEvent:
		return d.ReloadID
	}
	return ""
}

// generateEventID prefers UUIDv7 and falls back to v4.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// ValidateCloudEvent checks an event against the CloudEvents specification.
func ValidateCloudEvent(event cloudevents.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("CloudEvent validation failed: %w", err)
	}
	return nil
}
