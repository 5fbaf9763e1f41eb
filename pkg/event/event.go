package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/weaveworks/cascade/pkg/pipeline"
)

// These are all the types of events.
const (
	EventPromote   = "promote"
	EventCascade   = "cascade"
	EventSupersede = "supersede"
	EventMerge     = "merge"
	EventSettle    = "settle"
	EventRollback  = "rollback"
	EventFail      = "fail"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

type EventID int64

type Event struct {
	// ID for this event. Will be auto-set when saving if blank.
	ID EventID `json:"id"`

	// App affected by this event.
	App pipeline.App `json:"app"`

	// Environment the event happened in (the target environment,
	// for promotions).
	Environment pipeline.Environment `json:"environment"`

	// Type is the type of event.
	Type string `json:"type"`

	// StartedAt is the time the event began.
	StartedAt time.Time `json:"startedAt"`

	// LogLevel for this event. Used to indicate how important it is.
	// `debug|info|warn|error`
	LogLevel string `json:"logLevel"`

	// Message is a pre-formatted string for errors and other stuff.
	// Should only be used if metadata is empty.
	Message string `json:"message,omitempty"`

	// Metadata is Event.Type-specific metadata. If an event has no
	// metadata, this will be nil.
	Metadata Metadata `json:"metadata,omitempty"`
}

type EventWriter interface {
	// LogEvent records a message in the history.
	LogEvent(Event) error
}

func (e Event) String() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s in %s", e.Type, e.App, e.Environment)
}

// Metadata is the type-specific part of an event.
type Metadata interface {
	metadata()
}

// PromotionMetadata covers promote, cascade, supersede, merge,
// settle and fail events.
type PromotionMetadata struct {
	RequestID    string `json:"requestID,omitempty"`
	SourceEnv    string `json:"sourceEnv,omitempty"`
	Revision     string `json:"revision,omitempty"`
	CandidateTag string `json:"candidateTag,omitempty"`
	// SupersededBy is set on supersede events.
	SupersededBy string `json:"supersededBy,omitempty"`
	// Reason is set on fail events: the originating error.
	Reason string `json:"reason,omitempty"`
}

func (PromotionMetadata) metadata() {}

// RollbackMetadata covers rollback events.
type RollbackMetadata struct {
	Revision  string `json:"revision"`
	NoCascade bool   `json:"noCascade"`
}

func (RollbackMetadata) metadata() {}

// UnmarshalJSON decodes the tagged union; the type field says which
// metadata shape to expect.
func (e *Event) UnmarshalJSON(in []byte) error {
	type alias Event
	var wire struct {
		alias
		MetadataBytes json.RawMessage `json:"metadata,omitempty"`
	}
	if err := json.Unmarshal(in, &wire); err != nil {
		return err
	}
	*e = Event(wire.alias)

	if len(wire.MetadataBytes) == 0 {
		e.Metadata = nil
		return nil
	}
	switch e.Type {
	case EventRollback:
		var m RollbackMetadata
		if err := json.Unmarshal(wire.MetadataBytes, &m); err != nil {
			return err
		}
		e.Metadata = m
	case EventPromote, EventCascade, EventSupersede, EventMerge, EventSettle, EventFail:
		var m PromotionMetadata
		if err := json.Unmarshal(wire.MetadataBytes, &m); err != nil {
			return err
		}
		e.Metadata = m
	default:
		return errors.Errorf("unknown event type %q", e.Type)
	}
	return nil
}
