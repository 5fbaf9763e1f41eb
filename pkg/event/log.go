package event

import (
	"encoding/json"

	"github.com/go-kit/kit/log"
)

// LogWriter records events as structured log lines. It is the
// daemon's default history sink; external sinks implement
// EventWriter the same way.
type LogWriter struct {
	Logger log.Logger
}

var _ EventWriter = LogWriter{}

func (w LogWriter) LogEvent(e Event) error {
	meta := ""
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		meta = string(b)
	}
	return w.Logger.Log(
		"event", e.Type,
		"app", e.App,
		"environment", e.Environment,
		"msg", e.String(),
		"metadata", meta,
	)
}
