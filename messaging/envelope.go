package messaging

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/godamri/helix-triggers/trigger"
)

var ErrBadEnvelope = errors.New("messaging: bad change event envelope")

// DecodeEvent parses a JSON ChangeEvent. When the producer did not assign an
// id, fallbackID is used so redeliveries of the same message share one.
func DecodeEvent(payload []byte, fallbackID, source string) (trigger.ChangeEvent, error) {
	var evt trigger.ChangeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return trigger.ChangeEvent{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	if evt.Collection == "" || evt.DocumentID == "" {
		return trigger.ChangeEvent{}, fmt.Errorf("%w: collection and documentId are required", ErrBadEnvelope)
	}
	if _, err := trigger.ParseOperation(string(evt.Operation)); err != nil {
		return trigger.ChangeEvent{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	if evt.ID == "" {
		evt.ID = fallbackID
	}
	if evt.Source == "" {
		evt.Source = source
	}
	return evt, nil
}
