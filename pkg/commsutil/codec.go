package commsutil

import (
	"encoding/json"
	"errors"
	"fmt"

	comms "github.com/nats-io/nats.go"
)

// ErrEmptyPayload is returned when decoding a message with no body.
var ErrEmptyPayload = errors.New("commsutil: empty payload")

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v interface{}) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(data, v)
}

// RespondJSON encodes v and sends it as the reply to msg.
func RespondJSON(msg *comms.Msg, v interface{}) error {
	data, err := EncodePayload(v)
	if err != nil {
		return fmt.Errorf("commsutil:codec - failed to encode reply: %w", err)
	}
	if err := msg.Respond(data); err != nil {
		return fmt.Errorf("commsutil:codec - failed to respond on %s: %w", msg.Subject, err)
	}
	return nil
}
