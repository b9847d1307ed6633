package broadcast

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// ErrCorruptMessage is returned when stored or received bytes do not decode.
var ErrCorruptMessage = errors.New("corrupt broadcast message")

// Kind distinguishes state snapshots from discrete actions.
type Kind string

const (
	KindState  Kind = "state"
	KindAction Kind = "action"
)

// Message is one notification written to the shared medium.
type Message struct {
	ContextID string `cbor:"1,keyasint"`
	Kind      Kind   `cbor:"2,keyasint"`
	Payload   []byte `cbor:"3,keyasint,omitempty"`
	// Timestamp is unix milliseconds on the publisher's clock.
	Timestamp int64 `cbor:"4,keyasint"`
}

// Handler receives messages published on a subscribed channel. Handlers must
// not block for long; MemoryBus runs them on the publisher's goroutine.
type Handler func(Message)

// Subscription is an active channel subscription.
type Subscription interface {
	Close() error
}

// Bus is the shared medium between execution contexts.
type Bus interface {
	Publish(ctx context.Context, channel string, msg Message) error
	Subscribe(ctx context.Context, channel string, h Handler) (Subscription, error)
	// Latest returns the last message written to channel. ok is false when
	// nothing has been written yet.
	Latest(ctx context.Context, channel string) (msg Message, ok bool, err error)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("broadcast: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("broadcast: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode marshals v with deterministic CBOR. Consumers use it for payloads.
func Encode(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Decode unmarshals CBOR data into v.
func Decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptMessage, err)
	}
	return nil
}

func encodeMessage(msg Message) ([]byte, error) {
	return Encode(msg)
}

func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := Decode(data, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
