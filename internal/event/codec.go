package event

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Codec serializes envelopes for broker transport. JSON is the public
// contract; CBOR is a compact option for internal broker traffic.
type Codec interface {
	ContentType() string
	Marshal(env *Envelope) ([]byte, error)
	Unmarshal(data []byte, env *Envelope) error
}

// JSONCodec encodes envelopes as JSON.
type JSONCodec struct{}

// ContentType returns the MIME type for JSON-encoded events.
func (JSONCodec) ContentType() string { return "application/json" }

// Marshal encodes the envelope as JSON.
func (JSONCodec) Marshal(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a JSON-encoded envelope.
func (JSONCodec) Unmarshal(data []byte, env *Envelope) error {
	if err := json.Unmarshal(data, env); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	return nil
}

// CBORCodec encodes envelopes as CBOR.
type CBORCodec struct{}

// ContentType returns the MIME type for CBOR-encoded events.
func (CBORCodec) ContentType() string { return "application/cbor" }

// Marshal encodes the envelope as CBOR.
func (CBORCodec) Marshal(env *Envelope) ([]byte, error) {
	data, err := cbor.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a CBOR-encoded envelope.
func (CBORCodec) Unmarshal(data []byte, env *Envelope) error {
	if err := cbor.Unmarshal(data, env); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	return nil
}
