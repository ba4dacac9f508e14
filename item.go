package imagestore

import (
	"encoding/base64"
	"fmt"
)

// Item is one image. Either its raw bytes or their base64 form is held;
// both accessors work regardless of which was supplied.
type Item struct {
	Name string

	raw     []byte
	encoded string
	hasRaw  bool
}

// NewItem builds an Item from raw image bytes.
func NewItem(name string, data []byte) Item {
	return Item{Name: name, raw: data, hasRaw: true}
}

// NewEncodedItem builds an Item from standard base64 text.
func NewEncodedItem(name, encoded string) Item {
	return Item{Name: name, encoded: encoded}
}

// Bytes returns the raw payload, decoding it if the item was built from text.
func (i Item) Bytes() ([]byte, error) {
	if i.hasRaw {
		return i.raw, nil
	}
	data, err := base64.StdEncoding.DecodeString(i.encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPayload, i.Name, err)
	}
	return data, nil
}

// Base64 returns the text-safe form of the payload.
func (i Item) Base64() string {
	if i.hasRaw {
		return base64.StdEncoding.EncodeToString(i.raw)
	}
	return i.encoded
}
