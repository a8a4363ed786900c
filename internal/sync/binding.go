package sync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rosterhq/rostersync/internal/remote"
)

// Binding pairs a local store key with an optional remote document path.
type Binding struct {
	// Key is the local store key, for example "roster-gold".
	Key string

	// Path is the remote document path relative to the organization, for
	// example "rosters/gold". Empty means local-only.
	Path string

	// Codec shapes the locally stored value into a remote document and
	// back. Nil means ObjectCodec.
	Codec Codec
}

func (b Binding) codec() Codec {
	if b.Codec == nil {
		return ObjectCodec
	}
	return b.Codec
}

func (b Binding) String() string {
	if b.Path == "" {
		return b.Key
	}
	return b.Key + " <-> " + b.Path
}

// Codec converts between the JSON text kept in the local store and the
// structured document kept in the remote store.
type Codec interface {
	// Encode turns a locally stored JSON value into a remote document.
	Encode(raw []byte) (remote.Document, error)

	// Decode turns a remote document into the JSON value to store locally.
	Decode(doc remote.Document) ([]byte, error)
}

// ObjectCodec stores a JSON object value as the remote document itself.
var ObjectCodec Codec = objectCodec{}

type objectCodec struct{}

func (objectCodec) Encode(raw []byte) (remote.Document, error) {
	doc, err := remote.DecodeDocument(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("value is not a JSON object: %w", err)
	}
	return doc, nil
}

func (objectCodec) Decode(doc remote.Document) ([]byte, error) {
	return json.Marshal(doc)
}

// FieldCodec wraps the local value in a single-field envelope, so that a
// roster array is stored remotely as {"athletes": [...]}.
func FieldCodec(name string) Codec {
	return fieldCodec{name: name}
}

type fieldCodec struct {
	name string
}

func (c fieldCodec) Encode(raw []byte) (remote.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return remote.Document{c.name: v}, nil
}

func (c fieldCodec) Decode(doc remote.Document) ([]byte, error) {
	v, ok := doc[c.name]
	if !ok {
		return nil, fmt.Errorf("document has no %q field", c.name)
	}
	return json.Marshal(v)
}
