// Package codec holds the wire encodings a protocol codec can be built from.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	cborEnc, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	// Maps decode with string keys so params survive a round trip as
	// map[string]any rather than map[any]any.
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// CBOR encodes with canonical key ordering, so equal values encode to
// equal bytes.
type CBOR struct{}

var (
	_ Marshaler   = CBOR{}
	_ Unmarshaler = CBOR{}
)

func (CBOR) Marshal(v any) ([]byte, error)        { return cborEnc.Marshal(v) }
func (CBOR) NewEncoder(w io.Writer) Encoder       { return cborEnc.NewEncoder(w) }
func (CBOR) Unmarshal(data []byte, dst any) error { return cborDec.Unmarshal(data, dst) }
func (CBOR) NewDecoder(r io.Reader) Decoder       { return cborDec.NewDecoder(r) }

// JSON is a human-readable alternative, used for debugging relays.
type JSON struct{}

var (
	_ Marshaler   = JSON{}
	_ Unmarshaler = JSON{}
)

func (JSON) Marshal(v any) ([]byte, error)        { return json.Marshal(v) }
func (JSON) NewEncoder(w io.Writer) Encoder       { return json.NewEncoder(w) }
func (JSON) Unmarshal(data []byte, dst any) error { return json.Unmarshal(data, dst) }
func (JSON) NewDecoder(r io.Reader) Decoder       { return json.NewDecoder(r) }
