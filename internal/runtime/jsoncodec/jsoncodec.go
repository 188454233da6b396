// Package jsoncodec is the JSON codec used for envelope bodies, Redis mirror
// records and read API responses.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// ConfigStd keeps encoding/json semantics (sorted map keys, HTML escaping,
// json.Marshaler support) so bodies stay byte-stable across replays.
var api = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v followed by a newline, like json.Encoder.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Decode reads one JSON value from r.
func Decode(r io.Reader, v any) error {
	return api.NewDecoder(r).Decode(v)
}
