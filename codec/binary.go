// Package codec implements the two on-disk encodings for a job or trigger's
// data map: an opaque gob blob (BinaryCodec) and a flat string-only key/value
// form (PropertiesCodec).
package codec

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func init() {
	// Registered so gob can encode the interface values a data map commonly
	// holds beyond the predeclared types it already knows. Job code that needs
	// other concrete types registers them the same way at package init.
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// BinaryCodec serializes a data map with encoding/gob. It never rejects a
// value: anything gob can encode is accepted, including nested maps and
// slices. This is the default codec.
type BinaryCodec struct{}

var _ jobstore.Codec = BinaryCodec{}

func (BinaryCodec) Serialize(data map[string]any, dirty bool) ([]byte, bool, error) {
	if !dirty {
		return nil, false, nil
	}
	if len(data) == 0 {
		return nil, true, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, false, errors.Wrap(err, "codec: gob encode job data map")
	}
	return buf.Bytes(), true, nil
}

func (BinaryCodec) Deserialize(encoded []byte) (map[string]any, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	var data map[string]any
	if err := gob.NewDecoder(bytes.NewReader(encoded)).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "codec: gob decode job data map")
	}
	return data, nil
}
