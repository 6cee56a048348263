package jobstore

// Codec serializes and deserializes a trigger's or job's data map. Two
// implementations live in package codec: BinaryCodec (opaque blob, the
// default) and PropertiesCodec (string-only key/value form).
//
// Serialize must honor the write-skip optimization: when dirty is false, it
// returns (nil, false, nil) and the caller must leave the persisted column
// untouched rather than overwrite it with an empty value.
type Codec interface {
	Serialize(data map[string]any, dirty bool) (encoded []byte, shouldWrite bool, err error)
	Deserialize(encoded []byte) (map[string]any, error)
}

// TransientKeyMarker is implemented by callers that need to strip transient
// entries (façade-marked, not persisted) before serialization. Transient
// entries are removed before serialization in either codec mode.
type TransientKeyMarker interface {
	IsTransientKey(key string) bool
}

// StripTransient removes every key the marker considers transient. The input is
// never mutated: when marker is nil or data is empty, data itself is returned;
// otherwise the result is a new map.
func StripTransient(data map[string]any, marker TransientKeyMarker) map[string]any {
	if marker == nil || len(data) == 0 {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if marker.IsTransientKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}
