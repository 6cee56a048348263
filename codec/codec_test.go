package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stiez/opensymphony-quartz-backup/codec"
	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

func TestBinaryCodec_RoundTrip(t *testing.T) {
	c := codec.BinaryCodec{}
	in := map[string]any{"count": 3, "name": "widget", "tags": []any{"a", "b"}}

	encoded, write, err := c.Serialize(in, true)
	require.NoError(t, err)
	assert.True(t, write)

	out, err := c.Deserialize(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBinaryCodec_NotDirtySkipsWrite(t *testing.T) {
	c := codec.BinaryCodec{}
	encoded, write, err := c.Serialize(map[string]any{"x": 1}, false)
	require.NoError(t, err)
	assert.False(t, write)
	assert.Nil(t, encoded)
}

func TestBinaryCodec_EmptyMapStillWrites(t *testing.T) {
	c := codec.BinaryCodec{}
	encoded, write, err := c.Serialize(map[string]any{}, true)
	require.NoError(t, err)
	assert.True(t, write)

	out, err := c.Deserialize(encoded)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPropertiesCodec_RoundTrip(t *testing.T) {
	c := codec.PropertiesCodec{}
	in := map[string]any{"name": "widget", "status": "active"}

	encoded, write, err := c.Serialize(in, true)
	require.NoError(t, err)
	assert.True(t, write)

	out, err := c.Deserialize(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPropertiesCodec_DeterministicOrdering(t *testing.T) {
	c := codec.PropertiesCodec{}
	in := map[string]any{"z": "1", "a": "2", "m": "3"}

	first, _, err := c.Serialize(in, true)
	require.NoError(t, err)
	second, _, err := c.Serialize(in, true)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPropertiesCodec_RejectsNonStringValue(t *testing.T) {
	c := codec.PropertiesCodec{}
	_, _, err := c.Serialize(map[string]any{"count": 3}, true)
	assert.ErrorIs(t, err, jobstore.ErrCodecConstraint)
}

func TestPropertiesCodec_RejectsNilValue(t *testing.T) {
	c := codec.PropertiesCodec{}
	_, _, err := c.Serialize(map[string]any{"missing": nil}, true)
	assert.ErrorIs(t, err, jobstore.ErrCodecConstraint)
}

func TestPropertiesCodec_EscapesEmbeddedNewlines(t *testing.T) {
	c := codec.PropertiesCodec{}
	in := map[string]any{"note": "line one\nline two"}

	encoded, _, err := c.Serialize(in, true)
	require.NoError(t, err)
	out, err := c.Deserialize(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPropertiesCodec_DistinguishesLiteralBackslashNFromRealNewline(t *testing.T) {
	c := codec.PropertiesCodec{}
	in := map[string]any{
		"literal": `a\nb`,
		"real":    "a\nb",
	}

	encoded, _, err := c.Serialize(in, true)
	require.NoError(t, err)
	out, err := c.Deserialize(encoded)
	require.NoError(t, err)
	assert.Equal(t, in, out, "a literal backslash-n sequence must not round-trip into an actual newline")
}

func TestStripTransient(t *testing.T) {
	marker := markerFunc(func(key string) bool { return key == "_tmp" })
	data := map[string]any{"keep": 1, "_tmp": 2}
	out := jobstore.StripTransient(data, marker)
	assert.Equal(t, map[string]any{"keep": 1}, out)
	assert.Contains(t, data, "_tmp", "StripTransient must not mutate its input")
}

type markerFunc func(key string) bool

func (f markerFunc) IsTransientKey(key string) bool { return f(key) }
