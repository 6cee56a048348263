package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/stiez/opensymphony-quartz-backup/jobstore"
)

// PropertiesCodec serializes a data map as newline-separated "key=value" pairs,
// sorted by key for deterministic output. Every key and value must already be a
// string; any other type, or an explicit nil value, is rejected with
// jobstore.ErrCodecConstraint rather than silently coerced.
type PropertiesCodec struct{}

var _ jobstore.Codec = PropertiesCodec{}

func (PropertiesCodec) Serialize(data map[string]any, dirty bool) ([]byte, bool, error) {
	if !dirty {
		return nil, false, nil
	}
	if len(data) == 0 {
		return nil, true, nil
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		v := data[k]
		if v == nil {
			return nil, false, errors.Wrapf(jobstore.ErrCodecConstraint, "key %q has a nil value", k)
		}
		s, ok := v.(string)
		if !ok {
			return nil, false, errors.Wrapf(jobstore.ErrCodecConstraint, "key %q has non-string value of type %T", k, v)
		}
		if strings.ContainsAny(k, "=\n") {
			return nil, false, errors.Wrapf(jobstore.ErrCodecConstraint, "key %q contains a reserved character", k)
		}
		fmt.Fprintf(&buf, "%s=%s\n", k, escapeValue(s))
	}
	return buf.Bytes(), true, nil
}

func (PropertiesCodec) Deserialize(encoded []byte) (map[string]any, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	data := make(map[string]any)
	scanner := bufio.NewScanner(bytes.NewReader(encoded))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, errors.Wrapf(jobstore.ErrCodecConstraint, "malformed property line %q", line)
		}
		data[line[:idx]] = unescapeValue(line[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "codec: scan properties payload")
	}
	return data, nil
}

// escapeValue encodes embedded newlines so a multi-line string value still
// round-trips through the single-line-per-key format. The backslash itself is
// escaped first (in the same pass, via strings.Replacer, so the backslash
// introduced by escaping a newline is never itself re-escaped) so a value
// already containing a literal "\n" two-character sequence doesn't collide
// with an escaped real newline.
var valueEscaper = strings.NewReplacer("\\", "\\\\", "\n", "\\n")

func escapeValue(s string) string {
	return valueEscaper.Replace(s)
}

// unescapeValue inverts escapeValue one escape sequence at a time, so "\\n"
// (escaped newline) and "\\\\" (escaped backslash) each resolve to exactly
// one output character, unlike a pair of sequential ReplaceAll calls.
func unescapeValue(s string) string {
	var buf strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				buf.WriteByte('\n')
				i++
				continue
			case '\\':
				buf.WriteByte('\\')
				i++
				continue
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
