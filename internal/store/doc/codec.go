package doc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// JSON codec shared by the redis and postgres backends. Timestamps are kept
// distinguishable from strings by boxing them as {"$ts": RFC3339Nano};
// everything else is plain JSON. Integers survive round-trips via
// json.Number.

const tsKey = "$ts"

// Encode marshals fields to JSON with boxed timestamps.
func Encode(f Fields) ([]byte, error) {
	m := make(map[string]any, len(f))
	for k, v := range f {
		m[k] = encodeValue(v)
	}
	return json.Marshal(m)
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	f := make(Fields, len(m))
	for k, v := range m {
		dv, err := decodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		f[k] = dv
	}
	return f, nil
}

// BoxTime renders a timestamp the way Encode stores it. Backends use it to
// build query values that compare equal to stored JSON.
func BoxTime(t time.Time) any {
	return map[string]any{tsKey: t.UTC().Format(time.RFC3339Nano)}
}

func encodeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return BoxTime(t)
	}
	return v
}

func decodeValue(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if raw, ok := x[tsKey]; ok && len(x) == 1 {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("malformed timestamp box")
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
		return nil, fmt.Errorf("nested objects not supported")
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return v, nil
	}
}

// IndexKey renders a value into a short stable token usable inside backend
// key names, regardless of the value's type or content.
func IndexKey(v any) string {
	b, _ := json.Marshal(encodeValue(v))
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:12])
}

// ValuesEqual compares a stored value with a query value across the numeric
// and timestamp representations the codec can produce.
func ValuesEqual(stored, want any) bool {
	if st, ok := stored.(time.Time); ok {
		wt, ok := want.(time.Time)
		return ok && st.Equal(wt)
	}
	if sn, ok := toInt64(stored); ok {
		if wn, ok := toInt64(want); ok {
			return sn == wn
		}
	}
	return stored == want
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	}
	return 0, false
}

