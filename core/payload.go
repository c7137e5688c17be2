package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"memledger/protocol/params"
)

// Payload is the schema-light data map attached to outputs. Values are
// restricted to JSON scalars, lists and nested maps within the limits in
// params; numbers are held as json.Number so their text survives storage.
type Payload map[string]any

// NormalizePayload copies m into a Payload, converting Go numeric types to
// json.Number and enforcing key, depth and size limits.
func NormalizePayload(m map[string]any) (Payload, error) {
	if m == nil {
		return nil, nil
	}
	out, err := normalizeMap(m, 1)
	if err != nil {
		return nil, err
	}
	p := Payload(out)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks an existing payload against the limits.
func (p Payload) Validate() error {
	if p == nil {
		return nil
	}
	if _, err := normalizeMap(p, 1); err != nil {
		return err
	}
	encoded, err := CanonicalJSON(map[string]any(p))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(encoded) > params.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidPayload, len(encoded), params.MaxPayloadBytes)
	}
	return nil
}

// UnmarshalJSON keeps numbers as json.Number.
func (p *Payload) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*p = m
	return nil
}

func normalizeMap(m map[string]any, depth int) (map[string]any, error) {
	if depth > params.MaxPayloadDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidPayload, params.MaxPayloadDepth)
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == "" || len(k) > params.MaxPayloadKeyLen {
			return nil, fmt.Errorf("%w: key length %d", ErrInvalidPayload, len(k))
		}
		nv, err := normalizeValue(v, depth)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any, depth int) (any, error) {
	switch val := v.(type) {
	case nil, bool, string:
		return val, nil
	case json.Number:
		if _, err := strconv.ParseFloat(val.String(), 64); err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrInvalidPayload, val)
		}
		return val, nil
	case float64:
		return floatNumber(val)
	case float32:
		return floatNumber(float64(val))
	case int:
		return json.Number(strconv.FormatInt(int64(val), 10)), nil
	case int32:
		return json.Number(strconv.FormatInt(int64(val), 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(val, 10)), nil
	case uint:
		return json.Number(strconv.FormatUint(uint64(val), 10)), nil
	case uint32:
		return json.Number(strconv.FormatUint(uint64(val), 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(val, 10)), nil
	case Payload:
		return normalizeMap(val, depth+1)
	case map[string]any:
		return normalizeMap(val, depth+1)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, s := range val {
			m[k] = s
		}
		return normalizeMap(m, depth+1)
	case []string:
		if depth+1 > params.MaxPayloadDepth {
			return nil, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidPayload, params.MaxPayloadDepth)
		}
		list := make([]any, len(val))
		for i, s := range val {
			list[i] = s
		}
		return list, nil
	case []any:
		if depth+1 > params.MaxPayloadDepth {
			return nil, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidPayload, params.MaxPayloadDepth)
		}
		list := make([]any, len(val))
		for i, item := range val {
			nv, err := normalizeValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			list[i] = nv
		}
		return list, nil
	default:
		return nil, fmt.Errorf("%w: unsupported value type %T", ErrInvalidPayload, v)
	}
}

func floatNumber(f float64) (json.Number, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite number", ErrInvalidPayload)
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return json.Number(b), nil
}

func jsonUint(n uint64) json.Number {
	return json.Number(strconv.FormatUint(n, 10))
}
