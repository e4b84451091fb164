// Package fingerprint computes the stable content hash WebhookReceiver uses
// for dedup and for the (module, external_id, fingerprint) uniqueness
// constraint on WebhookEvent (spec.md §4.1).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Compute canonicalizes raw (recursively sorting every object's keys) and
// returns the hex-encoded SHA-256 of the canonical bytes. Two payloads that
// differ only in key order or insignificant whitespace fingerprint
// identically.
func Compute(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	canon, err := json.Marshal(canonicalize(v))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize rebuilds v into a form that always json.Marshal's with
// object keys in sorted order, at every nesting depth.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedObject, 0, len(keys))
		for _, k := range keys {
			ordered = append(ordered, kv{k, canonicalize(t[k])})
		}
		return ordered
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

type kv struct {
	Key string
	Val any
}

// orderedObject marshals as a JSON object preserving insertion order, which
// canonicalize always populates in sorted-key order.
type orderedObject []kv

func (o orderedObject) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		valBytes, err := json.Marshal(pair.Val)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}
