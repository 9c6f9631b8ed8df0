// Package canonicaljson produces the canonical-JSON byte form a license
// or CRL document's signature is computed over: members of every object
// sorted alphabetically, recursively, with no insignificant whitespace,
// and the named top-level member (conventionally "signature") removed
// before serialization (spec §3 "Signature is over the canonical-JSON
// serialization of the document minus the signature member", §4.4 step 2).
package canonicaljson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize re-serializes raw (already json.Unmarshal'd into
// map[string]json.RawMessage so member order is not significant to the
// decoder) with the named member removed, object keys sorted, and no
// extra whitespace.
func Canonicalize(raw map[string]json.RawMessage, omit string) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, raw, omit); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeObject(buf *bytes.Buffer, obj map[string]json.RawMessage, omit string) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if k == omit {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		if err := writeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, raw json.RawMessage) error {
	var probe interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("canonicaljson: invalid JSON value: %w", err)
	}

	switch v := probe.(type) {
	case map[string]interface{}:
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err != nil {
			return err
		}
		return writeObject(buf, nested, "")
	case []interface{}:
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return err
		}
		buf.WriteByte('[')
		for i, e := range elems {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		// Strings, numbers, bools and null: re-marshal the decoded value
		// so escaping and number formatting are Go's canonical minimal
		// form rather than whatever the source document happened to use.
		out, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(out)
		return nil
	}
}
