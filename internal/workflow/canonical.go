package workflow

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Canonical returns the canonical JSON encoding of v: stable (sorted) object
// key order, UTF-8, and no extraneous whitespace. Two values that are
// structurally equal but were built with different map/struct field order
// produce byte-identical output.
//
// encoding/json already sorts map[string]T keys when marshaling; Canonical
// exploits that by round-tripping v through a generic interface{} so struct
// field order and map insertion order are both normalized away.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Fingerprint returns the hex-encoded SHA-256 of the canonical JSON
// encoding of v. It is deterministic across process restarts: the same
// logical value always yields the same fingerprint.
func Fingerprint(v any) (string, error) {
	canon, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
