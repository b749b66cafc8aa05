package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/digitalboi0/Template-man/internal/templates"
)

// Snapshot wire format: one schema-version byte followed by a msgpack
// body. Decoding a snapshot with an unknown version or a corrupt body is
// a detectable error, so cache-schema drift surfaces as a miss instead of
// a silently mis-populated record.
const snapshotSchemaVersion = 0x01

// EncodeSnapshot serializes a template record for the remote cache.
func EncodeSnapshot(tmpl *templates.Template) ([]byte, error) {
	body, err := msgpack.Marshal(tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template snapshot: %w", err)
	}

	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, snapshotSchemaVersion)
	buf = append(buf, body...)
	return buf, nil
}

// DecodeSnapshot deserializes a cached snapshot. Callers treat any error
// as a cache miss and repopulate from the authoritative store.
func DecodeSnapshot(data []byte) (*templates.Template, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("template snapshot too short: %d bytes", len(data))
	}

	if data[0] != snapshotSchemaVersion {
		return nil, fmt.Errorf("unsupported template snapshot version 0x%02x", data[0])
	}

	var tmpl templates.Template
	if err := msgpack.Unmarshal(data[1:], &tmpl); err != nil {
		return nil, fmt.Errorf("failed to decode template snapshot: %w", err)
	}

	return &tmpl, nil
}
