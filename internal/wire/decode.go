package wire

import (
	"encoding/json"
	"fmt"
	"io"
)

// StrictDecoding makes Decode reject unknown top-level fields. It is a
// package-level toggle rather than a parameter so call sites stay uniform;
// forward-compatible deployments can flip it off without touching call
// sites.
var StrictDecoding = true

// Decode reads one JSON value from r into v, honoring StrictDecoding.
func Decode(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if StrictDecoding {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("wire: decode: %w", err)
	}
	return nil
}
