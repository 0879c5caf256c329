package manifest

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Equal
// manifests always produce identical bytes.
var encMode cbor.EncMode

// decMode ignores unknown fields so older readers accept newer
// manifests.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("manifest: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("manifest: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes m with chunks in index order.
func Marshal(m Manifest) ([]byte, error) {
	sorted := m.Sorted()
	if sorted.Chunks == nil {
		sorted.Chunks = []Chunk{}
	}
	return encMode.Marshal(sorted)
}

// Unmarshal decodes and validates a manifest.
func Unmarshal(data []byte) (Manifest, error) {
	var m Manifest
	if err := decMode.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}
