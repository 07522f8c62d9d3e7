package codec

import (
	"encoding/json"
)

// NewJSONCodec creates a new codec using json encoding
func NewJSONCodec() ICodec {
	return &jsonCodecImpl{}
}

// jsonCodecImpl implements the ICodec interface using json encoding.
// Go's json encoder writes struct fields in declaration order and map keys
// sorted, so the output is deterministic and safe for byte-wise comparison.
type jsonCodecImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (j jsonCodecImpl) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (j jsonCodecImpl) Decode(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}

func (j jsonCodecImpl) Name() string {
	return "json"
}
