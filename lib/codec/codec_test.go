package codec

import (
	"bytes"
	"testing"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() ICodec{
	"JSON": NewJSONCodec,
	"GOB":  NewGOBCodec,
}

type testState struct {
	Cash    int               `json:"cash"`
	Station string            `json:"station"`
	Flags   map[string]string `json:"flags"`
}

// TestCodecRoundTrip tests that states can be encoded and decoded correctly
func TestCodecRoundTrip(t *testing.T) {
	original := testState{
		Cash:    150,
		Station: "veg-room",
		Flags:   map[string]string{"lights": "on", "co2": "ambient"},
	}

	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()

			encoded, err := c.Encode(original)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}

			var decoded testState
			if err := c.Decode(encoded, &decoded); err != nil {
				t.Fatalf("Decode failed: %v", err)
			}

			if decoded.Cash != original.Cash || decoded.Station != original.Station {
				t.Errorf("Round trip mismatch: got %+v, want %+v", decoded, original)
			}
			if len(decoded.Flags) != len(original.Flags) {
				t.Errorf("Flags lost in round trip: got %+v", decoded.Flags)
			}
		})
	}
}

// TestJSONDeterminism verifies equal values encode to identical bytes,
// which conflict detection relies on
func TestJSONDeterminism(t *testing.T) {
	c := NewJSONCodec()

	value := map[string]int{"cash": 100, "seeds": 4, "water": 7}
	first, err := c.Encode(value)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	for i := 0; i < 32; i++ {
		again, err := c.Encode(map[string]int{"water": 7, "cash": 100, "seeds": 4})
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding is not deterministic: %q vs %q", first, again)
		}
	}
}

// TestDecodeGarbage verifies codecs reject non-decodable input
func TestDecodeGarbage(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			var out testState
			if err := factory().Decode([]byte{0x01, 0xff, 0x00}, &out); err == nil {
				t.Error("Decode of garbage should fail")
			}
		})
	}
}
