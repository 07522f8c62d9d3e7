package codec

// ICodec is the interface for all payload codecs. A codec turns a typed
// subsystem state into its canonical byte representation and back.
//
// The encoded form is what the synchronization core stores, compares and
// snapshots, so an implementation must be deterministic: encoding the same
// value twice must yield identical bytes.
type ICodec interface {
	// Encode serializes a value into a byte array
	// It returns the serialized byte array and an error if any
	Encode(v interface{}) ([]byte, error)
	// Decode deserializes a byte array into the value pointed to by v
	// It returns an error if any
	Decode(b []byte, v interface{}) error
	// Name returns the codec name (e.g. for logging and configuration)
	Name() string
}
