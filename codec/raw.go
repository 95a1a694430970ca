package codec

// Bytes stores []byte values as-is. Useful when the caller already holds a
// disassembled, serialized state.
type Bytes struct{}

func (Bytes) CodecID() byte                   { return IDBytes }
func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) {
	// slot payloads alias provider memory; hand out a private copy
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// String stores string values as UTF-8 bytes without validation.
type String struct{}

func (String) CodecID() byte                   { return IDString }
func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
