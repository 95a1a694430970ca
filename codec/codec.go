// Package codec turns region values into bytes and back.
//
// Codecs that implement Identified have their ID stamped into every slot a
// region writes. A region refuses slots stamped by a different codec, so two
// deployments sharing a provider with mismatched codecs miss instead of
// decoding garbage.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// Identified is implemented by codecs with a stable wire identity.
type Identified interface {
	CodecID() byte
}

const (
	IDUnknown  byte = 0
	IDJSON     byte = 1
	IDMsgpack  byte = 2
	IDCBOR     byte = 3
	IDProtobuf byte = 4
	IDBytes    byte = 5
	IDString   byte = 6
)

// IDOf returns c's identity, or IDUnknown when c does not declare one.
func IDOf(c any) byte {
	if id, ok := c.(Identified); ok {
		return id.CodecID()
	}
	return IDUnknown
}
