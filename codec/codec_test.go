package codec

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type state struct {
	Name  string `json:"name" msgpack:"name" cbor:"name"`
	Count int    `json:"count" msgpack:"count" cbor:"count"`
}

func TestStructCodecsRoundTrip(t *testing.T) {
	in := state{Name: "order", Count: 3}
	codecs := map[string]Codec[state]{
		"json":    JSON[state]{},
		"msgpack": Msgpack[state]{},
		"cbor":    MustCBOR[state](true),
	}
	for name, c := range codecs {
		b, err := c.Encode(in)
		if err != nil {
			t.Fatalf("%s Encode: %v", name, err)
		}
		out, err := c.Decode(b)
		if err != nil {
			t.Fatalf("%s Decode: %v", name, err)
		}
		if out != in {
			t.Fatalf("%s: got %+v want %+v", name, out, in)
		}
	}
}

func TestCodecIDsAreDistinct(t *testing.T) {
	ids := []byte{
		IDOf(JSON[state]{}),
		IDOf(Msgpack[state]{}),
		IDOf(MustCBOR[state](false)),
		IDOf(NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })),
		IDOf(Bytes{}),
		IDOf(String{}),
	}
	seen := map[byte]bool{}
	for _, id := range ids {
		if id == IDUnknown {
			t.Fatalf("codec reported IDUnknown")
		}
		if seen[id] {
			t.Fatalf("duplicate codec id %d", id)
		}
		seen[id] = true
	}
	if IDOf(struct{}{}) != IDUnknown {
		t.Fatalf("non-codec should report IDUnknown")
	}
}

func TestLimitRejectsOversizedPayload(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if c.CodecID() != IDString {
		t.Fatalf("Limit should report inner id, got %d", c.CodecID())
	}
	if _, err := c.Decode([]byte("12345")); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
	if v, err := c.Decode([]byte("1234")); err != nil || v != "1234" {
		t.Fatalf("boundary decode: v=%q err=%v", v, err)
	}
	unlimited := Limit[string]{Inner: String{}}
	if _, err := unlimited.Decode([]byte(strings.Repeat("x", 1<<16))); err != nil {
		t.Fatalf("MaxDecode=0 should disable the limit: %v", err)
	}
}

func TestProtobufRoundTrip(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	b, err := c.Encode(wrapperspb.String("VALUE1"))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.GetValue() != "VALUE1" {
		t.Fatalf("got %q want VALUE1", out.GetValue())
	}
}

func TestBytesDecodeCopies(t *testing.T) {
	src := []byte("abc")
	out, _ := Bytes{}.Decode(src)
	out[0] = 'z'
	if src[0] != 'a' {
		t.Fatalf("Bytes.Decode must not alias its input")
	}
}
