package protocol

import (
	"bytes"
	"testing"
)

func testMessage() *Message {
	m := NewRequest(APIBufferTest)
	m.Header.RequestID = 42
	m.Header.Timestamp = 1234567890
	m.Buffers[0] = BufferDescriptor{Location: 4096, Size: 65536, Flags: AccessRead | LocRegion}
	m.Buffers[1] = BufferDescriptor{Location: 0, Size: 128, Flags: AccessWrite | LocStream}
	m.Header.BufferCount = 2
	m.SetInline([]byte("inline payload"))
	return m
}

func TestCodecRoundTrip(t *testing.T) {
	codecs := map[string]*Codec{
		"native": NewNativeCodec(),
		"socket": NewSocketCodec(),
	}

	for name, codec := range codecs {
		msg := testMessage()
		encoded, err := codec.Encode(msg)
		if err != nil {
			t.Fatalf("%v: Encode failed: %v", name, err)
		}
		if len(encoded) != MessageSize {
			t.Errorf("%v: encoded size %v, expected %v", name, len(encoded), MessageSize)
		}

		decoded, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("%v: Decode failed: %v", name, err)
		}
		if decoded.Header != msg.Header {
			t.Errorf("%v: header mismatch: %+v != %+v", name, decoded.Header, msg.Header)
		}
		if decoded.Buffers != msg.Buffers {
			t.Errorf("%v: descriptors mismatch", name)
		}
		if !bytes.Equal(decoded.InlineBytes(), msg.InlineBytes()) {
			t.Errorf("%v: inline mismatch: %q != %q", name, decoded.InlineBytes(), msg.InlineBytes())
		}
	}
}

func TestCodecsDisagreeOnLayout(t *testing.T) {
	msg := testMessage()
	encoded, err := NewSocketCodec().Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if _, err := NewNativeCodec().Decode(encoded); err != ErrInvalidMagic {
		t.Errorf("decoding socket bytes with native codec => %v, expected %v", err, ErrInvalidMagic)
	}
}

func TestDecodeValidation(t *testing.T) {
	codec := NewNativeCodec()
	good, err := codec.Encode(testMessage())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	corrupt := func(mutate func(p []byte)) []byte {
		p := append([]byte(nil), good...)
		mutate(p)
		return p
	}

	var cases = []struct {
		name  string
		input []byte
		err   error
	}{
		{"short", good[:MessageSize-1], ErrTruncated},
		{"long", append(append([]byte(nil), good...), 0), ErrTruncated},
		{"empty", nil, ErrTruncated},
		{"magic", corrupt(func(p []byte) { p[0] ^= 0xFF }), ErrInvalidMagic},
		{"version", corrupt(func(p []byte) { p[4] = 0xEE }), ErrUnsupportedVersion},
		{"inline", corrupt(func(p []byte) {
			// InlineSize field at header offset 28
			codec.Order().PutUint32(p[28:32], MaxInlineData+1)
		}), ErrInlineOverflow},
		{"count", corrupt(func(p []byte) {
			// BufferCount field at header offset 24
			codec.Order().PutUint32(p[24:28], MaxBuffers+1)
		}), ErrTooManyBuffers},
	}

	for _, tt := range cases {
		if _, err := codec.Decode(tt.input); err != tt.err {
			t.Errorf("Decode(%v) => %v, expected %v", tt.name, err, tt.err)
		}
	}
}

func TestEncodeValidation(t *testing.T) {
	codec := NewNativeCodec()

	msg := testMessage()
	msg.Header.InlineSize = MaxInlineData + 1
	if _, err := codec.Encode(msg); err != ErrInlineOverflow {
		t.Errorf("Encode with oversized inline => %v, expected %v", err, ErrInlineOverflow)
	}

	msg = testMessage()
	msg.Header.BufferCount = MaxBuffers + 1
	if _, err := codec.Encode(msg); err != ErrTooManyBuffers {
		t.Errorf("Encode with too many buffers => %v, expected %v", err, ErrTooManyBuffers)
	}
}

func TestSetInlineLimits(t *testing.T) {
	m := NewRequest(APIEcho)
	if err := m.SetInline(make([]byte, MaxInlineData)); err != nil {
		t.Errorf("SetInline at capacity failed: %v", err)
	}
	if err := m.SetInline(make([]byte, MaxInlineData+1)); err != ErrInlineOverflow {
		t.Errorf("SetInline over capacity => %v, expected %v", err, ErrInlineOverflow)
	}
}

func TestStreamedSizesDirection(t *testing.T) {
	m := NewRequest(APIBufferTest)
	m.Buffers[0] = BufferDescriptor{Size: 100, Flags: AccessRead | LocStream}
	m.Buffers[1] = BufferDescriptor{Size: 200, Flags: AccessWrite | LocStream}
	m.Buffers[2] = BufferDescriptor{Size: 300, Flags: AccessRead | LocRegion}
	m.Header.BufferCount = 3

	sizes := m.StreamedSizes()
	if len(sizes) != 1 || sizes[0] != 100 {
		t.Errorf("request streamed sizes => %v, expected [100]", sizes)
	}

	resp := NewResponse(m)
	resp.Buffers = m.Buffers
	resp.Header.BufferCount = 3
	sizes = resp.StreamedSizes()
	if len(sizes) != 1 || sizes[0] != 200 {
		t.Errorf("response streamed sizes => %v, expected [200]", sizes)
	}
}
