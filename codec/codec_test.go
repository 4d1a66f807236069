package codec

import (
	"bytes"
	"errors"
	"testing"

	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

func testCid(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	prefix := cid.Prefix{
		Version:  1,
		Codec:    cid.DagCBOR,
		MhType:   mh.BLAKE2B_MIN + 31,
		MhLength: -1,
	}
	c, err := prefix.Sum(data)
	if err != nil {
		t.Fatalf("failed to derive cid: %v", err)
	}
	return c
}

func TestCodec_UintRoundTrip(t *testing.T) {
	for _, value := range []uint64{0, 1, 23, 24, 255, 256, 1 << 16, 1 << 32, 1<<64 - 1} {
		buf := new(bytes.Buffer)
		if err := WriteUint(buf, value); err != nil {
			t.Fatalf("failed to encode %d: %v", value, err)
		}
		got, err := ReadUint(buf)
		if err != nil {
			t.Fatalf("failed to decode %d: %v", value, err)
		}
		if got != value {
			t.Errorf("value %d does not round trip, got %d", value, got)
		}
		if buf.Len() != 0 {
			t.Errorf("decoding %d left %d unread bytes", value, buf.Len())
		}
	}
}

func TestCodec_ByteStringRoundTrip(t *testing.T) {
	for _, data := range [][]byte{{}, {0x00}, []byte("hello"), bytes.Repeat([]byte{0xab}, 300)} {
		buf := new(bytes.Buffer)
		if err := WriteByteString(buf, data); err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		got, err := ReadByteString(buf, MaxStringLength)
		if err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("byte string %x does not round trip, got %x", data, got)
		}
	}
}

func TestCodec_TextStringRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteTextString(buf, "v"); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	got, err := ReadTextString(buf, 1)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if got != "v" {
		t.Errorf("unexpected text %q, wanted %q", got, "v")
	}
}

func TestCodec_HeaderRoundTrip(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteArrayHeader(buf, 3); err != nil {
		t.Fatalf("failed to encode array header: %v", err)
	}
	if err := WriteMapHeader(buf, 1); err != nil {
		t.Fatalf("failed to encode map header: %v", err)
	}
	if err := ReadArrayHeader(buf, 3); err != nil {
		t.Fatalf("failed to decode array header: %v", err)
	}
	if err := ReadMapHeader(buf, 1); err != nil {
		t.Fatalf("failed to decode map header: %v", err)
	}
}

func TestCodec_CidRoundTrip(t *testing.T) {
	c := testCid(t, []byte("a block"))
	buf := new(bytes.Buffer)
	if err := WriteCid(buf, c); err != nil {
		t.Fatalf("failed to encode cid: %v", err)
	}
	got, err := ReadCid(buf)
	if err != nil {
		t.Fatalf("failed to decode cid: %v", err)
	}
	if got != c {
		t.Errorf("cid does not round trip: got %s, wanted %s", got, c)
	}
}

func TestCodec_UndefinedCidIsRejected(t *testing.T) {
	if err := WriteCid(new(bytes.Buffer), cid.Undef); err == nil {
		t.Errorf("encoding an undefined cid should fail")
	}
}

func TestCodec_WrongMajorTypeIsCorrupt(t *testing.T) {
	encodeUint := func(v uint64) *bytes.Buffer {
		buf := new(bytes.Buffer)
		if err := WriteUint(buf, v); err != nil {
			t.Fatalf("failed to encode: %v", err)
		}
		return buf
	}

	if err := ReadArrayHeader(encodeUint(3), 3); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for a non-array token: %v", err)
	}
	if err := ReadMapHeader(encodeUint(1), 1); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for a non-map token: %v", err)
	}
	if _, err := ReadByteString(encodeUint(1), MaxStringLength); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for a non-byte-string token: %v", err)
	}
	if _, err := ReadCid(encodeUint(1)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for a non-link token: %v", err)
	}

	buf := new(bytes.Buffer)
	if err := WriteArrayHeader(buf, 1); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if _, err := ReadUint(buf); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for a non-integer token: %v", err)
	}
}

func TestCodec_WrongLengthIsCorrupt(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteArrayHeader(buf, 2); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if err := ReadArrayHeader(buf, 3); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for a wrong array length: %v", err)
	}
}

func TestCodec_LengthLimitsAreEnforced(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteByteString(buf, make([]byte, 100)); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if _, err := ReadByteString(buf, 99); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for an oversized byte string: %v", err)
	}

	buf.Reset()
	if err := WriteArrayHeader(buf, 100); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if _, err := ReadArrayHeaderMax(buf, 99); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for an oversized array: %v", err)
	}
}

func TestCodec_TruncatedInputIsCorrupt(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteByteString(buf, []byte("full payload")); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-3])
	if _, err := ReadByteString(truncated, MaxStringLength); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for truncated input: %v", err)
	}
}

func TestCodec_LinkWithoutIdentityPrefixIsCorrupt(t *testing.T) {
	c := testCid(t, []byte("a block"))
	buf := new(bytes.Buffer)
	if err := WriteCid(buf, c); err != nil {
		t.Fatalf("failed to encode cid: %v", err)
	}
	// Drop the identity prefix byte after the tag and byte string header,
	// re-encoding the payload one byte shorter.
	raw := buf.Bytes()
	tampered := new(bytes.Buffer)
	tampered.Write(raw[:2])
	if err := WriteByteString(tampered, c.Bytes()); err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	if _, err := ReadCid(tampered); !errors.Is(err, ErrCorrupt) {
		t.Errorf("unexpected error for a link without identity prefix: %v", err)
	}
}
