package codec

// The trie nodes are persisted as dag-cbor records. Determinism of the byte
// form is what makes content identifiers canonical, so this package funnels
// all primitive writes through the minimal-width header encoding of
// cbor-gen and rejects every non-minimal or out-of-place token on decode.
// There is exactly one byte sequence for a given logical node.

import (
	"fmt"
	"io"

	"github.com/Fantom-foundation/Cedar/go/common"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// ErrCorrupt is the base error for every decode failure. Callers match it
// with errors.Is to distinguish corrupted blocks from store failures.
const ErrCorrupt = common.ConstError("corrupt encoding")

// linkTag is the dag-cbor tag marking an embedded content identifier.
const linkTag = 42

// MaxStringLength bounds keys, values and bitfields accepted by the
// decoders, guarding against resource exhaustion on corrupt headers.
const MaxStringLength = 1 << 20

func WriteArrayHeader(w io.Writer, length int) error {
	return cbg.CborWriteHeader(w, cbg.MajArray, uint64(length))
}

func WriteMapHeader(w io.Writer, length int) error {
	return cbg.CborWriteHeader(w, cbg.MajMap, uint64(length))
}

func WriteUint(w io.Writer, v uint64) error {
	return cbg.CborWriteHeader(w, cbg.MajUnsignedInt, v)
}

func WriteByteString(w io.Writer, data []byte) error {
	if err := cbg.CborWriteHeader(w, cbg.MajByteString, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func WriteTextString(w io.Writer, s string) error {
	if err := cbg.CborWriteHeader(w, cbg.MajTextString, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteCid writes a link as a tagged byte string with the multibase
// identity prefix, the dag-cbor form of a content identifier.
func WriteCid(w io.Writer, c cid.Cid) error {
	if !c.Defined() {
		return fmt.Errorf("cannot encode undefined cid")
	}
	if err := cbg.CborWriteHeader(w, cbg.MajTag, linkTag); err != nil {
		return err
	}
	raw := c.Bytes()
	if err := cbg.CborWriteHeader(w, cbg.MajByteString, uint64(len(raw)+1)); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	_, err := w.Write(raw)
	return err
}

// ReadArrayHeader reads an array header of exactly the expected length.
func ReadArrayHeader(r io.Reader, expected int) error {
	maj, length, err := cbg.CborReadHeader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if maj != cbg.MajArray {
		return fmt.Errorf("%w: expected array, got major type %d", ErrCorrupt, maj)
	}
	if length != uint64(expected) {
		return fmt.Errorf("%w: expected array of %d elements, got %d", ErrCorrupt, expected, length)
	}
	return nil
}

// ReadArrayHeaderMax reads an array header of up to max elements.
func ReadArrayHeaderMax(r io.Reader, max uint64) (uint64, error) {
	maj, length, err := cbg.CborReadHeader(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if maj != cbg.MajArray {
		return 0, fmt.Errorf("%w: expected array, got major type %d", ErrCorrupt, maj)
	}
	if length > max {
		return 0, fmt.Errorf("%w: array of %d elements exceeds limit %d", ErrCorrupt, length, max)
	}
	return length, nil
}

// ReadMapHeader reads a map header of exactly the expected length.
func ReadMapHeader(r io.Reader, expected int) error {
	maj, length, err := cbg.CborReadHeader(r)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if maj != cbg.MajMap {
		return fmt.Errorf("%w: expected map, got major type %d", ErrCorrupt, maj)
	}
	if length != uint64(expected) {
		return fmt.Errorf("%w: expected map of %d entries, got %d", ErrCorrupt, expected, length)
	}
	return nil
}

func ReadUint(r io.Reader) (uint64, error) {
	maj, v, err := cbg.CborReadHeader(r)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if maj != cbg.MajUnsignedInt {
		return 0, fmt.Errorf("%w: expected unsigned integer, got major type %d", ErrCorrupt, maj)
	}
	return v, nil
}

func ReadByteString(r io.Reader, max uint64) ([]byte, error) {
	maj, length, err := cbg.CborReadHeader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if maj != cbg.MajByteString {
		return nil, fmt.Errorf("%w: expected byte string, got major type %d", ErrCorrupt, maj)
	}
	if length > max {
		return nil, fmt.Errorf("%w: byte string of %d bytes exceeds limit %d", ErrCorrupt, length, max)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: truncated byte string: %v", ErrCorrupt, err)
	}
	return buf, nil
}

func ReadTextString(r io.Reader, max uint64) (string, error) {
	maj, length, err := cbg.CborReadHeader(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if maj != cbg.MajTextString {
		return "", fmt.Errorf("%w: expected text string, got major type %d", ErrCorrupt, maj)
	}
	if length > max {
		return "", fmt.Errorf("%w: text string of %d bytes exceeds limit %d", ErrCorrupt, length, max)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: truncated text string: %v", ErrCorrupt, err)
	}
	return string(buf), nil
}

// ReadCid reads a link written by WriteCid.
func ReadCid(r io.Reader) (cid.Cid, error) {
	maj, tag, err := cbg.CborReadHeader(r)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if maj != cbg.MajTag || tag != linkTag {
		return cid.Undef, fmt.Errorf("%w: expected link tag, got major type %d value %d", ErrCorrupt, maj, tag)
	}
	raw, err := ReadByteString(r, MaxStringLength)
	if err != nil {
		return cid.Undef, err
	}
	if len(raw) == 0 || raw[0] != 0 {
		return cid.Undef, fmt.Errorf("%w: link is missing the identity multibase prefix", ErrCorrupt)
	}
	c, err := cid.Cast(raw[1:])
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: invalid link: %v", ErrCorrupt, err)
	}
	return c, nil
}
