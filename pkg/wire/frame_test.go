package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestSecuredFrameTag(t *testing.T) {
	payload := append([]byte{1, 2, 3}, bytes.Repeat([]byte{0xEE}, TagSize)...)
	f := &Frame{
		Header:  Header{Class: ClassJoin, Opcode: OpWrite, Secured: true, Seq: 9},
		Payload: payload,
	}

	data, err := EncodeFrame(f)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	got, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if !bytes.Equal(got.Tag(), bytes.Repeat([]byte{0xEE}, TagSize)) {
		t.Errorf("Tag() = % x", got.Tag())
	}

	// The decoded payload must not alias the input buffer.
	data[len(data)-1] = 0
	if got.Payload[len(got.Payload)-1] != 0xEE {
		t.Error("decoded payload aliases input")
	}
}

func TestSecuredFrameWithoutTag(t *testing.T) {
	_, err := EncodeFrame(&Frame{Header: Header{Secured: true}, Payload: []byte{1}})
	if !errors.Is(err, ErrFormat) {
		t.Errorf("EncodeFrame() error = %v, want ErrFormat", err)
	}

	data := []byte{0, 1, 0, 0x40, 0, 0, 0, 0, 1, 2, 3}
	_, err = DecodeFrame(data)
	if !errors.Is(err, ErrShortBuffer) {
		t.Errorf("DecodeFrame() error = %v, want ErrShortBuffer", err)
	}
}

func TestUnsecuredFrameHasNoTag(t *testing.T) {
	f := &Frame{Header: Header{Class: 1}, Payload: bytes.Repeat([]byte{1}, 32)}
	if f.Tag() != nil {
		t.Error("Tag() != nil for unsecured frame")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var v struct {
		A uint8 `cbor:"1,keyasint"`
	}
	err := Unmarshal([]byte{0xFF, 0x00}, &v)
	if !errors.Is(err, ErrFormat) {
		t.Errorf("Unmarshal() error = %v, want ErrFormat", err)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	a := map[uint8]any{2: "b", 1: "a", 3: uint32(7)}
	first, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, _ := Marshal(a)
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal() is not deterministic")
		}
	}
}
