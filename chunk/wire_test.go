package chunk

import (
	"bytes"
	"errors"
	"testing"
)

func TestMarshalChunkRoundTrip(t *testing.T) {
	for _, p := range []*Profile{ProfileLua51(), ProfileLua53()} {
		want := &Chunk{Profile: p, Main: sampleFunction(p)}
		want.Main.Code = append(want.Main.Code, p.ABC(OpSetList, 0, 1, 0))
		if p.Variant == VariantA {
			want.Main.Code = append(want.Main.Code, DataWord(9))
		}

		data, err := MarshalChunk(want)
		if err != nil {
			t.Fatalf("%s: MarshalChunk failed: %v", p.Variant, err)
		}
		got, err := UnmarshalChunk(data)
		if err != nil {
			t.Fatalf("%s: UnmarshalChunk failed: %v", p.Variant, err)
		}
		if got.Profile.Variant != p.Variant {
			t.Errorf("Variant = %s, want %s", got.Profile.Variant, p.Variant)
		}
		if !got.Main.Equal(want.Main) {
			t.Errorf("%s: model mismatch after CBOR round trip", p.Variant)
		}
	}
}

func TestMarshalChunkDeterministic(t *testing.T) {
	p := ProfileLua53()
	a, err := MarshalChunk(&Chunk{Profile: p, Main: sampleFunction(p)})
	if err != nil {
		t.Fatalf("MarshalChunk failed: %v", err)
	}
	b, err := MarshalChunk(&Chunk{Profile: p, Main: sampleFunction(p)})
	if err != nil {
		t.Fatalf("MarshalChunk failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("canonical encoding differs between equal models")
	}
}

func TestUnmarshalChunkGarbage(t *testing.T) {
	if _, err := UnmarshalChunk([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected error for garbage input")
	}
	data, _ := cborEncMode.Marshal(&wireChunk{Profile: wireProfile{Variant: 9}})
	if _, err := UnmarshalChunk(data); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
