package audio

import (
	"slices"
	"testing"
)

func TestInt16sRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := Int16s(PCMBytes(in))
	if !slices.Equal(got, in) {
		t.Errorf("round trip = %v, want %v", got, in)
	}
}

func TestInt16s_OddByteIgnored(t *testing.T) {
	got := Int16s([]byte{0x01, 0x00, 0xFF})
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("Int16s = %v, want [1]", got)
	}
}

func TestResampleMono16(t *testing.T) {
	tests := []struct {
		name     string
		in       []int16
		src, dst int
		want     []int16
	}{
		{name: "same rate", in: []int16{100, 200, 300}, src: 16000, dst: 16000, want: []int16{100, 200, 300}},
		{name: "upsample doubles", in: []int16{0, 100}, src: 8000, dst: 16000, want: []int16{0, 50, 100, 100}},
		{name: "downsample halves", in: []int16{0, 100, 200, 300}, src: 16000, dst: 8000, want: []int16{0, 200}},
		{name: "zero rate returns input", in: []int16{7}, src: 0, dst: 16000, want: []int16{7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Int16s(ResampleMono16(PCMBytes(tt.in), tt.src, tt.dst))
			if !slices.Equal(got, tt.want) {
				t.Errorf("ResampleMono16 = %v, want %v", got, tt.want)
			}
		})
	}
}
