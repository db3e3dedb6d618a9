package audioio

import (
	"math"
	"testing"
	"time"
)

func TestChunkDuration(t *testing.T) {
	mono := AudioChunk{Samples: make([]int16, 24000), SampleRate: 24000, Channels: 1}
	if d := mono.Duration(); d != time.Second {
		t.Errorf("mono duration %v, want 1s", d)
	}

	stereo := AudioChunk{Samples: make([]int16, 48000), SampleRate: 24000, Channels: 2}
	if d := stereo.Duration(); d != time.Second {
		t.Errorf("stereo duration %v, want 1s", d)
	}

	short := AudioChunk{Samples: make([]int16, 480), SampleRate: 24000, Channels: 1}
	if d := short.Duration(); d != 20*time.Millisecond {
		t.Errorf("short duration %v, want 20ms", d)
	}
}

func TestBytesSamplesRoundtrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345}
	back := BytesToSamples(SamplesToBytes(samples))
	if len(back) != len(samples) {
		t.Fatalf("roundtrip length %d, want %d", len(back), len(samples))
	}
	for i, s := range samples {
		if back[i] != s {
			t.Errorf("sample %d = %d, want %d", i, back[i], s)
		}
	}
}

func TestStereoToMono(t *testing.T) {
	mono := StereoToMono([]int16{100, 200, -100, -200, 0, 0})
	want := []int16{150, -150, 0}
	if len(mono) != len(want) {
		t.Fatalf("mono length %d, want %d", len(mono), len(want))
	}
	for i, s := range want {
		if mono[i] != s {
			t.Errorf("mono[%d] = %d, want %d", i, mono[i], s)
		}
	}
}

func TestResample(t *testing.T) {
	constant := make([]int16, 160)
	for i := range constant {
		constant[i] = 1000
	}

	up := Resample(constant, 16000, 24000)
	if len(up) != 240 {
		t.Errorf("upsampled length %d, want 240", len(up))
	}
	for i, s := range up {
		if s != 1000 {
			t.Fatalf("upsampled[%d] = %d, want 1000 (constant signal)", i, s)
		}
	}

	down := Resample(constant, 16000, 8000)
	if len(down) != 80 {
		t.Errorf("downsampled length %d, want 80", len(down))
	}

	same := Resample(constant, 16000, 16000)
	if len(same) != len(constant) {
		t.Errorf("identity resample changed length: %d", len(same))
	}
}

func TestCalculateRMS(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0 {
		t.Errorf("rms of empty = %f, want 0", rms)
	}

	silence := make([]int16, 100)
	if rms := CalculateRMS(silence); rms != 0 {
		t.Errorf("rms of silence = %f, want 0", rms)
	}

	fullScale := make([]int16, 100)
	for i := range fullScale {
		fullScale[i] = 32767
	}
	if rms := CalculateRMS(fullScale); math.Abs(rms-1.0) > 1e-9 {
		t.Errorf("rms of full scale = %f, want 1.0", rms)
	}

	half := make([]int16, 100)
	for i := range half {
		half[i] = 16384
	}
	rms := CalculateRMS(half)
	if math.Abs(rms-0.5) > 0.001 {
		t.Errorf("rms of half scale = %f, want ~0.5", rms)
	}
}
