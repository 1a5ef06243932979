package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
)

// SynthBackend renders audio locally without any external service. The output
// is a deterministic function of (prompt, seed): the prompt is hashed into a
// PRNG seed which drives key, tempo and an eight-note motif, so the same
// request always produces bit-identical audio.
//
// 本地合成器：无外部依赖，离线开发和测试时的默认后端。
type SynthBackend struct{}

func NewSynthBackend() *SynthBackend { return &SynthBackend{} }

func (b *SynthBackend) Name() string { return "synth" }

// hashPrompt folds a string into a 32-bit PRNG seed.
func hashPrompt(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h += (h << 1) + (h << 4) + (h << 7) + (h << 8) + (h << 24)
	}
	return h
}

// lcg is a linear congruential generator yielding floats in [0, 1).
type lcg struct{ state uint32 }

func (r *lcg) next() float64 {
	r.state = 1664525*r.state + 1013904223
	return float64(r.state) / 4294967296.0
}

// majorScale in semitone offsets from the tonic.
var majorScale = [...]int{0, 2, 4, 5, 7, 9, 11, 12}

func (b *SynthBackend) Render(_ context.Context, req RenderRequest) (*RenderResult, error) {
	sampleRate := clampSampleRate(req.SampleRate)
	duration := req.Duration
	if duration <= 0 {
		duration = 1
	}

	seed := hashPrompt(req.Prompt)
	if req.Seed != nil {
		seed ^= uint32(*req.Seed)
	}
	rnd := &lcg{state: seed}

	// Key, tempo and motif are all drawn from the prompt-seeded PRNG.
	baseFreq := 220.0 * math.Pow(2, math.Floor(rnd.next()*12)/12)
	bpm := 100 + math.Floor(rnd.next()*40)
	beatDur := 60.0 / bpm

	motif := make([]int, 8)
	for i := range motif {
		motif[i] = majorScale[int(rnd.next()*float64(len(majorScale)))%len(majorScale)]
	}

	totalSamples := int(duration * float64(sampleRate))
	left := make([]float64, totalSamples)
	right := make([]float64, totalSamples)

	chorusOffset := int(0.002 * float64(sampleRate))
	for i := 0; i < totalSamples; i++ {
		t := float64(i) / float64(sampleRate)

		beat := int(t / beatDur)
		note := motif[beat%len(motif)]
		freq := baseFreq * math.Pow(2, float64(note)/12)
		// Alternate sections jump the melody an octave up.
		if (beat/len(motif))%2 == 1 {
			freq *= 2
		}

		// Percussive envelope restarting on each beat.
		phase := t - float64(beat)*beatDur
		env := envelope(phase)

		melody := math.Sin(2*math.Pi*freq*t) * env * 0.5

		// Square-wave bass an octave below the tonic, half-beat pulses.
		bassFreq := baseFreq / 2
		bass := 0.0
		if math.Mod(t, beatDur*2) < beatDur {
			if math.Sin(2*math.Pi*bassFreq*t) >= 0 {
				bass = 0.15
			} else {
				bass = -0.15
			}
		}

		sample := melody + bass
		left[i] = sample
		// Slightly delayed right channel gives a cheap chorus width.
		j := i - chorusOffset
		if j >= 0 {
			tr := float64(j) / float64(sampleRate)
			right[i] = math.Sin(2*math.Pi*freq*tr)*env*0.5 + bass
		} else {
			right[i] = sample
		}
	}

	// Soft limiter keeps the mix inside [-1, 1].
	pcm := make([]byte, 0, totalSamples*4)
	buf := bytes.NewBuffer(pcm)
	for i := 0; i < totalSamples; i++ {
		writeSample16(buf, math.Tanh(left[i]))
		writeSample16(buf, math.Tanh(right[i]))
	}

	wav := encodeWAV(buf.Bytes(), sampleRate, 2)
	filePath, err := writeAudioFile(req, "wav", wav)
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		FilePath:    filePath,
		Format:      "wav",
		ContentType: "audio/wav",
		ModelID:     "texttune-synth",
	}, nil
}

// envelope shapes one note: 20ms linear attack, exponential decay.
func envelope(phase float64) float64 {
	const attack = 0.02
	if phase < attack {
		return phase / attack
	}
	return math.Exp(-(phase - attack) / 0.3)
}

func writeSample16(buf *bytes.Buffer, v float64) {
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	s := int16(v * 32767)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(s))
	buf.Write(b[:])
}

// encodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF header.
func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := &bytes.Buffer{}
	out.WriteString("RIFF")
	binary.Write(out, binary.LittleEndian, uint32(36+len(pcm)))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(out, binary.LittleEndian, uint32(16))
	binary.Write(out, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(out, binary.LittleEndian, uint16(channels))
	binary.Write(out, binary.LittleEndian, uint32(sampleRate))
	binary.Write(out, binary.LittleEndian, uint32(byteRate))
	binary.Write(out, binary.LittleEndian, uint16(blockAlign))
	binary.Write(out, binary.LittleEndian, uint16(bitsPerSample))
	out.WriteString("data")
	binary.Write(out, binary.LittleEndian, uint32(len(pcm)))
	out.Write(pcm)
	return out.Bytes()
}
