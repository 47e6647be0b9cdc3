package mixer

import (
	"encoding/binary"
	"math"
)

// CompressorParams configures the dynamics compressor applied after
// summation.
type CompressorParams struct {
	ThresholdDB float64
	Ratio       float64
	AttackSecs  float64
	ReleaseSecs float64
}

// DefaultCompressor keeps speech from two sources out of clipping.
var DefaultCompressor = CompressorParams{
	ThresholdDB: -50,
	Ratio:       12,
	AttackSecs:  0.003,
	ReleaseSecs: 0.25,
}

// MakeupDB returns the automatic makeup gain: the inverse of the gain
// reduction a full scale signal would see, raised to 0.6.
func (p CompressorParams) MakeupDB() float64 {
	if p.Ratio <= 0 {
		return 0
	}
	fullScaleOut := p.ThresholdDB + (0-p.ThresholdDB)/p.Ratio
	return -0.6 * fullScaleOut
}

// compressor is a stereo-linked peak compressor with a hard knee.
type compressor struct {
	params   CompressorParams
	attack   float64
	release  float64
	makeup   float64
	envelope float64
}

func newCompressor(sampleRate int, p CompressorParams) *compressor {
	return &compressor{
		params:  p,
		attack:  smoothing(p.AttackSecs, sampleRate),
		release: smoothing(p.ReleaseSecs, sampleRate),
		makeup:  p.MakeupDB(),
	}
}

func smoothing(seconds float64, sampleRate int) float64 {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (seconds * float64(sampleRate)))
}

// process compresses interleaved samples in place.
func (c *compressor) process(samples []float64, channels int) {
	if channels <= 0 {
		channels = 1
	}
	for i := 0; i+channels <= len(samples); i += channels {
		peak := 0.0
		for ch := 0; ch < channels; ch++ {
			peak = math.Max(peak, math.Abs(samples[i+ch]))
		}
		coef := c.release
		if peak > c.envelope {
			coef = c.attack
		}
		c.envelope = coef*c.envelope + (1-coef)*peak

		gain := dbToLinear(c.gainDB(linearToDB(c.envelope)) + c.makeup)
		for ch := 0; ch < channels; ch++ {
			samples[i+ch] *= gain
		}
	}
}

func (c *compressor) gainDB(levelDB float64) float64 {
	if levelDB <= c.params.ThresholdDB {
		return 0
	}
	out := c.params.ThresholdDB + (levelDB-c.params.ThresholdDB)/c.params.Ratio
	return out - levelDB
}

const silenceFloorDB = -120

func linearToDB(v float64) float64 {
	if v <= 1e-6 {
		return silenceFloorDB
	}
	return 20 * math.Log10(v)
}

func dbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// decode converts s16le bytes into floats in [-1, 1).
func decode(dst []float64, src []byte) []float64 {
	n := len(src) / 2
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i := range n {
		dst[i] = float64(int16(binary.LittleEndian.Uint16(src[2*i:]))) / 32768
	}
	return dst
}

// encode writes floats as clamped s16le.
func encode(dst []byte, src []float64) []byte {
	n := len(src) * 2
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(clampSample(v)))
	}
	return dst
}

func clampSample(v float64) int16 {
	scaled := math.Round(v * 32768)
	switch {
	case scaled > math.MaxInt16:
		return math.MaxInt16
	case scaled < math.MinInt16:
		return math.MinInt16
	default:
		return int16(scaled)
	}
}

// peakOf returns the largest absolute s16le sample in b.
func peakOf(b []byte) uint32 {
	var peak uint32
	for i := 0; i+1 < len(b); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(b[i:])))
		if s < 0 {
			s = -s
		}
		if uint32(s) > peak {
			peak = uint32(s)
		}
	}
	return peak
}

// LevelOf measures the peak of s16le samples.
func LevelOf(pcm []byte) Level {
	return LevelFromPeak(float64(peakOf(pcm)) / 32768)
}

// LevelFromPeak converts a linear peak into a Level.
func LevelFromPeak(peak float64) Level {
	return Level{Peak: peak, DBFS: linearToDB(peak)}
}
