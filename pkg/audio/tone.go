package audio

import (
	"math"
	"time"
)

// Tone synthesises a mono 16-bit little-endian sine tone. amplitude is the
// peak sample value in [0, 32767]. Used for the audible connection cue.
func Tone(freq float64, sampleRate int, d time.Duration, amplitude float64) []byte {
	n := int(float64(sampleRate) * d.Seconds())
	out := make([]byte, n*2)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := 0; i < n; i++ {
		// Short linear fade at both ends keeps the cue click-free.
		env := 1.0
		const fade = 160 // 10 ms at 16 kHz
		if i < fade {
			env = float64(i) / fade
		} else if n-i < fade {
			env = float64(n-i) / fade
		}
		s := int16(amplitude * env * math.Sin(step*float64(i)))
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
