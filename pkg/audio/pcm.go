package audio

// ApplyGain multiplies every int16 sample in pcm by gain, clamping to the
// int16 range, in place. A gain of 1.0 returns immediately.
func ApplyGain(pcm []byte, gain float64) {
	if gain == 1.0 {
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		scaled := clampInt16(s * gain)
		pcm[i] = byte(scaled)
		pcm[i+1] = byte(scaled >> 8)
	}
}

// MeanAmplitude returns the mean absolute sample value of pcm.
// Returns 0 for empty input.
func MeanAmplitude(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum int64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int64(int16(pcm[i]) | int16(pcm[i+1])<<8)
		if s < 0 {
			s = -s
		}
		sum += s
	}
	return float64(sum) / float64(samples)
}

// ScaleVolume multiplies every sample by mult, clamped to [0, maxMult],
// in place. The clamp protects the sink from configuration mistakes and
// out-of-range volume commands.
func ScaleVolume(pcm []byte, mult, maxMult float64) {
	if mult < 0 {
		mult = 0
	}
	if mult > maxMult {
		mult = maxMult
	}
	ApplyGain(pcm, mult)
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
