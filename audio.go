package voiceapi

import "encoding/binary"

// DefaultSampleRate is the sample rate the platform accepts for playbacks
// and produces on audio streams (16 kHz).
const DefaultSampleRate = 16000

// WAVFromPCM16Mono wraps raw 16-bit little-endian PCM samples (mono) in a
// WAV container. Playback commands require audio in exactly this shape at
// DefaultSampleRate.
func WAVFromPCM16Mono(pcm []byte, sampleRate int) []byte {
	blockAlign := uint16(2)
	byteRate := uint32(sampleRate) * uint32(blockAlign)
	dataLen := uint32(len(pcm))
	riffLen := 36 + dataLen
	out := make([]byte, 44+len(pcm))

	// RIFF header
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], riffLen)
	copy(out[8:], []byte("WAVE"))

	// Format chunk
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:], 1)  // audio format (PCM)
	binary.LittleEndian.PutUint16(out[22:], 1)  // num channels (mono)
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], byteRate)
	binary.LittleEndian.PutUint16(out[32:], blockAlign)
	binary.LittleEndian.PutUint16(out[34:], 16) // bits per sample
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], dataLen)
	copy(out[44:], pcm)
	return out
}

// PCM16BytesFor calculates the number of bytes for PCM16 audio of the given
// duration: (milliseconds * sampleRate * 2 bytes per sample) / 1000.
func PCM16BytesFor(ms, sampleRate int) int { return (ms * sampleRate * 2) / 1000 }
