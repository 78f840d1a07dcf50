package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const wavHeaderSize = 44

// EncodeWAVPCM16LE wraps raw mono PCM16LE bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	writeWAVHeader(out, len(pcm), sampleRate)
	copy(out[wavHeaderSize:], pcm)
	return out
}

// WriteWAVPCM16LETo streams raw mono PCM16LE bytes to out as a WAV file.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	header := make([]byte, wavHeaderSize)
	writeWAVHeader(header, len(pcm), sampleRate)
	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// WriteWAVPCM16LEFile writes raw mono PCM16LE bytes as a WAV file at path.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeWAVHeader(dst []byte, dataSize, sampleRate int) {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	if sampleRate <= 0 {
		sampleRate = CaptureRate
	}
	byteRate := sampleRate * numChannels * bitsPerSample / 8

	le := binary.LittleEndian
	copy(dst[0:4], "RIFF")
	le.PutUint32(dst[4:8], uint32(36+dataSize))
	copy(dst[8:12], "WAVE")
	copy(dst[12:16], "fmt ")
	le.PutUint32(dst[16:20], 16)
	le.PutUint16(dst[20:22], 1) // PCM
	le.PutUint16(dst[22:24], numChannels)
	le.PutUint32(dst[24:28], uint32(sampleRate))
	le.PutUint32(dst[28:32], uint32(byteRate))
	le.PutUint16(dst[32:34], numChannels*bitsPerSample/8)
	le.PutUint16(dst[34:36], bitsPerSample)
	copy(dst[36:40], "data")
	le.PutUint32(dst[40:44], uint32(dataSize))
}
