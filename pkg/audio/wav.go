package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by [DecodeWAV] for input that is not a RIFF/WAVE
// container.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

const (
	wavHeaderSize = 44

	formatPCM        = 1
	formatExtensible = 0xFFFE
)

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// EncodeWAV wraps the clip's PCM data in a canonical 44-byte RIFF/WAV header.
func EncodeWAV(c Clip) []byte {
	const bps = 16
	byteRate := c.SampleRate * c.Channels * bps / 8
	blockAlign := c.Channels * bps / 8
	dataSize := len(c.Data)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], formatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(c.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], c.Data)

	return buf
}

// DecodeWAV extracts 16-bit PCM from a RIFF/WAVE container. Chunks other
// than "fmt " and "data" are skipped. A data chunk whose declared size runs
// past the end of the input (as written by some streaming encoders) is
// truncated to the available bytes.
func DecodeWAV(data []byte) (Clip, error) {
	if !IsWAV(data) {
		return Clip{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Clip{}, errors.New("audio: wav fmt chunk truncated")
			}
			tag := binary.LittleEndian.Uint16(data[body : body+2])
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if tag != formatPCM && tag != formatExtensible {
				return Clip{}, fmt.Errorf("audio: unsupported wav encoding %#x", tag)
			}
			if bits != 16 {
				return Clip{}, fmt.Errorf("audio: unsupported wav bit depth %d", bits)
			}
			if f.Channels <= 0 || f.SampleRate <= 0 {
				return Clip{}, fmt.Errorf("audio: invalid wav format %s", f)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return Clip{}, errors.New("audio: wav data chunk before fmt chunk")
			}
			end := min(body+size, len(data))
			return Clip{Data: data[body:end], Format: f}, nil
		}

		// Chunks are word aligned.
		pos = body + size + size%2
	}
	if !haveFmt {
		return Clip{}, errors.New("audio: wav has no fmt chunk")
	}
	return Clip{}, errors.New("audio: wav has no data chunk")
}
