package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of a canonical PCM WAV header.
const WAVHeaderSize = 44

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a valid WAV file")

// WAVFormat describes the PCM layout declared in a WAV header.
type WAVFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// ParseWAVHeader reads and validates a canonical 44-byte WAV header.
func ParseWAVHeader(r io.Reader) (WAVFormat, error) {
	header := make([]byte, WAVHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return WAVFormat{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return WAVFormat{}, ErrNotWAV
	}

	f := WAVFormat{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 {
		return f, fmt.Errorf("unsupported WAV format %d: only PCM is supported", f.AudioFormat)
	}
	if f.BitsPerSample != 16 {
		return f, fmt.Errorf("unsupported bit depth %d: only 16-bit is supported", f.BitsPerSample)
	}
	return f, nil
}

// StripWAVHeader returns the PCM payload of an in-memory WAV file. Data
// without a RIFF header is returned unchanged.
func StripWAVHeader(data []byte) []byte {
	if len(data) < WAVHeaderSize {
		return data
	}
	if _, err := ParseWAVHeader(bytes.NewReader(data)); err != nil {
		return data
	}
	return data[WAVHeaderSize:]
}

// WriteWAV writes mono or interleaved 16-bit PCM as a canonical WAV file.
func WriteWAV(w io.Writer, samples []int16, sampleRate, channels int) error {
	dataSize := uint32(len(samples) * 2)
	byteRate := uint32(sampleRate * channels * 2)

	var hdr bytes.Buffer
	hdr.WriteString("RIFF")
	_ = binary.Write(&hdr, binary.LittleEndian, 36+dataSize)
	hdr.WriteString("WAVEfmt ")
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(16))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(1))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&hdr, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&hdr, binary.LittleEndian, byteRate)
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(channels*2))
	_ = binary.Write(&hdr, binary.LittleEndian, uint16(16))
	hdr.WriteString("data")
	_ = binary.Write(&hdr, binary.LittleEndian, dataSize)

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(Int16ToBytes(samples))
	return err
}
