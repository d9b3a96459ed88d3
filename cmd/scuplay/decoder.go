package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Decoder yields interleaved integer samples from an audio file.
type Decoder interface {
	// PCMBuffer fills buf.Data and returns the number of samples, not frames, read.
	PCMBuffer(buf *audio.IntBuffer) (n int, err error)
	Duration() (time.Duration, error)
	NumChans() uint16
	SampleRate() uint32
	BitDepth() uint16
	IsFloat() bool
}

// openDecoder picks a decoder by file extension. The file must stay open while the decoder is used.
func openDecoder(f *os.File) (Decoder, error) {
	if strings.EqualFold(filepath.Ext(f.Name()), ".mp3") {
		return newMp3Decoder(f)
	}

	return newWavDecoder(f)
}

type wavDecoder struct {
	*wav.Decoder
}

func newWavDecoder(r io.ReadSeeker) (Decoder, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	return &wavDecoder{Decoder: d}, nil
}

func (w *wavDecoder) SampleRate() uint32 { return w.Decoder.SampleRate }
func (w *wavDecoder) NumChans() uint16   { return w.Decoder.NumChans }
func (w *wavDecoder) BitDepth() uint16   { return uint16(w.Decoder.BitDepth) }
func (w *wavDecoder) IsFloat() bool      { return w.Decoder.WavAudioFormat == 3 } // IEEE float

// mp3Decoder always produces 16-bit stereo.
type mp3Decoder struct {
	d      *mp3.Decoder
	rate   uint32
	length int64 // decoded bytes
	raw    []byte
}

func newMp3Decoder(r io.Reader) (Decoder, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("invalid MP3 file: %w", err)
	}

	return &mp3Decoder{d: d, rate: uint32(d.SampleRate()), length: d.Length()}, nil
}

func (m *mp3Decoder) PCMBuffer(buf *audio.IntBuffer) (int, error) {
	if need := len(buf.Data) * 2; len(m.raw) < need {
		m.raw = make([]byte, need)
	}

	n, err := io.ReadFull(m.d, m.raw[:len(buf.Data)*2])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}

	samples := n / 2
	for i := 0; i < samples; i++ {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(m.raw[i*2:])))
	}

	return samples, err
}

func (m *mp3Decoder) Duration() (time.Duration, error) {
	if m.length < 0 {
		return 0, errors.New("unknown MP3 length")
	}

	frames := m.length / 4

	return time.Duration(frames) * time.Second / time.Duration(m.rate), nil
}

func (m *mp3Decoder) SampleRate() uint32 { return m.rate }
func (m *mp3Decoder) NumChans() uint16   { return 2 }
func (m *mp3Decoder) BitDepth() uint16   { return 16 }
func (m *mp3Decoder) IsFloat() bool      { return false }
