package scu

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"unsafe"
)

// Write copies interleaved audio data into the ring buffer of a playback substream.
// The provided `data` argument must be a slice of a supported numeric type (e.g., []int16, []float32).
// The stream is started once the buffer is full and Write then blocks for space. After an underrun the stream
// is stopped and refilled. Returns the number of frames actually written.
func (s *Substream) Write(data any) (int, error) {
	if s.dir != Playback {
		return 0, fmt.Errorf("cannot write to a capture substream")
	}

	src, err := sliceBytes(data)
	if err != nil {
		return 0, fmt.Errorf("invalid data type for Write: %w", err)
	}

	defer runtime.KeepAlive(data)

	cfg := s.Config()
	frameSize := int(PcmFramesToBytes(1, cfg.Channels, cfg.Format))
	if frameSize == 0 {
		return 0, fmt.Errorf("no hw params: %w", ErrBadState)
	}

	offset := 0
	for len(src)-offset >= frameSize {
		want := uint32((len(src) - offset) / frameSize)

		area, _, frames, err := s.MmapBegin(want)
		if err != nil {
			if errors.Is(err, ErrXrun) {
				if err := s.xrunRecover(); err != nil {
					return offset / frameSize, err
				}

				continue
			}

			return offset / frameSize, err
		}

		if frames == 0 {
			if s.State() == SNDRV_PCM_STATE_SETUP {
				// Buffer is full.
				if err := s.Start(); err != nil {
					return offset / frameSize, err
				}

				continue
			}

			if _, err := s.Wait(-1); err != nil {
				if errors.Is(err, ErrXrun) {
					if err := s.xrunRecover(); err != nil {
						return offset / frameSize, err
					}

					continue
				}

				return offset / frameSize, fmt.Errorf("substream wait failed: %w", err)
			}

			continue
		}

		n := copy(area, src[offset:])
		offset += n

		if err := s.MmapCommit(frames); err != nil {
			return offset / frameSize, err
		}
	}

	return offset / frameSize, nil
}

// Read copies interleaved audio data out of the ring buffer of a capture substream.
// The provided `data` must be a slice of a supported numeric type that will receive the data.
// A stream that is set up is started first. After an overrun the stream is restarted.
// Returns the number of frames actually read.
func (s *Substream) Read(data any) (int, error) {
	if s.dir != Capture {
		return 0, fmt.Errorf("cannot read from a playback substream")
	}

	dst, err := sliceBytes(data)
	if err != nil {
		return 0, fmt.Errorf("invalid buffer type for Read: %w", err)
	}

	defer runtime.KeepAlive(data)

	cfg := s.Config()
	frameSize := int(PcmFramesToBytes(1, cfg.Channels, cfg.Format))
	if frameSize == 0 {
		return 0, fmt.Errorf("no hw params: %w", ErrBadState)
	}

	offset := 0
	for len(dst)-offset >= frameSize {
		if s.State() == SNDRV_PCM_STATE_SETUP {
			if err := s.Start(); err != nil {
				return offset / frameSize, err
			}
		}

		want := uint32((len(dst) - offset) / frameSize)

		area, _, frames, err := s.MmapBegin(want)
		if err != nil {
			if errors.Is(err, ErrXrun) {
				if err := s.xrunRecover(); err != nil {
					return offset / frameSize, err
				}

				continue
			}

			return offset / frameSize, err
		}

		if frames == 0 {
			if _, err := s.Wait(-1); err != nil {
				if errors.Is(err, ErrXrun) {
					if err := s.xrunRecover(); err != nil {
						return offset / frameSize, err
					}

					continue
				}

				return offset / frameSize, fmt.Errorf("substream wait failed: %w", err)
			}

			continue
		}

		n := copy(dst[offset:], area)
		offset += n

		if err := s.MmapCommit(frames); err != nil {
			return offset / frameSize, err
		}
	}

	return offset / frameSize, nil
}

// xrunRecover stops a substream in XRUN so it can be refilled and started again.
func (s *Substream) xrunRecover() error {
	if err := s.Stop(); err != nil && !errors.Is(err, ErrBadState) {
		return fmt.Errorf("recovery failed: %w", err)
	}

	if s.State() == SNDRV_PCM_STATE_DISCONNECTED {
		return ErrClosed
	}

	return nil
}

// sliceBytes validates that the input is a slice of a supported numeric type and returns its memory as bytes.
func sliceBytes(data any) ([]byte, error) {
	if data == nil {
		return nil, errors.New("data cannot be nil")
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected a slice, got %T", data)
	}

	switch rv.Type().Elem().Kind() {
	case reflect.Int8, reflect.Uint8,
		reflect.Int16, reflect.Uint16,
		reflect.Int32, reflect.Uint32,
		reflect.Float32, reflect.Float64:
	default:
		return nil, fmt.Errorf("unsupported slice element type: %s", rv.Type().Elem().Kind())
	}

	if rv.Len() == 0 {
		return nil, nil
	}

	byteLen := rv.Len() * int(rv.Type().Elem().Size())

	return unsafe.Slice((*byte)(rv.Index(0).Addr().UnsafePointer()), byteLen), nil
}
