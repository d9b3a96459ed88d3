package scu

import (
	"fmt"
	"time"
)

// bufferFrames returns the ring size in frames. Called with mu held.
func (s *Substream) bufferFrames() uint64 {
	return uint64(s.config.PeriodSize) * uint64(s.config.PeriodCount)
}

// hwPtr returns the frames the DMA has moved since the last start. Called with mu held.
func (s *Substream) hwPtr() uint64 {
	if s.state != SNDRV_PCM_STATE_RUNNING && s.state != SNDRV_PCM_STATE_XRUN {
		return 0
	}

	return s.tranPeriod * uint64(s.config.PeriodSize)
}

// availLocked returns the frames the application may write (playback) or read (capture).
// An application pointer the hardware has overtaken is moved up to the hardware. Called with mu held.
func (s *Substream) availLocked() uint64 {
	size, hw := s.bufferFrames(), s.hwPtr()

	if s.dir == Capture {
		if hw > s.appl+size {
			s.appl = hw - size
		}

		return hw - s.appl
	}

	if hw > s.appl {
		s.appl = hw
	}

	return size - (s.appl - hw)
}

// checkIO returns the error for ring access in the current state. Called with mu held.
func (s *Substream) checkIO() error {
	switch s.state {
	case SNDRV_PCM_STATE_XRUN:
		return ErrXrun
	case SNDRV_PCM_STATE_DISCONNECTED:
		return ErrClosed
	case SNDRV_PCM_STATE_OPEN:
		return fmt.Errorf("no hw params: %w", ErrBadState)
	}

	return nil
}

// AvailUpdate returns the number of available frames.
// For playback streams, this is the number of frames that can be written.
// For capture streams, this is the number of frames that can be read.
func (s *Substream) AvailUpdate() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIO(); err != nil {
		if err == ErrXrun && s.dir == Playback {
			return int(s.bufferFrames()), err
		}

		return 0, err
	}

	return int(s.availLocked()), nil
}

// Delay returns the number of frames between the application and the hardware: queued for playback, or
// captured and not yet read.
func (s *Substream) Delay() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIO(); err != nil {
		return 0, err
	}

	avail := s.availLocked()
	if s.dir == Capture {
		return int(avail), nil
	}

	return int(s.bufferFrames() - avail), nil
}

// MmapBegin returns the contiguous part of the ring buffer at the application pointer, limited to wantFrames
// and to what is available, with its offset in frames from the start of the buffer.
func (s *Substream) MmapBegin(wantFrames uint32) (area []byte, offsetFrames, frames uint32, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.checkIO(); err != nil {
		return
	}

	avail := s.availLocked()
	if uint64(wantFrames) > avail {
		wantFrames = uint32(avail)
	}

	size := s.bufferFrames()
	offsetFrames = uint32(s.appl % size)

	frames = wantFrames
	if contiguous := uint32(size) - offsetFrames; frames > contiguous {
		frames = contiguous
	}

	frameSize := uint64(PcmFramesToBytes(1, s.config.Channels, s.config.Format))
	byteOffset := uint64(offsetFrames) * frameSize
	byteCount := uint64(frames) * frameSize

	data := s.buf.Bytes()
	if byteOffset+byteCount > uint64(len(data)) {
		err = fmt.Errorf("ring area %d+%d outside buffer of %d bytes: %w", byteOffset, byteCount, len(data), ErrInvalidValue)

		return
	}

	if byteCount > 0 {
		area = data[byteOffset : byteOffset+byteCount]
	}

	return
}

// MmapCommit advances the application pointer after a MmapBegin call.
func (s *Substream) MmapCommit(frames uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIO(); err != nil {
		return err
	}

	if avail := s.availLocked(); uint64(frames) > avail {
		return fmt.Errorf("commit %d frames, %d available: %w", frames, avail, ErrInvalidValue)
	}

	s.appl += uint64(frames)

	return nil
}

// Wait waits until a running stream has a period available or a negative timeout never expires.
// Returns true if the stream is ready, false on timeout. A stream that is not running returns ErrBadState.
func (s *Substream) Wait(timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		expired = timer.C
	}

	for {
		s.mu.Lock()
		if err := s.checkIO(); err != nil {
			s.mu.Unlock()

			return false, err
		}

		if s.state != SNDRV_PCM_STATE_RUNNING {
			state := s.state
			s.mu.Unlock()

			return false, fmt.Errorf("wait in state %s: %w", state, ErrBadState)
		}

		if s.availLocked() >= uint64(s.config.PeriodSize) {
			s.mu.Unlock()

			return true, nil
		}

		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-expired:
			return false, nil
		}
	}
}

// Drain waits for every frame written to a playback stream to be played, then stops it.
// A stream holding frames that was never started is started first. Capture streams are stopped at once.
func (s *Substream) Drain() error {
	s.mu.Lock()
	state, pending := s.state, s.appl
	s.mu.Unlock()

	if s.dir == Capture {
		if state == SNDRV_PCM_STATE_RUNNING || state == SNDRV_PCM_STATE_XRUN {
			return s.Stop()
		}

		return nil
	}

	switch state {
	case SNDRV_PCM_STATE_SETUP:
		if pending == 0 {
			return nil
		}

		if err := s.Start(); err != nil {
			return err
		}
	case SNDRV_PCM_STATE_RUNNING:
	case SNDRV_PCM_STATE_XRUN:
		if err := s.Stop(); err != nil {
			return err
		}

		return ErrXrun
	case SNDRV_PCM_STATE_DISCONNECTED:
		return ErrClosed
	default:
		return fmt.Errorf("drain in state %s: %w", state, ErrBadState)
	}

	for {
		s.mu.Lock()
		state := s.state
		done := s.hwPtr() >= s.appl
		wake := s.wake
		s.mu.Unlock()

		if state != SNDRV_PCM_STATE_RUNNING {
			if state == SNDRV_PCM_STATE_XRUN {
				if err := s.Stop(); err != nil {
					return err
				}

				return ErrXrun
			}

			return nil
		}

		if done {
			return s.Stop()
		}

		<-wake
	}
}
