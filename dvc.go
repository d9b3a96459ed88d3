package scu

import (
	"fmt"
)

// Volume limits of the digital volume controller. VolumeDefault is unity gain.
const (
	VolumeMax     = 0x007fffff
	VolumeDefault = 0x00100000
)

// Volume channels.
const (
	Left  = 0
	Right = 1
)

const dvucrInit = 0x101 // volume and zero-cross mute enabled

// zcmcr returns the mute register value: a cleared bit mutes its channel.
func zcmcr(mute [2]bool) uint32 {
	var v uint32
	for ch, m := range mute {
		if m {
			v |= 1 << uint(ch)
		}
	}

	return ^v & 3
}

func (c *Context) dvcClocks(hw *hwStream) []ClockID {
	return []ClockID{ClockSCU, ClockDVC(c.regs.dvc[hw.path.DVC].bit)}
}

// enableDVC starts the volume controller of hw.path with the current volume and mute settings.
func (c *Context) enableDVC(hw *hwStream) error {
	r := c.regs.dvc[hw.path.DVC]
	src := c.regs.src[hw.path.SRC]

	if err := c.clocks.getAll(c.dvcClocks(hw)...); err != nil {
		return err
	}

	c.mem.Write32(r.swrsr, 0)
	c.mem.Write32(r.swrsr, 1)
	c.mem.Write32(r.dvuir, 1)
	c.mem.Write32(r.adinr, busifADINR(hw.format, hw.channels))
	c.mem.Write32(r.dvucr, dvucrInit)

	c.mu.Lock()
	vol := *c.volume[hw.path.DVC]
	c.mem.Write32(r.zcmcr, zcmcr(c.mute))
	c.mem.Write32(r.vol0r, vol[Left])
	c.mem.Write32(r.vol1r, vol[Right])
	c.dvcRunning[hw.path.DVC] = true
	c.mu.Unlock()

	c.mem.Write32(r.dvuir, 0)
	c.mem.Write32(r.routeSlct, src.bit+1)
	c.mem.Write32(r.dvuer, 1)
	c.mem.Write32(r.ctrl, 1)

	return nil
}

func (c *Context) disableDVC(hw *hwStream) {
	r := c.regs.dvc[hw.path.DVC]

	c.mu.Lock()
	delete(c.dvcRunning, hw.path.DVC)
	c.mu.Unlock()

	c.mem.Write32(r.dvuer, 0)
	c.mem.Write32(r.ctrl, 0)
	c.mem.Write32(r.routeSlct, 0)
	c.mem.Write32(r.swrsr, 0)

	c.clocks.putAll(c.dvcClocks(hw)...)
}

// SetVolume sets the volume of one channel of a DVC. Values above VolumeMax are refused.
// A running DVC is updated immediately.
func (c *Context) SetVolume(dvc, ch int, v uint32) (bool, error) {
	if ch != Left && ch != Right {
		return false, fmt.Errorf("volume channel %d: %w", ch, ErrInvalidValue)
	}

	if v > VolumeMax {
		return false, fmt.Errorf("volume %#x above %#x: %w", v, VolumeMax, ErrInvalidValue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	vol, ok := c.volume[dvc]
	if !ok {
		return false, fmt.Errorf("DVC%d: %w", dvc, ErrNotFound)
	}

	if vol[ch] == v {
		return false, nil
	}
	vol[ch] = v

	if c.dvcRunning[dvc] {
		r := c.regs.dvc[dvc]
		if ch == Left {
			c.mem.Write32(r.vol0r, v)
		} else {
			c.mem.Write32(r.vol1r, v)
		}
	}

	return true, nil
}

// Volume returns the volume of one channel of a DVC.
func (c *Context) Volume(dvc, ch int) (uint32, error) {
	if ch != Left && ch != Right {
		return 0, fmt.Errorf("volume channel %d: %w", ch, ErrInvalidValue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	vol, ok := c.volume[dvc]
	if !ok {
		return 0, fmt.Errorf("DVC%d: %w", dvc, ErrNotFound)
	}

	return vol[ch], nil
}

// SetMute mutes or unmutes one channel on every DVC. Running DVCs are updated immediately.
func (c *Context) SetMute(ch int, muted bool) (bool, error) {
	if ch != Left && ch != Right {
		return false, fmt.Errorf("mute channel %d: %w", ch, ErrInvalidValue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mute[ch] == muted {
		return false, nil
	}
	c.mute[ch] = muted

	for dvc := range c.dvcRunning {
		c.mem.Write32(c.regs.dvc[dvc].zcmcr, zcmcr(c.mute))
	}

	return true, nil
}

// Muted reports whether a channel is muted.
func (c *Context) Muted(ch int) bool {
	if ch != Left && ch != Right {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mute[ch]
}
