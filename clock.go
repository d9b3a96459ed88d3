package scu

import (
	"fmt"
	"sync"
)

// ClockID identifies a gateable module clock.
type ClockID uint32

const (
	ClockSSIU ClockID = 0x001
	ClockSCU  ClockID = 0x002
	ClockADG  ClockID = 0x003
)

// ClockSSI returns the module clock of an SSI channel.
func ClockSSI(ch uint32) ClockID { return ClockID(0x100 + ch) }

// ClockSRC returns the module clock of an SRC channel.
func ClockSRC(ch uint32) ClockID { return ClockID(0x200 + ch) }

// ClockDVC returns the module clock of a DVC channel.
func ClockDVC(ch uint32) ClockID { return ClockID(0x300 + ch) }

func (id ClockID) String() string {
	switch {
	case id == ClockSSIU:
		return "ssiu"
	case id == ClockSCU:
		return "scu"
	case id == ClockADG:
		return "adg"
	case id >= 0x100 && id < 0x200:
		return fmt.Sprintf("ssi%d", id-0x100)
	case id >= 0x200 && id < 0x300:
		return fmt.Sprintf("src%d", id-0x200)
	case id >= 0x300 && id < 0x400:
		return fmt.Sprintf("dvc%d", id-0x300)
	}

	return fmt.Sprintf("clk%#x", uint32(id))
}

// Clock gates module clocks. Enable must succeed before any register of the module is touched.
type Clock interface {
	Enable(id ClockID) error
	Disable(id ClockID)
}

// clockRefs shares clocks between the two directions and only calls the gate on the first get and last put.
type clockRefs struct {
	mu   sync.Mutex
	clk  Clock
	refs map[ClockID]int
}

func newClockRefs(clk Clock) *clockRefs {
	return &clockRefs{clk: clk, refs: make(map[ClockID]int)}
}

func (c *clockRefs) get(id ClockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refs[id] == 0 {
		if err := c.clk.Enable(id); err != nil {
			return fmt.Errorf("enable clock %s: %w", id, err)
		}
	}
	c.refs[id]++

	return nil
}

func (c *clockRefs) put(id ClockID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.refs[id] {
	case 0:
		return
	case 1:
		c.clk.Disable(id)
		delete(c.refs, id)
	default:
		c.refs[id]--
	}
}

// getAll enables ids in order; on failure the ones already taken are put back in reverse.
func (c *clockRefs) getAll(ids ...ClockID) error {
	for i, id := range ids {
		if err := c.get(id); err != nil {
			for j := i - 1; j >= 0; j-- {
				c.put(ids[j])
			}

			return err
		}
	}

	return nil
}

// putAll disables ids in reverse order.
func (c *clockRefs) putAll(ids ...ClockID) {
	for i := len(ids) - 1; i >= 0; i-- {
		c.put(ids[i])
	}
}
