package scu

// HandleSSIInterrupt services the SSI interrupt line. Every owned SSI reporting an underflow or overflow has
// its status cleared and its substream forced into XRUN.
func (c *Context) HandleSSIInterrupt() bool {
	var hits []*Substream

	c.mu.Lock()
	for id, s := range c.ssiOwner {
		r := c.regs.ssi[id]

		sr := c.mem.Read32(r.sr)
		if sr&SSISR_ERRORS == 0 {
			continue
		}

		c.mem.Write32(r.sr, sr&^SSISR_ERRORS)
		hits = append(hits, s)
	}
	c.mu.Unlock()

	for _, s := range hits {
		s.forceXrun("ssi")
	}

	return len(hits) > 0
}

// HandleSRCInterrupt services the SCU interrupt line. Each owned SRC is checked in the status register of the
// interrupt set it armed; a pending bit is cleared by writing it back and the substream is forced into XRUN.
func (c *Context) HandleSRCInterrupt() bool {
	var hits []*Substream

	c.mu.Lock()
	for id, o := range c.srcOwner {
		bit := uint32(1) << c.regs.src[id].bit

		status := uint32(SCU_SYS_STATUS1)
		if o.sync {
			status = SCU_SYS_STATUS0
		}

		if c.mem.Read32(status)&bit == 0 {
			continue
		}

		c.mem.Write32(status, bit)
		hits = append(hits, o.s)
	}
	c.mu.Unlock()

	for _, s := range hits {
		s.forceXrun("src")
	}

	return len(hits) > 0
}
