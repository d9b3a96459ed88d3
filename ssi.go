package scu

import (
	"fmt"
)

// ssiDividers lists the SSICR.CKDV ratios by field value.
var ssiDividers = []uint32{1, 2, 4, 8, 16, 6, 12}

// ssiDivider returns the CKDV value that derives a 64fs bit clock for rate from mclk.
func ssiDivider(mclk, rate uint32) (uint32, error) {
	for i, d := range ssiDividers {
		if rate*64*d == mclk {
			return uint32(i), nil
		}
	}

	return 0, fmt.Errorf("no SSI clock divider for %d Hz from %d Hz: %w", rate, mclk, ErrInvalidValue)
}

// busifADINR returns the bus interface data format: output bit length and channel count.
func busifADINR(format PcmFormat, channels uint32) uint32 {
	otbl := uint32(0) // 24 bit
	if format == SNDRV_PCM_FORMAT_S16_LE {
		otbl = 8
	}

	return otbl<<16 | channels&0xf
}

func ssiControl(hw *hwStream) uint32 {
	dwl := uint32(5) // 24 bit
	if hw.format == SNDRV_PCM_FORMAT_S16_LE {
		dwl = 1
	}

	cr := dwl<<SSICR_DWL_SHIFT | 3<<SSICR_SWL_SHIFT // 32 bit system word
	if hw.output() {
		cr |= SSICR_TRMD
	}

	if hw.path.Mode == SSIMaster {
		cr |= SSICR_SCKD | SSICR_SWSD | hw.ckdv<<SSICR_CKDV_SHIFT
	}

	return cr
}

func (c *Context) ssiClocks(hw *hwStream) []ClockID {
	p := hw.path
	clks := []ClockID{ClockSSIU}

	if p.Mode == SSIMaster {
		clks = append(clks, ClockADG)
	}

	if p.Shared() {
		clks = append(clks, ClockSSI(c.regs.ssi[p.ClockMaster].bit))
	}

	return append(clks, ClockSSI(c.regs.ssi[p.SSI].bit))
}

// enableSSI brings up the SSI of hw.path. Output starts the SSI before its SSIU bus interface, input the
// other way round. Error interrupts are unmasked last, once the owner is known.
func (c *Context) enableSSI(hw *hwStream, owner *Substream) error {
	r := c.regs.ssi[hw.path.SSI]

	if err := c.clocks.getAll(c.ssiClocks(hw)...); err != nil {
		return err
	}

	c.mem.Write32(r.sr, 0)

	if hw.path.Mode == SSISlave {
		c.mem.Write32(r.busifAdinr, busifADINR(hw.format, hw.channels))
		if hw.path.Shared() {
			c.setBits(SSI_MODE1, 1<<(2*r.bit))
		}
	} else {
		c.setBits(ADG_SSICKR, 1<<r.bit)
	}

	c.mem.Write32(r.cr, ssiControl(hw))

	if hw.output() {
		c.setBits(r.cr, SSICR_EN|SSICR_DMEN)
		c.mem.Write32(r.control, 1)
	} else {
		c.mem.Write32(r.control, 1)
		c.setBits(r.cr, SSICR_EN|SSICR_DMEN)
	}

	c.setSSIOwner(hw.path.SSI, owner)
	c.setBits(r.cr, SSICR_IRQ_EN)

	return nil
}

// disableSSI mirrors enableSSI. Output drains the data register before the SSI is stopped.
func (c *Context) disableSSI(hw *hwStream) {
	r := c.regs.ssi[hw.path.SSI]
	block := fmt.Sprintf("ssi%d", r.bit)

	c.clearBits(r.cr, SSICR_IRQ_EN)
	c.setSSIOwner(hw.path.SSI, nil)

	if hw.output() {
		c.clearBits(r.cr, SSICR_DMEN)
		c.poll(r.sr, SSISR_DIRQ, block)
		c.clearBits(r.cr, SSICR_EN)
		c.poll(r.sr, SSISR_IIRQ, block)
		c.mem.Write32(r.control, 0)
	} else {
		c.mem.Write32(r.control, 0)
		c.clearBits(r.cr, SSICR_EN|SSICR_DMEN)
		c.poll(r.sr, SSISR_IIRQ, block)
	}

	if hw.path.Mode == SSISlave {
		if hw.path.Shared() {
			c.clearBits(SSI_MODE1, 1<<(2*r.bit))
		}
	} else {
		c.clearBits(ADG_SSICKR, 1<<r.bit)
	}

	c.clocks.putAll(c.ssiClocks(hw)...)
}
