package scu

import (
	"go.uber.org/zap"
)

const (
	srccrBase = 0x00010110
	srccrSync = 1 << 0
)

// srcThreshold is one bucket of the buffer threshold table, selected by the output/input rate ratio in percent.
type srcThreshold struct {
	below uint32 // upper bound of the bucket, exclusive; zero for the last bucket
	bsdsr uint32
	bsisr uint32
}

var srcThresholds = []srcThreshold{
	{below: 25, bsdsr: 0x00600000, bsisr: 0x00100010},
	{below: 33, bsdsr: 0x00800000, bsisr: 0x00100020},
	{below: 50, bsdsr: 0x00a00000, bsisr: 0x00100030},
	{below: 66, bsdsr: 0x00c00000, bsisr: 0x00100040},
	{below: 100, bsdsr: 0x01000000, bsisr: 0x00100050},
	{bsdsr: 0x01800000, bsisr: 0x00100060},
}

// srcBufferThresholds returns BSDSR and BSISR for converting in Hz to out Hz.
func srcBufferThresholds(in, out uint32) (uint32, uint32) {
	pct := uint64(out) * 100 / uint64(in)

	for _, t := range srcThresholds {
		if t.below == 0 || pct < uint64(t.below) {
			return t.bsdsr, t.bsisr
		}
	}

	last := srcThresholds[len(srcThresholds)-1]

	return last.bsdsr, last.bsisr
}

// srcIFSVR returns the initial conversion ratio, in/out in 10.22 fixed point.
func srcIFSVR(in, out uint32) uint32 {
	ratio := uint64(in) * 1000000 / uint64(out)

	return uint32(ratio * (1 << 22) / 1000000)
}

// srcMNFSR returns the minimum ratio the converter may drift to, 98% of ifsvr.
func srcMNFSR(ifsvr uint32) uint32 {
	return uint32(uint64(ifsvr) * 98 / 100)
}

func (c *Context) srcClocks(hw *hwStream) []ClockID {
	clks := []ClockID{ClockSCU}
	if hw.path.SRCMode == SRCAsync {
		clks = append(clks, ClockADG)
	}

	return append(clks, ClockSRC(c.regs.src[hw.path.SRC].bit))
}

func srcInterruptEnable(mode SyncMode) uint32 {
	if mode == SRCSync {
		return SCU_SYS_INT_EN0
	}

	return SCU_SYS_INT_EN1
}

// enableSRC programs and starts the converter of hw.path.
func (c *Context) enableSRC(hw *hwStream, owner *Substream) error {
	r := c.regs.src[hw.path.SRC]
	ssi := c.regs.ssi[hw.path.SSI]

	if err := c.clocks.getAll(c.srcClocks(hw)...); err != nil {
		return err
	}

	c.mem.Write32(r.swrsr, 0)
	c.mem.Write32(r.swrsr, 1)
	c.mem.Write32(r.srcir, 1)
	c.mem.Write32(r.adinr, busifADINR(hw.format, hw.channels))
	c.mem.Write32(r.ifscr, 1)

	ifsvr := srcIFSVR(hw.srcIn, hw.srcOut)
	c.mem.Write32(r.ifsvr, ifsvr)

	cr := uint32(srccrBase)
	if hw.path.SRCMode == SRCSync {
		cr |= srccrSync
	}
	c.mem.Write32(r.srccr, cr)
	c.mem.Write32(r.mnfsr, srcMNFSR(ifsvr))

	bsdsr, bsisr := srcBufferThresholds(hw.srcIn, hw.srcOut)
	c.mem.Write32(r.bsdsr, bsdsr)
	c.mem.Write32(r.bsisr, bsisr)

	if hw.path.SRCMode == SRCAsync {
		c.mem.Write32(r.timsel, 0x100|ssi.bit)
	}

	c.mem.Write32(r.busifMode, 1)
	c.mem.Write32(r.routeMode, 1)
	c.mem.Write32(r.srcir, 0)
	c.mem.Write32(r.ctrl, 1)

	c.setSRCOwner(hw.path.SRC, owner, hw.path.SRCMode == SRCSync)
	c.setBits(srcInterruptEnable(hw.path.SRCMode), 1<<r.bit)

	c.log.Debug("src started", zap.Int("src", hw.path.SRC), zap.Uint32("in", hw.srcIn), zap.Uint32("out", hw.srcOut),
		zap.Stringer("mode", hw.path.SRCMode))

	return nil
}

func (c *Context) disableSRC(hw *hwStream) {
	r := c.regs.src[hw.path.SRC]

	c.clearBits(srcInterruptEnable(hw.path.SRCMode), 1<<r.bit)
	c.setSRCOwner(hw.path.SRC, nil, false)

	c.mem.Write32(r.ctrl, 0)
	c.mem.Write32(r.routeMode, 0)
	c.mem.Write32(r.busifMode, 0)
	c.mem.Write32(r.swrsr, 0)

	c.clocks.putAll(c.srcClocks(hw)...)
}
