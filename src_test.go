package scu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/scu"
	"github.com/gen2brain/scu/scutest"
)

func TestSRC(t *testing.T) {
	t.Run("SyncUpconversion", testSRCSyncUpconversion)
	t.Run("AsyncDownconversion", testSRCAsyncDownconversion)
	t.Run("Teardown", testSRCTeardown)
	t.Run("CaptureRates", testSRCCaptureRates)
}

func srcWrites(mem *scutest.Mem, ch uint32) []scutest.Op {
	return mem.Writes(
		scu.SRCRegister(ch, scu.SRC_SWRSR),
		scu.SRCRegister(ch, scu.SRC_SRCIR),
		scu.SRCRegister(ch, scu.SRC_ADINR),
		scu.SRCRegister(ch, scu.SRC_IFSCR),
		scu.SRCRegister(ch, scu.SRC_IFSVR),
		scu.SRCRegister(ch, scu.SRC_SRCCR),
		scu.SRCRegister(ch, scu.SRC_MNFSR),
		scu.SRCRegister(ch, scu.SRC_BSDSR),
		scu.SRCRegister(ch, scu.SRC_BSISR),
		scu.SRCBusRegister(ch, scu.SRC_BUSIF_MODE),
		scu.SRCBusRegister(ch, scu.SRC_ROUTE_MODE),
		scu.SRCBusRegister(ch, scu.SRC_CTRL),
		scu.ADG_TIMSEL0+ch*4,
	)
}

// testSRCSyncUpconversion plays 8 kHz through SRC2 on Koelsch, which converts up to the 48 kHz codec rate
// timed from the SSI word clock.
func testSRCSyncUpconversion(t *testing.T) {
	f := newFixture(t, scu.Koelsch())
	f.routeTo(t, scu.Playback, scu.TopologyViaSRC)

	s, _ := f.open(t, scu.Playback, config(8000))
	start(t, s)

	reg := func(r uint32) uint32 { return scu.SRCRegister(2, r) }
	bus := func(r uint32) uint32 { return scu.SRCBusRegister(2, r) }

	want := []scutest.Op{
		{Write: true, Off: reg(scu.SRC_SWRSR), Val: 0},
		{Write: true, Off: reg(scu.SRC_SWRSR), Val: 1},
		{Write: true, Off: reg(scu.SRC_SRCIR), Val: 1},
		{Write: true, Off: reg(scu.SRC_ADINR), Val: 0x00080002},
		{Write: true, Off: reg(scu.SRC_IFSCR), Val: 1},
		{Write: true, Off: reg(scu.SRC_IFSVR), Val: 699047},
		{Write: true, Off: reg(scu.SRC_SRCCR), Val: 0x00010111},
		{Write: true, Off: reg(scu.SRC_MNFSR), Val: 685066},
		{Write: true, Off: reg(scu.SRC_BSDSR), Val: 0x01800000},
		{Write: true, Off: reg(scu.SRC_BSISR), Val: 0x00100060},
		{Write: true, Off: bus(scu.SRC_BUSIF_MODE), Val: 1},
		{Write: true, Off: bus(scu.SRC_ROUTE_MODE), Val: 1},
		{Write: true, Off: reg(scu.SRC_SRCIR), Val: 0},
		{Write: true, Off: bus(scu.SRC_CTRL), Val: 1},
	}
	assert.Equal(t, want, srcWrites(f.mem, 2), "SRC2 programming sequence")

	assert.Equal(t, uint32(1<<2), f.mem.Get(scu.SCU_SYS_INT_EN0), "Sync SRC2 arms interrupt set 0")
	assert.Empty(t, f.mem.Writes(scu.SCU_SYS_INT_EN1), "Interrupt set 1 belongs to async converters")
	assert.False(t, f.clk.Enabled(scu.ClockADG), "Sync conversion needs no ADG clock")
	assert.True(t, f.clk.Enabled(scu.ClockSRC(2)))

	require.Equal(t, []scu.SlaveID{0x89, 0x2f}, s.Channels(), "Memory-facing channel first")
}

func testSRCAsyncDownconversion(t *testing.T) {
	f := newFixture(t, scu.Lager())

	s, _ := f.open(t, scu.Playback, config(48000))
	start(t, s)

	ifsvr, ok := f.mem.LastWrite(scu.SRCRegister(2, scu.SRC_IFSVR))
	require.True(t, ok)
	assert.Equal(t, uint32(4565227), ifsvr, "48000 -> 44100")

	srccr, _ := f.mem.LastWrite(scu.SRCRegister(2, scu.SRC_SRCCR))
	assert.Equal(t, uint32(0x00010110), srccr, "Async mode leaves the sync bit clear")

	bsdsr, _ := f.mem.LastWrite(scu.SRCRegister(2, scu.SRC_BSDSR))
	assert.Equal(t, uint32(0x01000000), bsdsr)

	timsel, ok := f.mem.LastWrite(scu.ADG_TIMSEL0 + 2*4)
	require.True(t, ok, "Async SRC selects its timing source")
	assert.Equal(t, uint32(0x100), timsel, "Timed from SSI0")

	assert.Equal(t, uint32(1<<2), f.mem.Get(scu.SCU_SYS_INT_EN1))
	assert.Empty(t, f.mem.Writes(scu.SCU_SYS_INT_EN0))
	assert.True(t, f.clk.Enabled(scu.ClockADG))

	// The SSI is clocked for the codec rate.
	cr, _ := f.mem.LastWrite(scu.SSIRegister(0, scu.SSICR))
	assert.Equal(t, uint32(2), cr>>scu.SSICR_CKDV_SHIFT&0xf)
}

func testSRCTeardown(t *testing.T) {
	f := newFixture(t, scu.Lager())

	s, _ := f.open(t, scu.Playback, config(48000))
	start(t, s)
	f.mem.Reset()

	require.NoError(t, s.Stop())

	assert.Zero(t, f.mem.Get(scu.SCU_SYS_INT_EN1), "Interrupt is masked on stop")
	assert.Zero(t, f.mem.Get(scu.SRCBusRegister(2, scu.SRC_CTRL)))
	assert.Zero(t, f.mem.Get(scu.SRCRegister(2, scu.SRC_SWRSR)), "SRC is held in reset")

	ops := f.mem.Writes()
	ssiOff := indexOf(ops, scu.SSIURegister(0, scu.SSIU_CONTROL), equals(0))
	srcOff := indexOf(ops, scu.SRCBusRegister(2, scu.SRC_CTRL), equals(0))
	require.NotEqual(t, -1, ssiOff)
	require.NotEqual(t, -1, srcOff)
	assert.Less(t, srcOff, ssiOff, "Stages are disabled in reverse enable order")

	assert.Zero(t, f.clk.Running())
	assert.Equal(t, []scu.SlaveID{0x2f, 0x89}, f.dma.Released(), "Channels are released in reverse")
}

func testSRCCaptureRates(t *testing.T) {
	f := newFixture(t, scu.Koelsch())
	f.routeTo(t, scu.Capture, scu.TopologyViaSRC)

	s, _ := f.open(t, scu.Capture, config(8000))
	start(t, s)

	ifsvr, ok := f.mem.LastWrite(scu.SRCRegister(3, scu.SRC_IFSVR))
	require.True(t, ok)
	assert.Equal(t, uint32(25165824), ifsvr, "Capture converts 48000 down to 8000")

	bsdsr, _ := f.mem.LastWrite(scu.SRCRegister(3, scu.SRC_BSDSR))
	assert.Equal(t, uint32(0x00600000), bsdsr)

	ops := f.mem.Writes()
	srcOn := indexOf(ops, scu.SRCBusRegister(3, scu.SRC_CTRL), equals(1))
	ssiOn := indexOf(ops, scu.SSIURegister(1, scu.SSIU_CONTROL), equals(1))
	require.NotEqual(t, -1, srcOn)
	require.NotEqual(t, -1, ssiOn)
	assert.Less(t, srcOn, ssiOn, "Capture starts the converter before the SSI")

	assert.Equal(t, []scu.SlaveID{0x8c, 0x30}, s.Channels())
}
