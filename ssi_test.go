package scu_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/scu"
)

func TestSSI(t *testing.T) {
	t.Run("OutputStartOrder", testSSIOutputStartOrder)
	t.Run("InputStartOrder", testSSIInputStartOrder)
	t.Run("OutputStopOrder", testSSIOutputStopOrder)
	t.Run("InputStopOrder", testSSIInputStopOrder)
	t.Run("PollTimeout", testSSIPollTimeout)
	t.Run("MasterDivider", testSSIMasterDivider)
	t.Run("SharedClocks", testSSISharedClocks)
}

func testSSIOutputStartOrder(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	s, _ := f.open(t, scu.Playback, config(48000))
	start(t, s)

	cr := scu.SSIRegister(0, scu.SSICR)
	control := scu.SSIURegister(0, scu.SSIU_CONTROL)
	ops := f.mem.Writes()

	enabled := indexOf(ops, cr, hasBits(scu.SSICR_EN|scu.SSICR_DMEN))
	started := indexOf(ops, control, equals(1))
	armed := indexOf(ops, cr, hasBits(scu.SSICR_IRQ_EN))

	require.NotEqual(t, -1, enabled, "SSI should be enabled")
	require.NotEqual(t, -1, started, "SSIU should be started")
	require.NotEqual(t, -1, armed, "Error interrupts should be unmasked")
	assert.Less(t, enabled, started, "Output enables the SSI before its bus interface")
	assert.Less(t, started, armed, "Error interrupts are unmasked last")

	v, ok := f.mem.LastWrite(scu.SSIURegister(0, scu.SSIU_BUSIF_ADINR))
	require.True(t, ok)
	assert.Equal(t, uint32(8<<16|2), v, "16 bit stereo bus format")

	v, ok = f.mem.LastWrite(cr)
	require.True(t, ok)
	assert.NotZero(t, v&scu.SSICR_TRMD, "Output sets transmit mode")
	assert.Equal(t, uint32(1), v>>scu.SSICR_DWL_SHIFT&7, "16 bit data word")
	assert.Zero(t, v&scu.SSICR_SCKD, "Slave SSI does not drive the bit clock")

	assert.Equal(t, []string{"+ssiu", "+ssi0"}, f.clk.Events())
}

func testSSIInputStartOrder(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	s, _ := f.open(t, scu.Capture, config(48000))
	start(t, s)

	cr := scu.SSIRegister(1, scu.SSICR)
	control := scu.SSIURegister(1, scu.SSIU_CONTROL)
	ops := f.mem.Writes()

	enabled := indexOf(ops, cr, hasBits(scu.SSICR_EN|scu.SSICR_DMEN))
	started := indexOf(ops, control, equals(1))

	require.NotEqual(t, -1, enabled)
	require.NotEqual(t, -1, started)
	assert.Less(t, started, enabled, "Input starts the bus interface before the SSI")

	v, ok := f.mem.LastWrite(cr)
	require.True(t, ok)
	assert.Zero(t, v&scu.SSICR_TRMD, "Input clears transmit mode")

	assert.Equal(t, uint32(1<<2), f.mem.Get(scu.SSI_MODE1), "SSI1 shares the clocks of SSI0")
	assert.Equal(t, []string{"+ssiu", "+ssi0", "+ssi1"}, f.clk.Events())
}

func testSSIOutputStopOrder(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	s, _ := f.open(t, scu.Playback, config(48000))
	start(t, s)
	f.mem.Reset()

	require.NoError(t, s.Stop())

	cr := scu.SSIRegister(0, scu.SSICR)
	control := scu.SSIURegister(0, scu.SSIU_CONTROL)
	ops := f.mem.Writes()

	masked := indexOf(ops, cr, lacksBits(scu.SSICR_IRQ_EN))
	drained := indexOf(ops, cr, func(v uint32) bool { return v&scu.SSICR_DMEN == 0 && v&scu.SSICR_EN != 0 })
	disabled := indexOf(ops, cr, lacksBits(scu.SSICR_EN|scu.SSICR_DMEN))
	stopped := indexOf(ops, control, equals(0))

	require.NotEqual(t, -1, masked)
	require.NotEqual(t, -1, drained, "DMA requests should stop before the SSI")
	require.NotEqual(t, -1, disabled)
	require.NotEqual(t, -1, stopped)
	assert.LessOrEqual(t, masked, drained)
	assert.Less(t, drained, disabled)
	assert.Less(t, disabled, stopped, "Output stops its bus interface last")

	assert.Zero(t, f.clk.Running(), "Every clock should be off")
	assert.Equal(t, int64(0), f.delays.Load(), "Status bits were already set")
	assert.Equal(t, []scu.SlaveID{0x01}, f.dma.Released())
}

func testSSIInputStopOrder(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	s, _ := f.open(t, scu.Capture, config(48000))
	start(t, s)
	f.mem.Reset()

	require.NoError(t, s.Stop())

	cr := scu.SSIRegister(1, scu.SSICR)
	control := scu.SSIURegister(1, scu.SSIU_CONTROL)
	ops := f.mem.Writes()

	stopped := indexOf(ops, control, equals(0))
	disabled := indexOf(ops, cr, lacksBits(scu.SSICR_EN|scu.SSICR_DMEN))

	require.NotEqual(t, -1, stopped)
	require.NotEqual(t, -1, disabled)
	assert.Less(t, stopped, disabled, "Input stops its bus interface first")
	assert.Zero(t, f.mem.Get(scu.SSI_MODE1))
	assert.Zero(t, f.clk.Running())
}

func testSSIPollTimeout(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	s, _ := f.open(t, scu.Playback, config(48000))
	start(t, s)

	// The SSI never reports idle.
	f.mem.Unstick(scu.SSIRegister(0, scu.SSISR), scu.SSISR_IIRQ)

	require.NoError(t, s.Stop(), "A poll timeout is not an error")

	assert.Equal(t, int64(1000), f.delays.Load(), "The idle poll should give up after 1000 tries")

	entries := f.logs.FilterMessage("register poll timed out").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ssi0", entries[0].ContextMap()["block"])

	v, ok := f.mem.LastWrite(scu.SSIURegister(0, scu.SSIU_CONTROL))
	require.True(t, ok)
	assert.Zero(t, v, "Teardown should continue after the timeout")
	assert.Zero(t, f.clk.Running())

	expected := `
# HELP scu_poll_timeouts_total Number of register polls that gave up.
# TYPE scu_poll_timeouts_total counter
scu_poll_timeouts_total{block="ssi0"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(f.ctx.Registry(), strings.NewReader(expected), "scu_poll_timeouts_total"))
	assert.Equal(t, scu.SNDRV_PCM_STATE_SETUP, s.State())
}

func testSSIMasterDivider(t *testing.T) {
	f := newFixture(t, scu.Lager())
	f.routeTo(t, scu.Playback, scu.TopologyDirect)

	s, _ := f.open(t, scu.Playback, config(44100))
	start(t, s)

	v, ok := f.mem.LastWrite(scu.SSIRegister(0, scu.SSICR))
	require.True(t, ok)
	assert.NotZero(t, v&scu.SSICR_SCKD, "Master SSI drives the bit clock")
	assert.NotZero(t, v&scu.SSICR_SWSD, "Master SSI drives the word clock")
	assert.Equal(t, uint32(2), v>>scu.SSICR_CKDV_SHIFT&0xf, "11.2896 MHz / 4 = 64 * 44.1 kHz")
	assert.Equal(t, uint32(1), f.mem.Get(scu.ADG_SSICKR))
	assert.True(t, f.clk.Enabled(scu.ClockADG))

	require.NoError(t, s.Stop())
	assert.Zero(t, f.mem.Get(scu.ADG_SSICKR))
	require.NoError(t, s.Close())

	// 48 kHz cannot be derived from the Lager audio clock without a converter.
	s, err := f.ctx.Open(scu.Playback)
	require.NoError(t, err)

	cfg := config(48000)
	err = s.HWParams(&cfg, newBuffer(cfg))
	assert.ErrorIs(t, err, scu.ErrInvalidValue)
	assert.Equal(t, scu.SNDRV_PCM_STATE_OPEN, s.State())

	k := f.ctx.Constraints(scu.Playback)
	lo, err := k.RangeMin(scu.SNDRV_PCM_HW_PARAM_RATE)
	require.NoError(t, err)
	hi, err := k.RangeMax(scu.SNDRV_PCM_HW_PARAM_RATE)
	require.NoError(t, err)
	assert.Equal(t, uint32(11025), lo)
	assert.Equal(t, uint32(176400), hi)
}

// testSSISharedClocks runs both directions on Lager, where capture borrows the clocks of the playback SSI.
// Shared clocks are gated once and stay on until their last user stops.
func testSSISharedClocks(t *testing.T) {
	f := newFixture(t, scu.Lager())

	play, _ := f.open(t, scu.Playback, config(48000))
	capture, _ := f.open(t, scu.Capture, config(44100))

	start(t, play)
	start(t, capture)

	assert.Zero(t, f.clk.DoubleEnables(), "No clock should be enabled twice")
	assert.True(t, f.clk.Enabled(scu.ClockSSI(0)))
	assert.True(t, f.clk.Enabled(scu.ClockSSI(1)))

	require.NoError(t, play.Stop())
	assert.True(t, f.clk.Enabled(scu.ClockSSI(0)), "Capture still needs the SSI0 clocks")
	assert.True(t, f.clk.Enabled(scu.ClockSSIU))
	assert.False(t, f.clk.Enabled(scu.ClockSRC(2)))

	require.NoError(t, capture.Stop())
	assert.Zero(t, f.clk.Running())
	assert.Zero(t, f.clk.StrayDisables())
}
