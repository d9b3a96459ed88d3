package scu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/scu"
)

func TestDVC(t *testing.T) {
	t.Run("VolumeRange", testDVCVolumeRange)
	t.Run("StoredWhileStopped", testDVCStoredWhileStopped)
	t.Run("EnableSequence", testDVCEnableSequence)
	t.Run("LiveUpdates", testDVCLiveUpdates)
	t.Run("CaptureOrder", testDVCCaptureOrder)
}

func testDVCVolumeRange(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	v, err := f.ctx.Volume(0, scu.Left)
	require.NoError(t, err)
	assert.Equal(t, uint32(scu.VolumeDefault), v)

	changed, err := f.ctx.SetVolume(0, scu.Right, scu.VolumeMax+1)
	assert.ErrorIs(t, err, scu.ErrInvalidValue, "Volume above the maximum should be refused")
	assert.False(t, changed)

	v, err = f.ctx.Volume(0, scu.Right)
	require.NoError(t, err)
	assert.Equal(t, uint32(scu.VolumeDefault), v, "A refused volume must not be stored")

	changed, err = f.ctx.SetVolume(0, scu.Right, scu.VolumeMax)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = f.ctx.SetVolume(1, scu.Left, 0)
	assert.ErrorIs(t, err, scu.ErrNotFound, "Koelsch has a single DVC")

	_, err = f.ctx.SetVolume(0, 2, 0)
	assert.ErrorIs(t, err, scu.ErrInvalidValue)

	_, err = f.ctx.Volume(3, scu.Left)
	assert.ErrorIs(t, err, scu.ErrNotFound)

	_, err = f.ctx.SetMute(5, true)
	assert.ErrorIs(t, err, scu.ErrInvalidValue)
	assert.False(t, f.ctx.Muted(5))
}

func testDVCStoredWhileStopped(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	changed, err := f.ctx.SetVolume(0, scu.Left, 0x1234)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.ctx.SetVolume(0, scu.Left, 0x1234)
	require.NoError(t, err)
	assert.False(t, changed, "Same value should report no change")

	changed, err = f.ctx.SetMute(scu.Right, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, f.ctx.Muted(scu.Right))

	assert.Empty(t, f.mem.Writes(), "A stopped DVC is not written")
}

func testDVCEnableSequence(t *testing.T) {
	f := newFixture(t, scu.Koelsch())
	f.routeTo(t, scu.Playback, scu.TopologyViaSRCAndDVC)

	_, err := f.ctx.SetVolume(0, scu.Left, 0x1234)
	require.NoError(t, err)
	_, err = f.ctx.SetMute(scu.Right, true)
	require.NoError(t, err)

	s, _ := f.open(t, scu.Playback, config(44100))
	start(t, s)

	reg := func(r uint32) uint32 { return scu.DVCRegister(0, r) }
	ops := f.mem.Writes()

	init1 := indexOf(ops, reg(scu.DVC_DVUIR), equals(1))
	vol := indexOf(ops, reg(scu.DVC_VOL0R), equals(0x1234))
	init0 := indexOf(ops, reg(scu.DVC_DVUIR), equals(0))
	enabled := indexOf(ops, reg(scu.DVC_DVUER), equals(1))

	require.NotEqual(t, -1, init1)
	require.NotEqual(t, -1, vol, "Stored volume should be programmed")
	require.NotEqual(t, -1, init0)
	require.NotEqual(t, -1, enabled)
	assert.Less(t, init1, vol, "Volume is programmed while in init mode")
	assert.Less(t, vol, init0)
	assert.Less(t, init0, enabled)

	assert.Equal(t, uint32(scu.VolumeDefault), f.mem.Get(reg(scu.DVC_VOL1R)))
	assert.Equal(t, uint32(1), f.mem.Get(reg(scu.DVC_ZCMCR)), "Right channel muted")
	assert.Equal(t, uint32(0x101), f.mem.Get(reg(scu.DVC_DVUCR)))
	assert.Equal(t, uint32(3), f.mem.Get(scu.CMDRegister(0, scu.CMD_ROUTE_SLCT)), "DVC0 takes SRC2")
	assert.Equal(t, uint32(1), f.mem.Get(scu.CMDRegister(0, scu.CMD_CTRL)))

	assert.Equal(t, []scu.SlaveID{0xbc, 0x2f}, s.Channels(), "DVC carries the memory transfers")
	assert.True(t, f.clk.Enabled(scu.ClockDVC(0)))

	require.NoError(t, s.Stop())
	assert.Zero(t, f.mem.Get(reg(scu.DVC_DVUER)))
	assert.Zero(t, f.mem.Get(scu.CMDRegister(0, scu.CMD_CTRL)))
	assert.Zero(t, f.clk.Running())
}

func testDVCLiveUpdates(t *testing.T) {
	f := newFixture(t, scu.Lager())
	f.routeTo(t, scu.Playback, scu.TopologyViaSRCAndDVC)

	s, _ := f.open(t, scu.Playback, config(48000))
	start(t, s)
	f.mem.Reset()

	changed, err := f.ctx.SetVolume(0, scu.Right, 0x42)
	require.NoError(t, err)
	assert.True(t, changed)

	v, ok := f.mem.LastWrite(scu.DVCRegister(0, scu.DVC_VOL1R))
	require.True(t, ok, "Running DVC is updated at once")
	assert.Equal(t, uint32(0x42), v)

	_, err = f.ctx.SetVolume(1, scu.Right, 0x42)
	require.NoError(t, err)
	assert.Empty(t, f.mem.Writes(scu.DVCRegister(1, scu.DVC_VOL1R)), "DVC1 is not running")

	_, err = f.ctx.SetMute(scu.Left, true)
	require.NoError(t, err)

	v, ok = f.mem.LastWrite(scu.DVCRegister(0, scu.DVC_ZCMCR))
	require.True(t, ok)
	assert.Equal(t, uint32(2), v, "Left channel muted")

	require.NoError(t, s.Stop())
	f.mem.Reset()

	_, err = f.ctx.SetMute(scu.Left, false)
	require.NoError(t, err)
	assert.Empty(t, f.mem.Writes(), "Stopped DVC is not written")
}

func testDVCCaptureOrder(t *testing.T) {
	f := newFixture(t, scu.Lager())
	f.routeTo(t, scu.Capture, scu.TopologyViaSRCAndDVC)

	s, _ := f.open(t, scu.Capture, config(44100))
	start(t, s)

	ops := f.mem.Writes()
	dvcOn := indexOf(ops, scu.CMDRegister(1, scu.CMD_CTRL), equals(1))
	srcOn := indexOf(ops, scu.SRCBusRegister(3, scu.SRC_CTRL), equals(1))
	ssiOn := indexOf(ops, scu.SSIURegister(1, scu.SSIU_CONTROL), equals(1))

	require.NotEqual(t, -1, dvcOn)
	require.NotEqual(t, -1, srcOn)
	require.NotEqual(t, -1, ssiOn)
	assert.Less(t, dvcOn, srcOn)
	assert.Less(t, srcOn, ssiOn)

	assert.Equal(t, uint32(4), f.mem.Get(scu.CMDRegister(1, scu.CMD_ROUTE_SLCT)), "DVC1 takes SRC3")
	assert.Equal(t, []scu.SlaveID{0xbf, 0x30}, s.Channels())
}
