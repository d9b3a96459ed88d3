package scu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/scu"
)

func TestMixer(t *testing.T) {
	t.Run("NilSafety", testMixerNilSafety)
	t.Run("Controls", testMixerControls)
	t.Run("Routes", testMixerRoutes)
	t.Run("Volume", testMixerVolume)
	t.Run("Errors", testMixerErrors)
}

func testMixerNilSafety(t *testing.T) {
	var m *scu.Mixer
	assert.Zero(t, m.NumCtls())
	assert.Zero(t, m.NumCtlsByName("DVC Mute"))

	_, err := m.Ctl(1)
	assert.Error(t, err)

	_, err = m.CtlByIndex(0)
	assert.Error(t, err)

	_, err = m.CtlByName("DVC Mute")
	assert.Error(t, err)

	var ctl *scu.MixerCtl
	assert.Equal(t, ^uint32(0), ctl.ID())
	assert.Empty(t, ctl.Name())
	assert.Equal(t, scu.SNDRV_CTL_ELEM_TYPE_UNKNOWN, ctl.Type())
	assert.Equal(t, "UNKNOWN", ctl.TypeString())
	assert.Zero(t, ctl.NumValues())
	assert.Equal(t, "<nil>", ctl.String())

	_, _, err = ctl.Range()
	assert.Error(t, err)

	_, err = ctl.Value(0)
	assert.Error(t, err)

	_, err = ctl.SetValue(0, 1)
	assert.Error(t, err)
}

func testMixerControls(t *testing.T) {
	tests := []struct {
		board *scu.Board
		want  []string
	}{
		{scu.Koelsch(), []string{
			"Playback Route SSI", "Playback Route SRC", "Playback Route DVC",
			"Capture Route SSI", "Capture Route SRC", "Capture Route DVC",
			"DVC0 Volume", "DVC Mute",
		}},
		{scu.Lager(), []string{
			"Playback Route SSI", "Playback Route SRC", "Playback Route DVC",
			"Capture Route SSI", "Capture Route SRC", "Capture Route DVC",
			"DVC0 Volume", "DVC1 Volume", "DVC Mute",
		}},
	}

	for _, tt := range tests {
		f := newFixture(t, tt.board)
		m := f.ctx.Mixer()

		require.Equal(t, len(tt.want), m.NumCtls(), "%s control count", tt.board.Name)

		for i, name := range tt.want {
			ctl, err := m.CtlByIndex(uint(i))
			require.NoError(t, err)
			assert.Equal(t, name, ctl.Name())
			assert.Equal(t, uint32(i+1), ctl.ID(), "Control ids start at 1")
			assert.Equal(t, 1, m.NumCtlsByName(name))

			byID, err := m.Ctl(ctl.ID())
			require.NoError(t, err)
			assert.Same(t, ctl, byID)
		}
	}
}

func testMixerRoutes(t *testing.T) {
	f := newFixture(t, scu.Koelsch())
	m := f.ctx.Mixer()

	ssi, err := m.CtlByName("Playback Route SSI")
	require.NoError(t, err)
	assert.Equal(t, "BOOL", ssi.TypeString())
	assert.Equal(t, uint32(1), ssi.NumValues())

	v, err := ssi.Value(0)
	require.NoError(t, err)
	assert.Equal(t, 1, v, "Koelsch plays direct by default")

	src, err := m.CtlByName("Playback Route SRC")
	require.NoError(t, err)

	_, err = src.SetValue(0, 1)
	assert.ErrorIs(t, err, scu.ErrInvalidRoute, "Two routes cannot be on at once")

	changed, err := ssi.SetValue(0, 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, scu.TopologyNone, f.ctx.ActiveTopology(scu.Playback))

	changed, err = src.SetValue(0, 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, scu.TopologyViaSRC, f.ctx.ActiveTopology(scu.Playback))
	assert.True(t, f.ctx.EndpointEnabled(scu.Playback, scu.TopologyViaSRC))
	assert.False(t, f.ctx.EndpointEnabled(scu.Playback, scu.TopologyDirect))

	changed, err = src.SetValue(0, 5)
	require.NoError(t, err)
	assert.False(t, changed, "Any non-zero value is on")

	dvc, err := m.CtlByName("Capture Route DVC")
	require.NoError(t, err)

	_, err = f.ctx.SetRoute(scu.Capture, scu.TopologyDirect, false)
	require.NoError(t, err)

	_, err = dvc.SetValue(0, 1)
	assert.ErrorIs(t, err, scu.ErrInvalidRoute, "Koelsch capture has no volume controller")
	assert.Equal(t, scu.TopologyNone, f.ctx.ActiveTopology(scu.Capture))
}

func testMixerVolume(t *testing.T) {
	f := newFixture(t, scu.Lager())
	m := f.ctx.Mixer()

	vol, err := m.CtlByName("DVC1 Volume")
	require.NoError(t, err)
	assert.Equal(t, "INT", vol.TypeString())
	assert.Equal(t, uint32(2), vol.NumValues())

	lo, hi, err := vol.Range()
	require.NoError(t, err)
	assert.Equal(t, 0, lo)
	assert.Equal(t, scu.VolumeMax, hi)

	changed, err := vol.SetValue(1, 0x200)
	require.NoError(t, err)
	assert.True(t, changed)

	v, err := f.ctx.Volume(1, scu.Right)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x200), v)

	_, err = vol.SetValue(0, -1)
	assert.ErrorIs(t, err, scu.ErrInvalidValue)

	_, err = vol.SetValue(0, scu.VolumeMax+1)
	assert.ErrorIs(t, err, scu.ErrInvalidValue)

	mute, err := m.CtlByName("DVC Mute")
	require.NoError(t, err)

	changed, err = mute.SetValue(0, 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, f.ctx.Muted(scu.Left))

	assert.Contains(t, vol.String(), "DVC1 Volume")
	assert.Contains(t, vol.String(), "512")
	assert.Contains(t, mute.String(), " 1 0 (range 0->1)")
}

func testMixerErrors(t *testing.T) {
	f := newFixture(t, scu.Koelsch())
	m := f.ctx.Mixer()

	_, err := m.Ctl(0)
	assert.Error(t, err, "Control ids start at 1")

	_, err = m.CtlByIndex(uint(m.NumCtls()))
	assert.Error(t, err)

	_, err = m.CtlByName("DVC1 Volume")
	assert.Error(t, err, "Koelsch has a single DVC")

	_, err = m.CtlByNameAndIndex("DVC Mute", 1)
	assert.Error(t, err)

	mute, err := m.CtlByName("DVC Mute")
	require.NoError(t, err)

	_, err = mute.Value(2)
	assert.Error(t, err)

	_, err = mute.SetValue(2, 1)
	assert.Error(t, err)
}
