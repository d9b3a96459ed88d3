package scu_test

import (
	"errors"
	"math/bits"
	"math/rand"
	"strings"
	"syscall"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/scu"
)

func TestRouting(t *testing.T) {
	t.Run("RandomToggles", testRoutingRandomToggles)
	t.Run("NoOp", testRoutingNoOp)
	t.Run("SecondToggle", testRoutingSecondToggle)
	t.Run("BusyWhileStreaming", testRoutingBusyWhileStreaming)
	t.Run("IllegalDefault", testRoutingIllegalDefault)
	t.Run("InvalidArguments", testRoutingInvalidArguments)
	t.Run("Metrics", testRoutingMetrics)
}

// testRoutingRandomToggles drives the toggles with random writes and checks them against a model of the
// toggle mask: the active route is always legal or none, and exactly its endpoint is enabled.
func testRoutingRandomToggles(t *testing.T) {
	for _, b := range scu.Boards() {
		f := newFixture(t, b)
		rng := rand.New(rand.NewSource(1))

		mask := map[scu.Direction]uint32{}
		for _, dir := range scu.Directions {
			if topo := f.ctx.ActiveTopology(dir); topo != scu.TopologyNone {
				mask[dir] = 1 << (topo - 1)
			}
		}

		for i := 0; i < 500; i++ {
			dir := scu.Directions[rng.Intn(2)]
			topo := scu.Topologies[rng.Intn(3)]
			on := rng.Intn(2) == 1

			bit := uint32(1) << (topo - 1)
			next := mask[dir] &^ bit
			if on {
				next = mask[dir] | bit
			}

			changed, err := f.ctx.SetRoute(dir, topo, on)

			switch {
			case next == mask[dir]:
				require.NoError(t, err)
				require.False(t, changed, "%s: rewriting %s=%v should be a no-op", b.Name, topo, on)
			case bits.OnesCount32(next) > 1:
				require.ErrorIs(t, err, scu.ErrInvalidRoute, "%s: second toggle should be refused", b.Name)
			case next != 0 && !b.Routes.ValidateRoute(dir, scu.Topology(bits.TrailingZeros32(next)+1)):
				require.ErrorIs(t, err, scu.ErrInvalidRoute, "%s: illegal %s %s should be refused", b.Name, dir, topo)
			default:
				require.NoError(t, err)
				require.True(t, changed)
				mask[dir] = next
			}

			want := scu.TopologyNone
			if mask[dir] != 0 {
				want = scu.Topology(bits.TrailingZeros32(mask[dir]) + 1)
			}

			active := f.ctx.ActiveTopology(dir)
			require.Equal(t, want, active)
			require.True(t, active == scu.TopologyNone || b.Routes.ValidateRoute(dir, active))

			enabled := 0
			for _, other := range scu.Topologies {
				require.Equal(t, mask[dir]&(1<<(other-1)) != 0, f.ctx.Route(dir, other))
				if f.ctx.EndpointEnabled(dir, other) {
					enabled++
					require.Equal(t, active, other, "Only the active endpoint may be enabled")
				}
			}

			if active == scu.TopologyNone {
				require.Zero(t, enabled)
			} else {
				require.Equal(t, 1, enabled)
			}
		}

		assert.Empty(t, f.mem.Writes(), "Routing alone should never touch registers")
	}
}

func testRoutingNoOp(t *testing.T) {
	f := newFixture(t, scu.Lager())

	changed, err := f.ctx.SetRoute(scu.Playback, scu.TopologyViaSRC, true)
	require.NoError(t, err)
	assert.False(t, changed, "Enabling the active route again should report no change")

	changed, err = f.ctx.SetRoute(scu.Playback, scu.TopologyDirect, false)
	require.NoError(t, err)
	assert.False(t, changed, "Disabling an inactive route should report no change")

	n, err := testutil.GatherAndCount(f.ctx.Registry(), "scu_route_changes_total")
	require.NoError(t, err)
	assert.Zero(t, n, "No route change should be counted")
	assert.Empty(t, f.mem.Writes())
	assert.Equal(t, scu.TopologyViaSRC, f.ctx.ActiveTopology(scu.Playback))
}

func testRoutingSecondToggle(t *testing.T) {
	f := newFixture(t, scu.Lager())

	_, err := f.ctx.SetRoute(scu.Playback, scu.TopologyDirect, true)
	require.ErrorIs(t, err, scu.ErrInvalidRoute)
	assert.True(t, errors.Is(err, syscall.EINVAL))
	assert.False(t, f.ctx.Route(scu.Playback, scu.TopologyDirect), "Refused toggle must not stick")
	assert.Equal(t, scu.TopologyViaSRC, f.ctx.ActiveTopology(scu.Playback))

	// Switching is off, then on.
	changed, err := f.ctx.SetRoute(scu.Playback, scu.TopologyViaSRC, false)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, scu.TopologyNone, f.ctx.ActiveTopology(scu.Playback))
	assert.False(t, f.ctx.EndpointEnabled(scu.Playback, scu.TopologyViaSRC))

	changed, err = f.ctx.SetRoute(scu.Playback, scu.TopologyDirect, true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, scu.TopologyDirect, f.ctx.ActiveTopology(scu.Playback))
	assert.True(t, f.ctx.EndpointEnabled(scu.Playback, scu.TopologyDirect))
}

func testRoutingBusyWhileStreaming(t *testing.T) {
	f := newFixture(t, scu.Koelsch())

	s, _ := f.open(t, scu.Playback, config(48000))
	start(t, s)

	_, err := f.ctx.SetRoute(scu.Playback, scu.TopologyDirect, false)
	assert.ErrorIs(t, err, scu.ErrBusy, "Route change while streaming should be refused")
	assert.True(t, errors.Is(err, syscall.EBUSY))
	assert.Equal(t, scu.TopologyDirect, f.ctx.ActiveTopology(scu.Playback))

	// The other direction is not streaming.
	f.routeTo(t, scu.Capture, scu.TopologyViaSRC)

	require.NoError(t, s.Stop())

	changed, err := f.ctx.SetRoute(scu.Playback, scu.TopologyDirect, false)
	require.NoError(t, err)
	assert.True(t, changed)
}

// testRoutingIllegalDefault probes a board whose playback default is not in its legal set. The default is
// dropped, and neither the control nor an open can bring the illegal route up.
func testRoutingIllegalDefault(t *testing.T) {
	b := scu.Lager()
	b.Routes.Playback = []scu.Topology{scu.TopologyViaSRC, scu.TopologyViaSRCAndDVC}
	b.Default[scu.Playback] = scu.TopologyDirect

	f := newFixture(t, b)

	assert.Equal(t, scu.TopologyNone, f.ctx.ActiveTopology(scu.Playback))
	assert.Equal(t, 1, f.logs.FilterMessage("board default route not permitted, leaving direction unrouted").Len())

	_, err := f.ctx.SetRoute(scu.Playback, scu.TopologyDirect, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.EINVAL), "Illegal route should map to EINVAL")
	assert.False(t, f.ctx.Route(scu.Playback, scu.TopologyDirect))

	s, err := f.ctx.Open(scu.Playback)
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, syscall.EINVAL), "Open without a legal route should map to EINVAL")

	assert.Empty(t, f.mem.Writes(), "No register may be touched")
	assert.Empty(t, f.clk.Events(), "No clock may be enabled")
	assert.Empty(t, f.dma.Requests(), "No DMA channel may be requested")

	// The legal routes still work.
	f.routeTo(t, scu.Playback, scu.TopologyViaSRCAndDVC)
}

func testRoutingInvalidArguments(t *testing.T) {
	f := newFixture(t, scu.Lager())

	_, err := f.ctx.SetRoute(scu.Playback, scu.TopologyNone, true)
	assert.ErrorIs(t, err, scu.ErrInvalidValue)

	_, err = f.ctx.SetRoute(scu.Direction(3), scu.TopologyDirect, true)
	assert.ErrorIs(t, err, scu.ErrInvalidValue)

	assert.False(t, f.ctx.Route(scu.Direction(3), scu.TopologyDirect))
	assert.Equal(t, scu.TopologyNone, f.ctx.ActiveTopology(scu.Direction(3)))
	assert.False(t, f.ctx.EndpointEnabled(scu.Direction(3), scu.TopologyDirect))
}

func testRoutingMetrics(t *testing.T) {
	f := newFixture(t, scu.Lager())

	f.routeTo(t, scu.Playback, scu.TopologyViaSRCAndDVC)

	expected := `
# HELP scu_route_active Active topology per direction: 0 none, 1 SSI, 2 SRC, 3 DVC.
# TYPE scu_route_active gauge
scu_route_active{direction="Capture"} 1
scu_route_active{direction="Playback"} 3
# HELP scu_route_changes_total Number of accepted route changes.
# TYPE scu_route_changes_total counter
scu_route_changes_total{direction="Playback"} 2
`
	err := testutil.GatherAndCompare(f.ctx.Registry(), strings.NewReader(expected),
		"scu_route_active", "scu_route_changes_total")
	assert.NoError(t, err)
}
