package scu

import (
	"fmt"
	"math/bits"

	"go.uber.org/zap"
)

// routeState is the toggle state of one direction. Every control owns one bit of mask; a route is active only
// when exactly one bit is set.
type routeState struct {
	mask   uint32
	active Topology
	pins   map[Topology]bool
}

func (c *Context) initRoute(dir Direction, def Topology) {
	rs := &c.route[dir]
	rs.pins = make(map[Topology]bool)

	if def != TopologyNone && !c.routes.ValidateRoute(dir, def) {
		c.log.Warn("board default route not permitted, leaving direction unrouted",
			zap.Stringer("direction", dir), zap.Stringer("topology", def))

		def = TopologyNone
	}

	rs.mask = def.bit()
	rs.active = def
	c.updatePins(dir)
	c.metrics.routeActive.WithLabelValues(dir.String()).Set(float64(def))
}

// topologyFromMask returns the topology selected by mask.
func topologyFromMask(mask uint32) (Topology, error) {
	switch bits.OnesCount32(mask) {
	case 0:
		return TopologyNone, nil
	case 1:
		return Topology(bits.TrailingZeros32(mask) + 1), nil
	}

	return TopologyNone, fmt.Errorf("more than one route selected (%#x): %w", mask, ErrInvalidRoute)
}

// SetRoute turns the control of topo on or off for dir. It returns false without touching any endpoint when the
// control already has the requested value. A change that would leave an illegal route, or that happens while
// dir is streaming, is refused and leaves the state as it was.
func (c *Context) SetRoute(dir Direction, topo Topology, on bool) (bool, error) {
	bit := topo.bit()
	if bit == 0 || (dir != Playback && dir != Capture) {
		return false, fmt.Errorf("route %v/%v: %w", dir, topo, ErrInvalidValue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rs := &c.route[dir]

	mask := rs.mask &^ bit
	if on {
		mask = rs.mask | bit
	}

	if mask == rs.mask {
		return false, nil
	}

	if c.streaming[dir] {
		return false, fmt.Errorf("change %s route while streaming: %w", dir, ErrBusy)
	}

	next, err := topologyFromMask(mask)
	if err != nil {
		return false, err
	}

	if next != TopologyNone && !c.routes.ValidateRoute(dir, next) {
		return false, fmt.Errorf("%s via %s: %w", dir, next, ErrInvalidRoute)
	}

	rs.mask = mask
	rs.active = next
	c.updatePins(dir)

	c.metrics.routeChanges.WithLabelValues(dir.String()).Inc()
	c.metrics.routeActive.WithLabelValues(dir.String()).Set(float64(next))
	c.log.Debug("route changed", zap.Stringer("direction", dir), zap.Stringer("topology", next))

	return true, nil
}

// Route reports whether the control of topo is on for dir.
func (c *Context) Route(dir Direction, topo Topology) bool {
	if dir != Playback && dir != Capture {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.route[dir].mask&topo.bit() != 0
}

// ActiveTopology returns the active route of dir.
func (c *Context) ActiveTopology(dir Direction) Topology {
	if dir != Playback && dir != Capture {
		return TopologyNone
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.route[dir].active
}

// EndpointEnabled reports whether the endpoint of topo, such as "SRC Playback", is enabled.
func (c *Context) EndpointEnabled(dir Direction, topo Topology) bool {
	if dir != Playback && dir != Capture {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.route[dir].pins[topo]
}

// updatePins enables the endpoint of the active topology and disables the others.
func (c *Context) updatePins(dir Direction) {
	rs := &c.route[dir]

	for _, t := range Topologies {
		want := t == rs.active
		if rs.pins[t] != want {
			rs.pins[t] = want
			c.log.Debug("endpoint", zap.String("pin", endpointName(dir, t)), zap.Bool("enabled", want))
		}
	}
}

func endpointName(dir Direction, topo Topology) string {
	return fmt.Sprintf("%s %s", topo, dir)
}
