package scu

import (
	"fmt"

	"go.uber.org/zap"
)

type stage int

const (
	stageSSI stage = iota
	stageSRC
	stageDVC
)

func (s stage) String() string {
	return [...]string{"ssi", "src", "dvc"}[s]
}

type slaveField int

const (
	memSlave slaveField = iota
	ppSlave
)

type channelSpec struct {
	kind  ResourceKind
	field slaveField
	class DeviceClass
}

// routeOps is the dispatch entry of one direction and topology. Channels are listed memory-facing first;
// stages are listed in enable order and disabled in reverse.
type routeOps struct {
	channels []channelSpec
	stages   []stage
}

var (
	directChannels = []channelSpec{
		{ResourceSSI, memSlave, DeviceClassAudioDMAC},
	}
	viaSRCChannels = []channelSpec{
		{ResourceSRC, memSlave, DeviceClassAudioDMAC},
		{ResourceSRC, ppSlave, DeviceClassAudioDMACPP},
	}
	viaDVCChannels = []channelSpec{
		{ResourceDVC, memSlave, DeviceClassAudioDMAC},
		{ResourceSRC, ppSlave, DeviceClassAudioDMACPP},
	}
)

var routeTable = map[Direction]map[Topology]routeOps{
	Playback: {
		TopologyDirect:       {directChannels, []stage{stageSSI}},
		TopologyViaSRC:       {viaSRCChannels, []stage{stageSSI, stageSRC}},
		TopologyViaSRCAndDVC: {viaDVCChannels, []stage{stageSSI, stageSRC, stageDVC}},
	},
	Capture: {
		TopologyDirect:       {directChannels, []stage{stageSSI}},
		TopologyViaSRC:       {viaSRCChannels, []stage{stageSRC, stageSSI}},
		TopologyViaSRCAndDVC: {viaDVCChannels, []stage{stageDVC, stageSRC, stageSSI}},
	},
}

// hwStream is everything the enable and disable sequences need to know about a started stream.
type hwStream struct {
	dir      Direction
	topo     Topology
	path     Path
	stages   []stage
	channels uint32
	format   PcmFormat
	rate     uint32 // stream rate
	ssiRate  uint32 // rate at the SSI
	srcIn    uint32
	srcOut   uint32
	ckdv     uint32
}

func (h *hwStream) output() bool {
	return h.dir == Playback
}

// resolveStream checks that every resource of the route exists and derives the channel requests and hardware
// rates for cfg.
func (c *Context) resolveStream(dir Direction, topo Topology, cfg Config) (*hwStream, []channelRequest, error) {
	ops, ok := routeTable[dir][topo]
	if !ok {
		return nil, nil, fmt.Errorf("%s via %s: %w", dir, topo, ErrInvalidRoute)
	}

	path := c.board.Paths[dir]
	hw := &hwStream{
		dir:      dir,
		topo:     topo,
		path:     path,
		stages:   ops.stages,
		channels: cfg.Channels,
		format:   cfg.Format,
		rate:     cfg.Rate,
		ssiRate:  cfg.Rate,
	}

	for _, st := range ops.stages {
		if err := c.checkStage(st, path); err != nil {
			return nil, nil, err
		}
	}

	if topo != TopologyDirect {
		hw.ssiRate = c.board.CodecRate
		if dir == Playback {
			hw.srcIn, hw.srcOut = cfg.Rate, c.board.CodecRate
		} else {
			hw.srcIn, hw.srcOut = c.board.CodecRate, cfg.Rate
		}
	}

	if path.Mode == SSIMaster {
		ckdv, err := ssiDivider(c.board.AudioClock, hw.ssiRate)
		if err != nil {
			return nil, nil, err
		}
		hw.ckdv = ckdv
	}

	reqs := make([]channelRequest, 0, len(ops.channels))
	for _, spec := range ops.channels {
		res, err := c.routes.Lookup(spec.kind, pathID(path, spec.kind))
		if err != nil {
			return nil, nil, err
		}

		f := res.Slave
		if spec.field == ppSlave {
			f = res.PPSlave
		}

		v, err := f.Get()
		if err != nil {
			return nil, nil, fmt.Errorf("%s%d dma slave for %s: %w", res.Kind, res.ID, spec.class, err)
		}

		reqs = append(reqs, channelRequest{slave: SlaveID(v), class: spec.class})
	}

	return hw, reqs, nil
}

func pathID(p Path, kind ResourceKind) int {
	switch kind {
	case ResourceSRC:
		return p.SRC
	case ResourceDVC:
		return p.DVC
	}

	return p.SSI
}

func (c *Context) checkStage(st stage, p Path) error {
	var ok bool

	switch st {
	case stageSSI:
		_, ok = c.regs.ssi[p.SSI]
		if ok && p.Shared() {
			_, ok = c.regs.ssi[p.ClockMaster]
		}
	case stageSRC:
		_, ok = c.regs.src[p.SRC]
	case stageDVC:
		_, ok = c.regs.dvc[p.DVC]
	}

	if !ok {
		return fmt.Errorf("%s for path %+v: %w", st, p, ErrNotFound)
	}

	return nil
}

// enablePath runs the route's enable sequence. If a stage fails, the stages already enabled are disabled again.
func (c *Context) enablePath(hw *hwStream, owner *Substream) error {
	for i, st := range hw.stages {
		var err error

		switch st {
		case stageSSI:
			err = c.enableSSI(hw, owner)
		case stageSRC:
			err = c.enableSRC(hw, owner)
		case stageDVC:
			err = c.enableDVC(hw)
		}

		if err != nil {
			for j := i - 1; j >= 0; j-- {
				c.disableStage(hw, hw.stages[j])
			}

			return fmt.Errorf("enable %s: %w", st, err)
		}
	}

	c.log.Debug("path enabled", zap.Stringer("direction", hw.dir), zap.Stringer("topology", hw.topo))

	return nil
}

// disablePath mirrors enablePath.
func (c *Context) disablePath(hw *hwStream) {
	for i := len(hw.stages) - 1; i >= 0; i-- {
		c.disableStage(hw, hw.stages[i])
	}

	c.log.Debug("path disabled", zap.Stringer("direction", hw.dir), zap.Stringer("topology", hw.topo))
}

func (c *Context) disableStage(hw *hwStream, st stage) {
	switch st {
	case stageSSI:
		c.disableSSI(hw)
	case stageSRC:
		c.disableSRC(hw)
	case stageDVC:
		c.disableDVC(hw)
	}
}
