package scu

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Framework receives substream notifications. Both methods may be called from DMA completion and interrupt
// handlers and must not block.
type Framework interface {
	PeriodElapsed(s *Substream)
	ForceXrun(s *Substream)
}

// IRQ registers interrupt handlers. A handler reports whether it serviced the interrupt.
type IRQ interface {
	Request(name string, handler func() bool) error
	Free(name string)
}

// Interrupt line names requested by Probe.
const (
	IRQNameSSI = "ssi"
	IRQNameSCU = "scu"
)

// Options carries the collaborators of a Context.
type Options struct {
	Mem   Mem
	Clock Clock
	DMA   DMAController

	// IRQ is optional. Without it the caller invokes HandleSSIInterrupt and HandleSRCInterrupt itself.
	IRQ IRQ
	// Framework is optional.
	Framework Framework

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
	// Registerer defaults to a private registry returned by Context.Registry.
	Registerer prometheus.Registerer
	// Delay is used between register polls. It defaults to a busy wait.
	Delay func(time.Duration)
}

type srcOwner struct {
	s    *Substream
	sync bool
}

// Context is the audio subsystem of one board: route state, register access, clocks, DMA and substreams.
type Context struct {
	// Immutable.
	board    *Board
	routes   *RouteTable
	regs     *regMap
	mem      Mem
	clocks   *clockRefs
	dma      *DMABroker
	irq      IRQ
	fw       Framework
	log      *zap.Logger
	metrics  *metrics
	registry *prometheus.Registry
	reg      prometheus.Registerer
	delay    func(time.Duration)
	mixer    *Mixer

	// Leaf lock for read-modify-write of registers.
	regMu sync.Mutex

	// Mutable.
	mu         sync.Mutex
	route      [2]routeState
	streaming  [2]bool
	streams    [2]*Substream
	ssiOwner   map[int]*Substream
	srcOwner   map[int]srcOwner
	volume     map[int]*[2]uint32
	mute       [2]bool
	dvcRunning map[int]bool
	removed    bool
}

// Probe builds the audio subsystem of board. The board's route table must not be modified afterwards.
func Probe(board *Board, opts Options) (*Context, error) {
	if board == nil {
		return nil, errors.New("board is nil")
	}

	if opts.Mem == nil || opts.Clock == nil || opts.DMA == nil {
		return nil, errors.New("register window, clock and DMA controller are required")
	}

	regs, err := newRegMap(&board.Routes)
	if err != nil {
		return nil, fmt.Errorf("invalid route table for %s: %w", board.Name, err)
	}

	for _, dir := range Directions {
		if _, ok := board.Paths[dir]; !ok {
			return nil, fmt.Errorf("board %s has no %s path: %w", board.Name, dir, ErrNotFound)
		}
	}

	c := &Context{
		board:      board,
		routes:     &board.Routes,
		regs:       regs,
		mem:        opts.Mem,
		clocks:     newClockRefs(opts.Clock),
		dma:        NewDMABroker(opts.DMA),
		irq:        opts.IRQ,
		fw:         opts.Framework,
		log:        opts.Logger,
		reg:        opts.Registerer,
		delay:      opts.Delay,
		ssiOwner:   make(map[int]*Substream),
		srcOwner:   make(map[int]srcOwner),
		volume:     make(map[int]*[2]uint32),
		dvcRunning: make(map[int]bool),
	}

	if c.fw == nil {
		c.fw = nopFramework{}
	}

	if c.log == nil {
		c.log = zap.NewNop()
	}
	c.log = c.log.With(zap.String("board", board.Name))

	if c.delay == nil {
		c.delay = spinDelay
	}

	if c.reg == nil {
		c.registry = prometheus.NewRegistry()
		c.reg = c.registry
	}

	c.metrics, err = newMetrics(c.reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	for _, r := range board.Routes.Resources {
		if r.Kind == ResourceDVC {
			c.volume[r.ID] = &[2]uint32{VolumeDefault, VolumeDefault}
		}
	}

	for _, dir := range Directions {
		c.initRoute(dir, board.Default[dir])
	}

	c.mixer = newMixer(c)

	if c.irq != nil {
		if err := c.irq.Request(IRQNameSSI, c.HandleSSIInterrupt); err != nil {
			c.metrics.unregister(c.reg)

			return nil, fmt.Errorf("request %s interrupt: %w", IRQNameSSI, err)
		}

		if err := c.irq.Request(IRQNameSCU, c.HandleSRCInterrupt); err != nil {
			c.irq.Free(IRQNameSSI)
			c.metrics.unregister(c.reg)

			return nil, fmt.Errorf("request %s interrupt: %w", IRQNameSCU, err)
		}
	}

	c.log.Info("probed", zap.String("soc", board.SoC),
		zap.Stringer("playback", c.route[Playback].active), zap.Stringer("capture", c.route[Capture].active))

	return c, nil
}

// Remove closes every substream, frees the interrupt lines and unregisters the metrics.
func (c *Context) Remove() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()

		return nil
	}
	c.removed = true
	streams := c.streams
	c.mu.Unlock()

	var errs []error
	for _, s := range streams {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}

	if c.irq != nil {
		c.irq.Free(IRQNameSCU)
		c.irq.Free(IRQNameSSI)
	}

	c.metrics.unregister(c.reg)

	return errors.Join(errs...)
}

// Board returns the board the context was probed with.
func (c *Context) Board() *Board {
	return c.board
}

// Routes returns the board's route table.
func (c *Context) Routes() *RouteTable {
	return c.routes
}

// Mixer returns the mixer controls of the context.
func (c *Context) Mixer() *Mixer {
	return c.mixer
}

// Registry returns the private metrics registry, or nil if Options.Registerer was set.
func (c *Context) Registry() *prometheus.Registry {
	return c.registry
}

// DMA returns the channel broker.
func (c *Context) DMA() *DMABroker {
	return c.dma
}

// Open opens the substream of dir on the direction's active route.
// It fails with ErrInvalidRoute, touching nothing, if that route is not legal on the board.
func (c *Context) Open(dir Direction) (*Substream, error) {
	if dir != Playback && dir != Capture {
		return nil, fmt.Errorf("direction %v: %w", dir, ErrInvalidValue)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.removed {
		return nil, ErrClosed
	}

	topo := c.route[dir].active
	if !c.routes.ValidateRoute(dir, topo) {
		return nil, fmt.Errorf("open %s on route %s: %w", dir, topo, ErrInvalidRoute)
	}

	if c.streams[dir] != nil {
		return nil, fmt.Errorf("%s substream already open: %w", dir, ErrBusy)
	}

	s := newSubstream(c, dir)
	c.streams[dir] = s

	go s.worker()

	c.log.Debug("substream opened", zap.Stringer("direction", dir), zap.Stringer("topology", topo))

	return s, nil
}

func (c *Context) detach(s *Substream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.streams[s.dir] == s {
		c.streams[s.dir] = nil
	}
}

// beginStream marks dir as streaming and returns its route, which stays fixed until endStream.
func (c *Context) beginStream(dir Direction) (Topology, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	topo := c.route[dir].active
	if !c.routes.ValidateRoute(dir, topo) {
		return TopologyNone, fmt.Errorf("start %s on route %s: %w", dir, topo, ErrInvalidRoute)
	}

	if c.streaming[dir] {
		return TopologyNone, fmt.Errorf("%s already streaming: %w", dir, ErrBusy)
	}

	c.streaming[dir] = true

	return topo, nil
}

func (c *Context) endStream(dir Direction) {
	c.mu.Lock()
	c.streaming[dir] = false
	c.mu.Unlock()
}

func (c *Context) setSSIOwner(id int, s *Substream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s == nil {
		delete(c.ssiOwner, id)

		return
	}

	c.ssiOwner[id] = s
}

func (c *Context) setSRCOwner(id int, s *Substream, sync bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s == nil {
		delete(c.srcOwner, id)

		return
	}

	c.srcOwner[id] = srcOwner{s: s, sync: sync}
}

// poll waits up to pollIterations delays for bits to be set in a register. A timeout is logged and counted,
// never returned: teardown always runs to completion.
func (c *Context) poll(off, bits uint32, block string) bool {
	for i := 0; i < pollIterations; i++ {
		if c.mem.Read32(off)&bits == bits {
			return true
		}

		c.delay(pollInterval)
	}

	c.log.Warn("register poll timed out",
		zap.String("block", block), zap.String("register", fmt.Sprintf("%#x", off)), zap.String("bits", fmt.Sprintf("%#x", bits)))
	c.metrics.pollTimeouts.WithLabelValues(block).Inc()

	return false
}

const (
	pollIterations = 1000
	pollInterval   = time.Microsecond
)

func spinDelay(d time.Duration) {
	end := time.Now().Add(d)
	for time.Now().Before(end) {
	}
}

type nopFramework struct{}

func (nopFramework) PeriodElapsed(*Substream) {}
func (nopFramework) ForceXrun(*Substream)     {}
