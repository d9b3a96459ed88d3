package scu

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// dmaPrimeDepth is the number of period transfers kept in flight. The first work item after a start issues
// this many; each completion then issues one more.
const dmaPrimeDepth = 2

// Config encapsulates the hardware parameters of a substream.
type Config struct {
	Channels    uint32
	Rate        uint32
	PeriodSize  uint32 // In frames
	PeriodCount uint32
	Format      PcmFormat
}

// DefaultConfig returns 2 channels of S16_LE at 48 kHz in 4 periods of 1024 frames.
func DefaultConfig() Config {
	return Config{
		Channels:    2,
		Rate:        48000,
		PeriodSize:  1024,
		PeriodCount: 4,
		Format:      SNDRV_PCM_FORMAT_S16_LE,
	}
}

// Buffer is the DMA-able ring buffer of a substream.
type Buffer interface {
	Bytes() []byte
	PhysAddr() uint64
}

// CPUSyncer is implemented by buffers that need a cache sync before the CPU reads what a transfer wrote.
type CPUSyncer interface {
	SyncForCPU(off, size int)
}

// Substream is one open PCM stream of a direction and its transfer pipeline.
type Substream struct {
	// Immutable.
	ctx   *Context
	dir   Direction
	work  chan struct{}
	flush chan chan struct{}
	quit  chan struct{}
	done  chan struct{}

	// ops serializes the framework entry points.
	ops sync.Mutex

	// Mutable, guarded by mu.
	mu         sync.Mutex
	state      PcmState
	config     Config
	buf        Buffer
	hw         *hwStream
	topo       Topology
	chans      *DMAChannelSet
	period     uint64 // transfers issued since start
	tranPeriod uint64 // transfers completed since start
	appl       uint64 // frames written or read by the application
	wake       chan struct{}
	flagStart  bool
	flagFirst  bool
	hwEnabled  bool
	gen        uint64
	xruns      int
}

func newSubstream(c *Context, dir Direction) *Substream {
	return &Substream{
		ctx:   c,
		dir:   dir,
		work:  make(chan struct{}, 1),
		flush: make(chan chan struct{}),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		state: SNDRV_PCM_STATE_OPEN,
		wake:  make(chan struct{}),
	}
}

// Direction returns the direction of the substream.
func (s *Substream) Direction() Direction {
	return s.dir
}

// State returns the current state of the substream.
func (s *Substream) State() PcmState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Config returns a copy of the substream's hardware parameters.
func (s *Substream) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.config
}

// Topology returns the route the substream was started on, or TopologyNone when it is not streaming.
func (s *Substream) Topology() Topology {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.topo
}

// Period returns the number of transfers issued since the last start.
func (s *Substream) Period() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.period
}

// TranPeriod returns the number of transfers completed since the last start.
func (s *Substream) TranPeriod() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tranPeriod
}

// Xruns returns the number of underruns (for playback) or overruns (for capture) that have occurred.
func (s *Substream) Xruns() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.xruns
}

// Channels returns the DMA slave ids held by the substream, memory-facing first.
func (s *Substream) Channels() []SlaveID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.chans.Slaves()
}

// FrameSize returns the size of a single frame in bytes.
func (s *Substream) FrameSize() uint32 {
	cfg := s.Config()

	return PcmFramesToBytes(1, cfg.Channels, cfg.Format)
}

// PeriodBytes returns the size of one period in bytes.
func (s *Substream) PeriodBytes() uint32 {
	cfg := s.Config()

	return PcmFramesToBytes(cfg.PeriodSize, cfg.Channels, cfg.Format)
}

// PeriodTime returns the duration of a single period.
func (s *Substream) PeriodTime() time.Duration {
	cfg := s.Config()
	if cfg.Rate == 0 {
		return 0
	}

	return time.Duration(uint64(cfg.PeriodSize) * uint64(time.Second) / uint64(cfg.Rate))
}

// Buffer returns the ring buffer set by HWParams.
func (s *Substream) Buffer() Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf
}

// HWParams sets the hardware parameters and the ring buffer. A nil config selects DefaultConfig.
// The buffer must hold PeriodCount periods.
func (s *Substream) HWParams(config *Config, buf Buffer) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == SNDRV_PCM_STATE_DISCONNECTED {
		return ErrClosed
	}

	if state != SNDRV_PCM_STATE_OPEN && state != SNDRV_PCM_STATE_SETUP {
		return fmt.Errorf("hw_params in state %s: %w", state, ErrBadState)
	}

	if err := s.ctx.Constraints(s.dir).check(cfg); err != nil {
		return err
	}

	if _, _, err := s.ctx.resolveStream(s.dir, s.ctx.ActiveTopology(s.dir), cfg); err != nil {
		return err
	}

	if buf == nil {
		return fmt.Errorf("no DMA buffer: %w", ErrInvalidValue)
	}

	need := PcmFramesToBytes(cfg.PeriodSize*cfg.PeriodCount, cfg.Channels, cfg.Format)
	if uint64(len(buf.Bytes())) < uint64(need) {
		return fmt.Errorf("DMA buffer of %d bytes, need %d: %w", len(buf.Bytes()), need, ErrInvalidValue)
	}

	s.mu.Lock()
	s.config = cfg
	s.buf = buf
	s.appl = 0
	s.state = SNDRV_PCM_STATE_SETUP
	s.mu.Unlock()

	return nil
}

// Trigger starts or stops the substream.
func (s *Substream) Trigger(cmd TriggerCmd) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	switch cmd {
	case TriggerStart:
		return s.start()
	case TriggerStop:
		return s.stop()
	}

	return fmt.Errorf("trigger command %d: %w", cmd, ErrInvalidValue)
}

// Start is Trigger(TriggerStart).
func (s *Substream) Start() error {
	return s.Trigger(TriggerStart)
}

// Stop is Trigger(TriggerStop).
func (s *Substream) Stop() error {
	return s.Trigger(TriggerStop)
}

// start acquires the route's DMA channels, resets the counters and schedules the first work item.
// The hardware is enabled by the worker.
func (s *Substream) start() error {
	c := s.ctx

	s.mu.Lock()
	state, cfg := s.state, s.config
	s.mu.Unlock()

	if state == SNDRV_PCM_STATE_DISCONNECTED {
		return ErrClosed
	}

	if state != SNDRV_PCM_STATE_SETUP {
		return fmt.Errorf("start in state %s: %w", state, ErrBadState)
	}

	topo, err := c.beginStream(s.dir)
	if err != nil {
		return err
	}

	hw, reqs, err := c.resolveStream(s.dir, topo, cfg)
	if err != nil {
		c.endStream(s.dir)

		return err
	}

	chans, err := c.dma.acquireSet(reqs)
	if err != nil {
		c.endStream(s.dir)
		c.metrics.dmaBusy.WithLabelValues(s.dir.String()).Inc()

		return fmt.Errorf("start %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.period = 0
	s.tranPeriod = 0
	s.flagStart = true
	s.flagFirst = true
	s.hwEnabled = false
	s.gen++
	s.chans = chans
	s.hw = hw
	s.topo = topo
	s.state = SNDRV_PCM_STATE_RUNNING
	s.notify()
	s.mu.Unlock()

	c.log.Debug("substream started", zap.Stringer("direction", s.dir), zap.Stringer("topology", topo),
		zap.Any("slaves", chans.Slaves()))

	s.queue()

	return nil
}

// stop clears the start flag, disables whatever hardware the worker enabled and releases the DMA channels.
// Transfers already in flight may still complete; their callbacks belong to an old session and are ignored.
func (s *Substream) stop() error {
	c := s.ctx

	s.mu.Lock()
	if s.state != SNDRV_PCM_STATE_RUNNING && s.state != SNDRV_PCM_STATE_XRUN {
		state := s.state
		s.mu.Unlock()

		return fmt.Errorf("stop in state %s: %w", state, ErrBadState)
	}

	s.flagStart = false
	s.flagFirst = false
	s.gen++
	hw, chans, enabled := s.hw, s.chans, s.hwEnabled
	s.hw = nil
	s.chans = nil
	s.hwEnabled = false
	s.topo = TopologyNone
	s.appl = 0
	s.state = SNDRV_PCM_STATE_SETUP
	s.notify()
	s.mu.Unlock()

	if enabled {
		c.disablePath(hw)
	}

	c.dma.releaseSet(chans)
	c.endStream(s.dir)

	c.log.Debug("substream stopped", zap.Stringer("direction", s.dir))

	return nil
}

// Pointer returns the hardware position in frames inside the ring buffer.
func (s *Substream) Pointer() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.PeriodCount == 0 {
		return 0
	}

	return s.config.PeriodSize * uint32(s.tranPeriod%uint64(s.config.PeriodCount))
}

// Close stops the substream if needed and ends its worker.
func (s *Substream) Close() error {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == SNDRV_PCM_STATE_DISCONNECTED {
		return nil
	}

	var err error
	if state == SNDRV_PCM_STATE_RUNNING || state == SNDRV_PCM_STATE_XRUN {
		err = s.stop()
	}

	s.mu.Lock()
	s.state = SNDRV_PCM_STATE_DISCONNECTED
	s.gen++
	s.notify()
	s.mu.Unlock()

	close(s.quit)
	<-s.done

	s.ctx.detach(s)

	return err
}

// Flush waits until every work item queued before the call has run.
func (s *Substream) Flush() {
	ack := make(chan struct{})

	select {
	case s.flush <- ack:
		<-ack
	case <-s.done:
	}
}

// queue schedules a work item. Requests made while one is pending coalesce.
func (s *Substream) queue() {
	select {
	case s.work <- struct{}{}:
	default:
	}
}

func (s *Substream) worker() {
	defer close(s.done)

	for {
		select {
		case <-s.work:
			s.run()
		case ack := <-s.flush:
			select {
			case <-s.work:
				s.run()
			default:
			}
			close(ack)
		case <-s.quit:
			return
		}
	}
}

// notify wakes every Wait in progress. Called with mu held.
func (s *Substream) notify() {
	close(s.wake)
	s.wake = make(chan struct{})
}

func (s *Substream) streaming() bool {
	return s.flagStart && s.state == SNDRV_PCM_STATE_RUNNING
}

// run is one work item: enable the hardware on the first run after a start, then keep dmaPrimeDepth
// period transfers in flight on the memory-facing channel.
func (s *Substream) run() {
	c := s.ctx

	s.mu.Lock()
	if !s.streaming() {
		s.mu.Unlock()

		return
	}

	if s.flagFirst {
		s.flagFirst = false

		if err := c.enablePath(s.hw, s); err != nil {
			s.mu.Unlock()
			c.log.Error("enable failed", zap.Stringer("direction", s.dir), zap.Error(err))
			s.forceXrun("enable")

			return
		}
		s.hwEnabled = true

		if err := s.startLinks(); err != nil {
			s.mu.Unlock()
			c.log.Error("peripheral link failed", zap.Stringer("direction", s.dir), zap.Error(err))
			s.forceXrun("dma")

			return
		}
	}

	for s.period-s.tranPeriod < dmaPrimeDepth {
		if err := s.issue(); err != nil {
			s.mu.Unlock()
			c.log.Error("transfer failed", zap.Stringer("direction", s.dir), zap.Uint64("period", s.Period()), zap.Error(err))
			s.forceXrun("dma")

			return
		}
	}
	s.mu.Unlock()
}

func (s *Substream) transferDirection() TransferDirection {
	if s.dir == Playback {
		return MemToDev
	}

	return DevToMem
}

// startLinks starts the peripheral-to-peripheral channels, which run for the whole session.
func (s *Substream) startLinks() error {
	size := PcmFramesToBytes(s.config.PeriodSize*s.config.PeriodCount, s.config.Channels, s.config.Format)

	for _, h := range s.chans.links() {
		desc, err := h.ch.Prepare(0, size, DevToDev)
		if err != nil {
			return fmt.Errorf("prepare link slave %#x: %w", uint32(h.Slave), err)
		}

		if _, err := desc.Submit(); err != nil {
			return fmt.Errorf("submit link slave %#x: %w", uint32(h.Slave), err)
		}

		h.ch.IssuePending()
	}

	return nil
}

// issue submits the transfer of the next period. Called with mu held.
func (s *Substream) issue() error {
	lead := s.chans.lead()
	if lead == nil {
		return fmt.Errorf("no DMA channel: %w", ErrBadState)
	}

	size := PcmFramesToBytes(s.config.PeriodSize, s.config.Channels, s.config.Format)
	slot := s.period % uint64(s.config.PeriodCount)
	addr := s.buf.PhysAddr() + slot*uint64(size)

	desc, err := lead.ch.Prepare(addr, size, s.transferDirection())
	if err != nil {
		return fmt.Errorf("prepare slot %d: %w", slot, err)
	}

	gen := s.gen
	desc.SetCallback(func() { s.complete(gen) })

	if _, err := desc.Submit(); err != nil {
		return fmt.Errorf("submit slot %d: %w", slot, err)
	}

	lead.ch.IssuePending()
	s.period++

	return nil
}

// complete is the DMA completion callback of a period transfer.
func (s *Substream) complete(gen uint64) {
	c := s.ctx

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()

		return
	}

	if syncer, ok := s.buf.(CPUSyncer); ok {
		size := int(PcmFramesToBytes(s.config.PeriodSize, s.config.Channels, s.config.Format))
		slot := int(s.tranPeriod % uint64(s.config.PeriodCount))
		syncer.SyncForCPU(slot*size, size)
	}

	s.tranPeriod++
	running := s.state == SNDRV_PCM_STATE_RUNNING
	rearm := s.streaming()
	s.notify()
	s.mu.Unlock()

	if running {
		c.metrics.periods.WithLabelValues(s.dir.String()).Inc()
		c.fw.PeriodElapsed(s)
	}

	if rearm {
		s.queue()
	}
}

// forceXrun moves a running substream to XRUN. No transfer is issued afterwards until it is stopped.
func (s *Substream) forceXrun(source string) bool {
	c := s.ctx

	s.mu.Lock()
	if s.state != SNDRV_PCM_STATE_RUNNING {
		s.mu.Unlock()

		return false
	}
	s.state = SNDRV_PCM_STATE_XRUN
	s.xruns++
	s.notify()
	s.mu.Unlock()

	c.log.Warn("xrun", zap.Stringer("direction", s.dir), zap.String("source", source))
	c.metrics.xruns.WithLabelValues(s.dir.String(), source).Inc()
	c.fw.ForceXrun(s)

	return true
}
