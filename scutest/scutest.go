// Package scutest provides fakes of the collaborators of an scu.Context: a recording register window, module
// clocks, DMA controllers, interrupt lines, the audio framework and DMA buffers.
package scutest

import (
	"fmt"
	"sync"

	"github.com/gen2brain/scu"
)

// Op is one recorded register access.
type Op struct {
	Write bool
	Off   uint32
	Val   uint32
}

func (o Op) String() string {
	if o.Write {
		return fmt.Sprintf("W %#06x <- %#08x", o.Off, o.Val)
	}

	return fmt.Sprintf("R %#06x -> %#08x", o.Off, o.Val)
}

// Mem is a register file that records every write.
//
// Registers read back what was last written, ORed with any sticky bits. Registers marked write-one-to-clear
// clear the written bits instead of storing the value.
type Mem struct {
	mu     sync.Mutex
	regs   map[uint32]uint32
	sticky map[uint32]uint32
	w1c    map[uint32]bool
	ops    []Op
}

// NewMem returns an empty register file.
func NewMem() *Mem {
	return &Mem{
		regs:   make(map[uint32]uint32),
		sticky: make(map[uint32]uint32),
		w1c:    make(map[uint32]bool),
	}
}

// NewBoardMem returns a register file for board whose SSIs always report data-empty and idle, so teardown polls
// succeed at once, and whose SRC status registers clear on write-one.
func NewBoardMem(board *scu.Board) *Mem {
	m := NewMem()

	for _, r := range board.Routes.Resources {
		if r.Kind != scu.ResourceSSI {
			continue
		}

		if ch, err := r.Channel.Get(); err == nil {
			m.Stick(scu.SSIRegister(ch, scu.SSISR), scu.SSISR_DIRQ|scu.SSISR_IIRQ)
		}
	}

	m.SetW1C(scu.SCU_SYS_STATUS0)
	m.SetW1C(scu.SCU_SYS_STATUS1)

	return m
}

// Read32 implements scu.Mem.
func (m *Mem) Read32(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.regs[off] | m.sticky[off]
}

// Write32 implements scu.Mem.
func (m *Mem) Write32(off uint32, v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = append(m.ops, Op{Write: true, Off: off, Val: v})

	if m.w1c[off] {
		m.regs[off] &^= v

		return
	}

	m.regs[off] = v
}

// Stick makes bits read as set in off regardless of writes, like a status flag the hardware keeps raised.
func (m *Mem) Stick(off, bits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sticky[off] |= bits
}

// Unstick removes sticky bits.
func (m *Mem) Unstick(off, bits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sticky[off] &^= bits
}

// Raise sets bits in off without recording a write, as the hardware would.
func (m *Mem) Raise(off, bits uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.regs[off] |= bits
}

// SetW1C marks off as write-one-to-clear.
func (m *Mem) SetW1C(off uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.w1c[off] = true
}

// Get returns the stored value of off, without sticky bits.
func (m *Mem) Get(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.regs[off]
}

// Writes returns every recorded write, optionally limited to the given offsets.
func (m *Mem) Writes(offs ...uint32) []Op {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(offs) == 0 {
		return append([]Op(nil), m.ops...)
	}

	want := make(map[uint32]bool, len(offs))
	for _, off := range offs {
		want[off] = true
	}

	var ops []Op
	for _, op := range m.ops {
		if want[op.Off] {
			ops = append(ops, op)
		}
	}

	return ops
}

// LastWrite returns the last value written to off.
func (m *Mem) LastWrite(off uint32) (uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.ops) - 1; i >= 0; i-- {
		if m.ops[i].Off == off {
			return m.ops[i].Val, true
		}
	}

	return 0, false
}

// Reset forgets the recorded writes and keeps the register contents.
func (m *Mem) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ops = nil
}

// Clock records clock gating and counts enables of clocks that are already running.
type Clock struct {
	mu      sync.Mutex
	on      map[scu.ClockID]bool
	fail    map[scu.ClockID]error
	events  []string
	doubles int
	stray   int
}

// NewClock returns a clock controller with every clock off.
func NewClock() *Clock {
	return &Clock{on: make(map[scu.ClockID]bool), fail: make(map[scu.ClockID]error)}
}

// Enable implements scu.Clock.
func (c *Clock) Enable(id scu.ClockID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fail[id]; err != nil {
		return err
	}

	if c.on[id] {
		c.doubles++
	}

	c.on[id] = true
	c.events = append(c.events, "+"+id.String())

	return nil
}

// Disable implements scu.Clock.
func (c *Clock) Disable(id scu.ClockID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.on[id] {
		c.stray++
	}

	delete(c.on, id)
	c.events = append(c.events, "-"+id.String())
}

// Fail makes Enable of id return err. A nil err clears the failure.
func (c *Clock) Fail(id scu.ClockID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err == nil {
		delete(c.fail, id)

		return
	}

	c.fail[id] = err
}

// Enabled reports whether id is running.
func (c *Clock) Enabled(id scu.ClockID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.on[id]
}

// Running returns the number of running clocks.
func (c *Clock) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.on)
}

// Events returns the gating history as "+name" and "-name" entries.
func (c *Clock) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.events...)
}

// DoubleEnables returns how often a running clock was enabled again.
func (c *Clock) DoubleEnables() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.doubles
}

// StrayDisables returns how often a stopped clock was disabled.
func (c *Clock) StrayDisables() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.stray
}

// IRQ records interrupt handlers so tests can fire them.
type IRQ struct {
	mu       sync.Mutex
	handlers map[string]func() bool
	fail     map[string]error
}

// NewIRQ returns an interrupt controller without handlers.
func NewIRQ() *IRQ {
	return &IRQ{handlers: make(map[string]func() bool), fail: make(map[string]error)}
}

// Request implements scu.IRQ.
func (q *IRQ) Request(name string, handler func() bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.fail[name]; err != nil {
		return err
	}

	if _, ok := q.handlers[name]; ok {
		return fmt.Errorf("irq %s already requested", name)
	}

	q.handlers[name] = handler

	return nil
}

// Free implements scu.IRQ.
func (q *IRQ) Free(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.handlers, name)
}

// Fail makes Request of name return err.
func (q *IRQ) Fail(name string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.fail[name] = err
}

// Requested reports whether a handler is registered for name.
func (q *IRQ) Requested(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.handlers[name]

	return ok
}

// Fire runs the handler of name and returns its result, or false if none is registered.
func (q *IRQ) Fire(name string) bool {
	q.mu.Lock()
	h := q.handlers[name]
	q.mu.Unlock()

	if h == nil {
		return false
	}

	return h()
}

// Framework counts notifications per substream.
type Framework struct {
	mu      sync.Mutex
	periods map[*scu.Substream]int
	xruns   map[*scu.Substream]int

	// OnPeriod, if set, is called after each PeriodElapsed is recorded.
	OnPeriod func(s *scu.Substream)
}

// NewFramework returns an empty recorder.
func NewFramework() *Framework {
	return &Framework{periods: make(map[*scu.Substream]int), xruns: make(map[*scu.Substream]int)}
}

// PeriodElapsed implements scu.Framework.
func (f *Framework) PeriodElapsed(s *scu.Substream) {
	f.mu.Lock()
	f.periods[s]++
	hook := f.OnPeriod
	f.mu.Unlock()

	if hook != nil {
		hook(s)
	}
}

// ForceXrun implements scu.Framework.
func (f *Framework) ForceXrun(s *scu.Substream) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.xruns[s]++
}

// Periods returns the number of PeriodElapsed notifications for s.
func (f *Framework) Periods(s *scu.Substream) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.periods[s]
}

// Xruns returns the number of ForceXrun notifications for s.
func (f *Framework) Xruns(s *scu.Substream) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.xruns[s]
}

// Buffer is a DMA buffer backed by ordinary memory at a made-up bus address.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	phys  uint64
	syncs [][2]int
}

// NewBuffer returns a zeroed buffer of size bytes at bus address phys.
func NewBuffer(size int, phys uint64) *Buffer {
	return &Buffer{data: make([]byte, size), phys: phys}
}

// Bytes implements scu.Buffer.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// PhysAddr implements scu.Buffer.
func (b *Buffer) PhysAddr() uint64 {
	return b.phys
}

// SyncForCPU implements scu.CPUSyncer.
func (b *Buffer) SyncForCPU(off, size int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.syncs = append(b.syncs, [2]int{off, size})
}

// Syncs returns the offset and size of every CPU sync.
func (b *Buffer) Syncs() [][2]int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([][2]int(nil), b.syncs...)
}

// Region returns the bytes at bus address addr, or nil if it lies outside the buffer.
func (b *Buffer) Region(addr uint64, size uint32) []byte {
	if addr < b.phys || addr+uint64(size) > b.phys+uint64(len(b.data)) {
		return nil
	}

	off := addr - b.phys

	return b.data[off : off+uint64(size)]
}
