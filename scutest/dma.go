package scutest

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/scu"
)

// Transfer is a submitted descriptor.
type Transfer struct {
	Slave  scu.SlaveID
	Class  scu.DeviceClass
	Addr   uint64
	Size   uint32
	Dir    scu.TransferDirection
	Cookie scu.Cookie

	cb func()
}

// Request is a recorded channel request.
type Request struct {
	Slave scu.SlaveID
	Class scu.DeviceClass
}

// DMA is a controller whose memory transfers complete only when the test calls Complete.
// Peripheral-to-peripheral transfers never complete.
type DMA struct {
	mu        sync.Mutex
	refuse    map[scu.SlaveID]bool
	requests  []Request
	released  []scu.SlaveID
	transfers []Transfer
	queue     []*Transfer
	cookie    scu.Cookie
	prepFail  error
}

// NewDMA returns a controller with a channel for every slave.
func NewDMA() *DMA {
	return &DMA{refuse: make(map[scu.SlaveID]bool)}
}

// Refuse makes channel requests for slave fail.
func (d *DMA) Refuse(slave scu.SlaveID, refuse bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refuse[slave] = refuse
}

// FailPrepare makes every Prepare return err until cleared with nil.
func (d *DMA) FailPrepare(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.prepFail = err
}

// RequestChannel implements scu.DMAController.
func (d *DMA) RequestChannel(slave scu.SlaveID, class scu.DeviceClass) (scu.DMAChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.requests = append(d.requests, Request{Slave: slave, Class: class})

	if d.refuse[slave] {
		return nil, fmt.Errorf("no channel for slave %#x", uint32(slave))
	}

	return &channel{dma: d, slave: slave, class: class}, nil
}

// Requests returns every channel request in order.
func (d *DMA) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Request(nil), d.requests...)
}

// Released returns the slaves of released channels in order.
func (d *DMA) Released() []scu.SlaveID {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]scu.SlaveID(nil), d.released...)
}

// Transfers returns every issued transfer in order.
func (d *DMA) Transfers() []Transfer {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Transfer(nil), d.transfers...)
}

// InFlight returns the number of issued memory transfers that have not completed.
func (d *DMA) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.queue)
}

// Complete finishes the oldest memory transfer and runs its callback in the calling goroutine.
// It returns false if none is in flight.
func (d *DMA) Complete() bool {
	d.mu.Lock()
	if len(d.queue) == 0 {
		d.mu.Unlock()

		return false
	}

	t := d.queue[0]
	d.queue = d.queue[1:]
	d.mu.Unlock()

	if t.cb != nil {
		t.cb()
	}

	return true
}

// CompleteAll finishes every memory transfer in flight and returns how many completed.
func (d *DMA) CompleteAll() int {
	n := 0
	for d.Complete() {
		n++
	}

	return n
}

type channel struct {
	dma     *DMA
	slave   scu.SlaveID
	class   scu.DeviceClass
	pending []*Transfer
}

func (c *channel) Prepare(addr uint64, size uint32, dir scu.TransferDirection) (scu.DMADescriptor, error) {
	c.dma.mu.Lock()
	defer c.dma.mu.Unlock()

	if c.dma.prepFail != nil {
		return nil, c.dma.prepFail
	}

	return &descriptor{ch: c, t: &Transfer{Slave: c.slave, Class: c.class, Addr: addr, Size: size, Dir: dir}}, nil
}

func (c *channel) IssuePending() {
	c.dma.mu.Lock()
	defer c.dma.mu.Unlock()

	for _, t := range c.pending {
		c.dma.transfers = append(c.dma.transfers, *t)
		if t.Dir != scu.DevToDev {
			c.dma.queue = append(c.dma.queue, t)
		}
	}
	c.pending = nil
}

func (c *channel) Release() {
	c.dma.mu.Lock()
	defer c.dma.mu.Unlock()

	c.dma.released = append(c.dma.released, c.slave)
	c.pending = nil
}

type descriptor struct {
	ch *channel
	t  *Transfer
}

func (d *descriptor) SetCallback(fn func()) {
	d.t.cb = fn
}

func (d *descriptor) Submit() (scu.Cookie, error) {
	d.ch.dma.mu.Lock()
	defer d.ch.dma.mu.Unlock()

	d.ch.dma.cookie++
	d.t.Cookie = d.ch.dma.cookie
	d.ch.pending = append(d.ch.pending, d.t)

	return d.t.Cookie, nil
}

// TimedDMA is a controller that completes each memory transfer one interval after the previous one, moving data
// between attached buffers and the Sink and Source functions.
type TimedDMA struct {
	interval time.Duration

	// Sink receives the bytes of every memory-to-device transfer.
	Sink func(slave scu.SlaveID, data []byte)
	// Source fills the bytes of every device-to-memory transfer.
	Source func(slave scu.SlaveID, data []byte)

	mu      sync.Mutex
	buffers []*Buffer
	queue   chan *Transfer
	quit    chan struct{}
	done    chan struct{}
	cookie  scu.Cookie
}

// NewTimedDMA starts a controller completing one transfer per interval. Close stops it.
func NewTimedDMA(interval time.Duration) *TimedDMA {
	d := &TimedDMA{
		interval: interval,
		queue:    make(chan *Transfer, 256),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go d.loop()

	return d
}

// Attach makes buf reachable by transfers.
func (d *TimedDMA) Attach(buf *Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.buffers = append(d.buffers, buf)
}

// Close stops the controller. Transfers still queued never complete.
func (d *TimedDMA) Close() {
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	<-d.done
}

// RequestChannel implements scu.DMAController.
func (d *TimedDMA) RequestChannel(slave scu.SlaveID, class scu.DeviceClass) (scu.DMAChannel, error) {
	return &timedChannel{dma: d, slave: slave, class: class}, nil
}

func (d *TimedDMA) region(addr uint64, size uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, b := range d.buffers {
		if r := b.Region(addr, size); r != nil {
			return r
		}
	}

	return nil
}

func (d *TimedDMA) loop() {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		var t *Transfer

		select {
		case t = <-d.queue:
		case <-d.quit:
			return
		}

		select {
		case <-ticker.C:
		case <-d.quit:
			return
		}

		if data := d.region(t.Addr, t.Size); data != nil {
			switch t.Dir {
			case scu.MemToDev:
				if d.Sink != nil {
					d.Sink(t.Slave, data)
				}
			case scu.DevToMem:
				if d.Source != nil {
					d.Source(t.Slave, data)
				}
			}
		}

		if t.cb != nil {
			t.cb()
		}
	}
}

type timedChannel struct {
	dma     *TimedDMA
	slave   scu.SlaveID
	class   scu.DeviceClass
	mu      sync.Mutex
	pending []*Transfer
}

func (c *timedChannel) Prepare(addr uint64, size uint32, dir scu.TransferDirection) (scu.DMADescriptor, error) {
	return &timedDescriptor{ch: c, t: &Transfer{Slave: c.slave, Class: c.class, Addr: addr, Size: size, Dir: dir}}, nil
}

func (c *timedChannel) IssuePending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, t := range pending {
		if t.Dir == scu.DevToDev {
			continue
		}

		select {
		case c.dma.queue <- t:
		case <-c.dma.quit:
			return
		}
	}
}

func (c *timedChannel) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
}

type timedDescriptor struct {
	ch *timedChannel
	t  *Transfer
}

func (d *timedDescriptor) SetCallback(fn func()) {
	d.t.cb = fn
}

func (d *timedDescriptor) Submit() (scu.Cookie, error) {
	d.ch.dma.mu.Lock()
	d.ch.dma.cookie++
	d.t.Cookie = d.ch.dma.cookie
	d.ch.dma.mu.Unlock()

	d.ch.mu.Lock()
	d.ch.pending = append(d.ch.pending, d.t)
	d.ch.mu.Unlock()

	return d.t.Cookie, nil
}
