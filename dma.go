package scu

import (
	"errors"
	"fmt"
	"sync"
)

// SlaveID is the request line number a DMA channel is bound to.
type SlaveID uint32

// DeviceClass selects the DMA controller family a channel is requested from.
type DeviceClass int

const (
	// DeviceClassAudioDMAC moves data between memory and a peripheral.
	DeviceClassAudioDMAC DeviceClass = iota
	// DeviceClassAudioDMACPP moves data between two peripherals.
	DeviceClassAudioDMACPP
)

func (c DeviceClass) String() string {
	switch c {
	case DeviceClassAudioDMAC:
		return "audio-dmac"
	case DeviceClassAudioDMACPP:
		return "audio-dmac-pp"
	}

	return fmt.Sprintf("DeviceClass(%d)", int(c))
}

// TransferDirection is the direction of one DMA transfer.
type TransferDirection int

const (
	MemToDev TransferDirection = iota
	DevToMem
	DevToDev
)

// Cookie identifies a submitted descriptor.
type Cookie int32

// DMAController hands out DMA channels by slave id.
type DMAController interface {
	// RequestChannel returns a channel bound to slave, or an error if none is free.
	RequestChannel(slave SlaveID, class DeviceClass) (DMAChannel, error)
}

// DMAChannel is a channel acquired from a DMAController.
type DMAChannel interface {
	// Prepare builds a single transfer of size bytes at the bus address addr.
	Prepare(addr uint64, size uint32, dir TransferDirection) (DMADescriptor, error)
	// IssuePending starts every submitted descriptor.
	IssuePending()
	// Release returns the channel to its controller. Submitted transfers may still complete afterwards.
	Release()
}

// DMADescriptor is a prepared transfer.
type DMADescriptor interface {
	// SetCallback sets the function run when the transfer completes. It must not be called from Submit.
	SetCallback(fn func())
	Submit() (Cookie, error)
}

// DMAHandle is a channel held by a substream.
type DMAHandle struct {
	Slave SlaveID
	Class DeviceClass

	ch DMAChannel
}

// Channel returns the underlying DMA channel.
func (h *DMAHandle) Channel() DMAChannel {
	if h == nil {
		return nil
	}

	return h.ch
}

// DMABroker grants exclusive use of DMA channels by slave id.
type DMABroker struct {
	mu   sync.Mutex
	ctrl DMAController
	held map[SlaveID]*DMAHandle
}

// NewDMABroker returns a broker over ctrl.
func NewDMABroker(ctrl DMAController) *DMABroker {
	return &DMABroker{ctrl: ctrl, held: make(map[SlaveID]*DMAHandle)}
}

// Acquire requests a channel for slave. It returns ErrBusy if the slave is already held or the controller has
// no channel for it.
func (b *DMABroker) Acquire(slave SlaveID, class DeviceClass) (*DMAHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.held[slave]; ok {
		return nil, fmt.Errorf("dma slave %#x held: %w", uint32(slave), ErrBusy)
	}

	ch, err := b.ctrl.RequestChannel(slave, class)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			return nil, fmt.Errorf("request %s channel for slave %#x: %w", class, uint32(slave), err)
		}

		return nil, fmt.Errorf("request %s channel for slave %#x: %w: %w", class, uint32(slave), ErrBusy, err)
	}

	if ch == nil {
		return nil, fmt.Errorf("no %s channel for slave %#x: %w", class, uint32(slave), ErrBusy)
	}

	h := &DMAHandle{Slave: slave, Class: class, ch: ch}
	b.held[slave] = h

	return h, nil
}

// Release returns a held channel. Releasing a handle twice is a no-op.
func (b *DMABroker) Release(h *DMAHandle) {
	if h == nil {
		return
	}

	b.mu.Lock()
	cur, ok := b.held[h.Slave]
	if ok && cur == h {
		delete(b.held, h.Slave)
	}
	b.mu.Unlock()

	if ok && cur == h {
		h.ch.Release()
	}
}

// Held reports whether slave is currently held.
func (b *DMABroker) Held(slave SlaveID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.held[slave]

	return ok
}

// channelRequest names one channel of a route.
type channelRequest struct {
	slave SlaveID
	class DeviceClass
}

// DMAChannelSet is the set of channels a substream holds while streaming, keyed by slave id.
type DMAChannelSet struct {
	order []SlaveID
	byID  map[SlaveID]*DMAHandle
}

// acquireSet takes every requested channel or none.
func (b *DMABroker) acquireSet(reqs []channelRequest) (*DMAChannelSet, error) {
	set := &DMAChannelSet{byID: make(map[SlaveID]*DMAHandle, len(reqs))}

	for _, r := range reqs {
		h, err := b.Acquire(r.slave, r.class)
		if err != nil {
			b.releaseSet(set)

			return nil, err
		}

		set.order = append(set.order, r.slave)
		set.byID[r.slave] = h
	}

	return set, nil
}

func (b *DMABroker) releaseSet(set *DMAChannelSet) {
	if set == nil {
		return
	}

	for i := len(set.order) - 1; i >= 0; i-- {
		b.Release(set.byID[set.order[i]])
	}

	set.order = nil
	set.byID = nil
}

// Len returns the number of channels in the set.
func (s *DMAChannelSet) Len() int {
	if s == nil {
		return 0
	}

	return len(s.order)
}

// Get returns the handle for slave.
func (s *DMAChannelSet) Get(slave SlaveID) (*DMAHandle, bool) {
	if s == nil {
		return nil, false
	}

	h, ok := s.byID[slave]

	return h, ok
}

// Slaves returns the slave ids in acquisition order.
func (s *DMAChannelSet) Slaves() []SlaveID {
	if s == nil {
		return nil
	}

	return append([]SlaveID(nil), s.order...)
}

// lead returns the memory-facing channel, which carries the period transfers. The stages behind it only link
// peripherals, so this channel rather than the one next to the SSI is the one whose completions count periods.
func (s *DMAChannelSet) lead() *DMAHandle {
	if s.Len() == 0 {
		return nil
	}

	return s.byID[s.order[0]]
}

// links returns the peripheral-to-peripheral channels.
func (s *DMAChannelSet) links() []*DMAHandle {
	if s.Len() < 2 {
		return nil
	}

	var hs []*DMAHandle
	for _, slave := range s.order[1:] {
		hs = append(hs, s.byID[slave])
	}

	return hs
}
