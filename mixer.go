package scu

import (
	"fmt"
	"sort"
)

// MixerCtl represents an individual mixer control.
type MixerCtl struct {
	mixer *Mixer
	id    uint32
	name  string
	typ   MixerCtlType
	count uint32
	min   int
	max   int
	get   func(i uint32) (int, error)
	set   func(i uint32, v int) (bool, error)
}

// Mixer holds the routing, volume and mute controls of a Context.
type Mixer struct {
	Ctls     []*MixerCtl
	ctlMap   map[string][]*MixerCtl // Maps a name to one or more controls
	ctlIdMap map[uint32]*MixerCtl   // Maps a numid to its control for O(1) access
}

func newMixer(c *Context) *Mixer {
	m := &Mixer{
		ctlMap:   make(map[string][]*MixerCtl),
		ctlIdMap: make(map[uint32]*MixerCtl),
	}

	for _, dir := range Directions {
		for _, topo := range Topologies {
			dir, topo := dir, topo
			m.add(&MixerCtl{
				name:  fmt.Sprintf("%s Route %s", dir, topo),
				typ:   SNDRV_CTL_ELEM_TYPE_BOOLEAN,
				count: 1,
				max:   1,
				get: func(uint32) (int, error) {
					return boolToInt(c.Route(dir, topo)), nil
				},
				set: func(_ uint32, v int) (bool, error) {
					return c.SetRoute(dir, topo, v != 0)
				},
			})
		}
	}

	var dvcs []int
	for id := range c.volume {
		dvcs = append(dvcs, id)
	}
	sort.Ints(dvcs)

	for _, id := range dvcs {
		id := id
		m.add(&MixerCtl{
			name:  fmt.Sprintf("DVC%d Volume", id),
			typ:   SNDRV_CTL_ELEM_TYPE_INTEGER,
			count: 2,
			max:   VolumeMax,
			get: func(i uint32) (int, error) {
				v, err := c.Volume(id, int(i))

				return int(v), err
			},
			set: func(i uint32, v int) (bool, error) {
				if v < 0 || v > VolumeMax {
					return false, fmt.Errorf("volume %d: %w", v, ErrInvalidValue)
				}

				return c.SetVolume(id, int(i), uint32(v))
			},
		})
	}

	if len(dvcs) > 0 {
		m.add(&MixerCtl{
			name:  "DVC Mute",
			typ:   SNDRV_CTL_ELEM_TYPE_BOOLEAN,
			count: 2,
			max:   1,
			get: func(i uint32) (int, error) {
				return boolToInt(c.Muted(int(i))), nil
			},
			set: func(i uint32, v int) (bool, error) {
				return c.SetMute(int(i), v != 0)
			},
		})
	}

	return m
}

func (m *Mixer) add(ctl *MixerCtl) {
	ctl.mixer = m
	ctl.id = uint32(len(m.Ctls) + 1)

	m.Ctls = append(m.Ctls, ctl)
	m.ctlMap[ctl.name] = append(m.ctlMap[ctl.name], ctl)
	m.ctlIdMap[ctl.id] = ctl
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}

// NumCtls returns the total number of controls.
func (m *Mixer) NumCtls() int {
	if m == nil {
		return 0
	}

	return len(m.Ctls)
}

// NumCtlsByName returns the number of controls that match the given name.
func (m *Mixer) NumCtlsByName(name string) int {
	if m == nil {
		return 0
	}

	return len(m.ctlMap[name])
}

// Ctl returns a mixer control by its numeric ID.
func (m *Mixer) Ctl(id uint32) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	ctl, ok := m.ctlIdMap[id]
	if !ok {
		return nil, fmt.Errorf("control with id %d not found", id)
	}

	return ctl, nil
}

// CtlByIndex returns a mixer control by its 0-based index in the enumerated list.
// The index is valid from 0 to NumCtls() - 1.
func (m *Mixer) CtlByIndex(index uint) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	if index >= uint(m.NumCtls()) {
		return nil, fmt.Errorf("index %d is out of bounds (number of controls: %d)", index, m.NumCtls())
	}

	return m.Ctls[index], nil
}

// CtlByName returns the first mixer control found with the given name.
func (m *Mixer) CtlByName(name string) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	return m.CtlByNameAndIndex(name, 0)
}

// CtlByNameAndIndex returns a specific mixer control handle by name and index.
func (m *Mixer) CtlByNameAndIndex(name string, index uint) (*MixerCtl, error) {
	if m == nil {
		return nil, fmt.Errorf("mixer is nil")
	}

	ctls, ok := m.ctlMap[name]
	if !ok {
		return nil, fmt.Errorf("control not found: %s", name)
	}

	if index >= uint(len(ctls)) {
		return nil, fmt.Errorf("index %d out of bounds for control %s", index, name)
	}

	return ctls[index], nil
}

// ID returns the numeric ID of the control.
func (ctl *MixerCtl) ID() uint32 {
	if ctl == nil {
		return ^uint32(0)
	}

	return ctl.id
}

// Name returns the name of the control.
func (ctl *MixerCtl) Name() string {
	if ctl == nil {
		return ""
	}

	return ctl.name
}

// Type returns the value type of the control.
func (ctl *MixerCtl) Type() MixerCtlType {
	if ctl == nil {
		return SNDRV_CTL_ELEM_TYPE_UNKNOWN
	}

	return ctl.typ
}

// TypeString returns the value type of the control as a string.
func (ctl *MixerCtl) TypeString() string {
	switch ctl.Type() {
	case SNDRV_CTL_ELEM_TYPE_BOOLEAN:
		return "BOOL"
	case SNDRV_CTL_ELEM_TYPE_INTEGER:
		return "INT"
	case SNDRV_CTL_ELEM_TYPE_NONE:
		return "NONE"
	}

	return "UNKNOWN"
}

// NumValues returns the number of values the control holds.
func (ctl *MixerCtl) NumValues() uint32 {
	if ctl == nil {
		return 0
	}

	return ctl.count
}

// Range returns the minimum and maximum value of the control.
func (ctl *MixerCtl) Range() (int, int, error) {
	if ctl == nil {
		return 0, 0, fmt.Errorf("control is nil")
	}

	return ctl.min, ctl.max, nil
}

// Value returns the value at index.
func (ctl *MixerCtl) Value(index uint32) (int, error) {
	if ctl == nil {
		return 0, fmt.Errorf("control is nil")
	}

	if index >= ctl.count {
		return 0, fmt.Errorf("index %d out of bounds for control %s", index, ctl.name)
	}

	return ctl.get(index)
}

// SetValue sets the value at index. It reports whether the value changed.
func (ctl *MixerCtl) SetValue(index uint32, value int) (bool, error) {
	if ctl == nil {
		return false, fmt.Errorf("control is nil")
	}

	if index >= ctl.count {
		return false, fmt.Errorf("index %d out of bounds for control %s", index, ctl.name)
	}

	changed, err := ctl.set(index, value)
	if err != nil {
		return false, fmt.Errorf("set %s[%d]: %w", ctl.name, index, err)
	}

	return changed, nil
}

// String returns a human-readable representation of the control and its values.
func (ctl *MixerCtl) String() string {
	if ctl == nil {
		return "<nil>"
	}

	s := fmt.Sprintf("%-4d %-5s %-3d %-24s", ctl.id, ctl.TypeString(), ctl.count, ctl.name)
	for i := uint32(0); i < ctl.count; i++ {
		v, err := ctl.get(i)
		if err != nil {
			s += " ?"

			continue
		}
		s += fmt.Sprintf(" %d", v)
	}

	return s + fmt.Sprintf(" (range %d->%d)", ctl.min, ctl.max)
}
