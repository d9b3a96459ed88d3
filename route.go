package scu

import (
	"fmt"
	"strings"
)

// ResourceKind names a processing block of the sound unit.
type ResourceKind int

const (
	ResourceSSI ResourceKind = iota
	ResourceSRC
	ResourceDVC
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceSSI:
		return "SSI"
	case ResourceSRC:
		return "SRC"
	case ResourceDVC:
		return "DVC"
	}

	return fmt.Sprintf("ResourceKind(%d)", int(k))
}

type fieldState uint8

const (
	fieldAbsent fieldState = iota
	fieldValue
	fieldNotApplicable
)

// Field is a resource parameter that is either present with a value, present but not applicable to the
// resource, or absent. The zero Field is absent.
type Field struct {
	value uint32
	state fieldState
}

// NotApplicable marks a field that exists but has no meaning for the resource.
var NotApplicable = Field{state: fieldNotApplicable}

// Value returns a present field holding v.
func Value(v uint32) Field {
	return Field{value: v, state: fieldValue}
}

// Get returns the field's value, ErrNotApplicable or ErrNotFound.
func (f Field) Get() (uint32, error) {
	switch f.state {
	case fieldValue:
		return f.value, nil
	case fieldNotApplicable:
		return 0, ErrNotApplicable
	}

	return 0, ErrNotFound
}

// Applicable reports whether the field holds a value.
func (f Field) Applicable() bool {
	return f.state == fieldValue
}

func (f Field) String() string {
	switch f.state {
	case fieldValue:
		return fmt.Sprintf("%#x", f.value)
	case fieldNotApplicable:
		return "n/a"
	}

	return "-"
}

// Resource holds the hardware parameters of one SSI, SRC or DVC channel.
type Resource struct {
	Kind    ResourceKind
	ID      int
	Channel Field // channel-select bit
	Offset  Field // control register block offset
	Slave   Field // memory-facing DMA slave id
	PPSlave Field // peripheral-to-peripheral DMA slave id
}

func (r Resource) String() string {
	return fmt.Sprintf("%s%d: channel=%s offset=%s slave=%s pp-slave=%s", r.Kind, r.ID, r.Channel, r.Offset, r.Slave, r.PPSlave)
}

// RouteTable lists the topologies a board permits per direction and the hardware parameters of its resources.
// It is read-only once a Context has been probed.
type RouteTable struct {
	Playback  []Topology
	Capture   []Topology
	Resources []Resource
}

// Legal returns the permitted topologies for a direction.
func (rt *RouteTable) Legal(dir Direction) []Topology {
	if rt == nil {
		return nil
	}

	switch dir {
	case Playback:
		return rt.Playback
	case Capture:
		return rt.Capture
	}

	return nil
}

// ValidateRoute reports whether topo is a legal topology for dir.
// Anything unknown, including TopologyNone, is rejected.
func (rt *RouteTable) ValidateRoute(dir Direction, topo Topology) bool {
	for _, t := range rt.Legal(dir) {
		if t == topo && topo != TopologyNone {
			return true
		}
	}

	return false
}

// Lookup returns the resource with the given kind and logical id.
func (rt *RouteTable) Lookup(kind ResourceKind, id int) (Resource, error) {
	if rt == nil {
		return Resource{}, fmt.Errorf("route table is nil: %w", ErrNotFound)
	}

	for _, r := range rt.Resources {
		if r.Kind == kind && r.ID == id {
			return r, nil
		}
	}

	return Resource{}, fmt.Errorf("%s%d: %w", kind, id, ErrNotFound)
}

// String returns a human-readable representation of the route table.
func (rt *RouteTable) String() string {
	if rt == nil {
		return "<nil>"
	}

	var b strings.Builder

	for _, dir := range Directions {
		var names []string
		for _, t := range rt.Legal(dir) {
			names = append(names, t.String())
		}

		b.WriteString(fmt.Sprintf("%12s: %s\n", dir, strings.Join(names, ", ")))
	}

	for _, r := range rt.Resources {
		b.WriteString(fmt.Sprintf("%12s  %s\n", "", r))
	}

	return b.String()
}
