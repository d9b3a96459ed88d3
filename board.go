package scu

import (
	"fmt"
	"sort"
	"strings"
)

// SSIMode is the clocking role of an SSI channel.
type SSIMode int

const (
	// SSIMaster drives the bit and word clocks from the ADG.
	SSIMaster SSIMode = iota
	// SSISlave takes its clocks from the codec or from another SSI.
	SSISlave
)

func (m SSIMode) String() string {
	if m == SSIMaster {
		return "master"
	}

	return "slave"
}

// SyncMode selects how an SRC channel is timed.
type SyncMode int

const (
	// SRCAsync times the converter from the ADG.
	SRCAsync SyncMode = iota
	// SRCSync times the converter from the SSI word clock.
	SRCSync
)

func (m SyncMode) String() string {
	if m == SRCSync {
		return "sync"
	}

	return "async"
}

// Path names the resources a direction uses. Ids are logical and resolve through the route table.
type Path struct {
	SSI         int
	SRC         int
	DVC         int
	Mode        SSIMode
	ClockMaster int // SSI whose clocks are shared; equal to SSI when the channel is independent
	SRCMode     SyncMode
}

// Shared reports whether the SSI borrows the clocks of another SSI.
func (p Path) Shared() bool {
	return p.ClockMaster != p.SSI
}

// Board describes the sound unit wiring of one board.
type Board struct {
	Name        string
	SoC         string
	Description string
	PhysBase    int64  // physical address of the SCU register window
	CodecRate   uint32 // SSI frame rate when a converter is in the path
	AudioClock  uint32 // ADG clock for master-mode SSIs, in Hz
	Routes      RouteTable
	Default     map[Direction]Topology
	Paths       map[Direction]Path
}

// String returns a human-readable representation of the board.
func (b *Board) String() string {
	if b == nil {
		return "<nil>"
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Board %s: %s (%s)\n", b.Name, b.Description, b.SoC))
	for _, dir := range Directions {
		p := b.Paths[dir]
		sb.WriteString(fmt.Sprintf("  %s: SSI%d (%s, clock SSI%d) SRC%d (%s) DVC%d default %s\n",
			dir, p.SSI, p.Mode, p.ClockMaster, p.SRC, p.SRCMode, p.DVC, b.Default[dir]))
	}

	return sb.String()
}

func ssiResource(id int, ch, slave uint32) Resource {
	return Resource{
		Kind:    ResourceSSI,
		ID:      id,
		Channel: Value(ch),
		Offset:  Value(SSIRegister(ch, 0)),
		Slave:   Value(slave),
		PPSlave: NotApplicable,
	}
}

func srcResource(id int, ch, slave, pp uint32) Resource {
	return Resource{
		Kind:    ResourceSRC,
		ID:      id,
		Channel: Value(ch),
		Offset:  Value(SRCRegister(ch, 0)),
		Slave:   Value(slave),
		PPSlave: Value(pp),
	}
}

func dvcResource(id int, ch, slave uint32) Resource {
	return Resource{
		Kind:    ResourceDVC,
		ID:      id,
		Channel: Value(ch),
		Offset:  Value(DVCRegister(ch, 0)),
		Slave:   Value(slave),
		PPSlave: NotApplicable,
	}
}

// Lager returns the r8a7790 Lager board with an AK4643 codec on SSI0/SSI1.
func Lager() *Board {
	return &Board{
		Name:        "lager",
		SoC:         "r8a7790",
		Description: "R-Car H2 Lager",
		PhysBase:    0xec500000,
		CodecRate:   44100,
		AudioClock:  11289600,
		Routes: RouteTable{
			Playback: []Topology{TopologyDirect, TopologyViaSRC, TopologyViaSRCAndDVC},
			Capture:  []Topology{TopologyDirect, TopologyViaSRC, TopologyViaSRCAndDVC},
			Resources: []Resource{
				ssiResource(0, 0, 0x01),
				ssiResource(1, 1, 0x04),
				srcResource(2, 2, 0x89, 0x2f),
				srcResource(3, 3, 0x8c, 0x30),
				dvcResource(0, 0, 0xbc),
				dvcResource(1, 1, 0xbf),
			},
		},
		Default: map[Direction]Topology{
			Playback: TopologyViaSRC,
			Capture:  TopologyDirect,
		},
		Paths: map[Direction]Path{
			Playback: {SSI: 0, SRC: 2, DVC: 0, Mode: SSIMaster, ClockMaster: 0, SRCMode: SRCAsync},
			Capture:  {SSI: 1, SRC: 3, DVC: 1, Mode: SSISlave, ClockMaster: 0, SRCMode: SRCSync},
		},
	}
}

// Koelsch returns the r8a7791 Koelsch board. Only playback has a volume controller.
func Koelsch() *Board {
	return &Board{
		Name:        "koelsch",
		SoC:         "r8a7791",
		Description: "R-Car M2-W Koelsch",
		PhysBase:    0xec500000,
		CodecRate:   48000,
		AudioClock:  12288000,
		Routes: RouteTable{
			Playback: []Topology{TopologyDirect, TopologyViaSRC, TopologyViaSRCAndDVC},
			Capture:  []Topology{TopologyDirect, TopologyViaSRC},
			Resources: []Resource{
				ssiResource(0, 0, 0x01),
				ssiResource(1, 1, 0x04),
				srcResource(2, 2, 0x89, 0x2f),
				srcResource(3, 3, 0x8c, 0x30),
				dvcResource(0, 0, 0xbc),
			},
		},
		Default: map[Direction]Topology{
			Playback: TopologyDirect,
			Capture:  TopologyDirect,
		},
		Paths: map[Direction]Path{
			Playback: {SSI: 0, SRC: 2, DVC: 0, Mode: SSISlave, ClockMaster: 0, SRCMode: SRCSync},
			Capture:  {SSI: 1, SRC: 3, DVC: -1, Mode: SSISlave, ClockMaster: 0, SRCMode: SRCSync},
		},
	}
}

// ArmadilloEVA1500 returns the r8a7791 Armadillo-EVA1500 board. Its SSIs are independent and the codec
// only accepts converted streams.
func ArmadilloEVA1500() *Board {
	return &Board{
		Name:        "armadillo-eva1500",
		SoC:         "r8a7791",
		Description: "Armadillo-EVA1500",
		PhysBase:    0xec500000,
		CodecRate:   48000,
		AudioClock:  12288000,
		Routes: RouteTable{
			Playback: []Topology{TopologyViaSRC, TopologyViaSRCAndDVC},
			Capture:  []Topology{TopologyViaSRC},
			Resources: []Resource{
				ssiResource(0, 3, 0x0d),
				ssiResource(1, 4, 0x10),
				srcResource(0, 0, 0x85, 0x2d),
				srcResource(1, 1, 0x87, 0x2e),
				dvcResource(0, 0, 0xbc),
			},
		},
		Default: map[Direction]Topology{
			Playback: TopologyViaSRC,
			Capture:  TopologyViaSRC,
		},
		Paths: map[Direction]Path{
			Playback: {SSI: 0, SRC: 0, DVC: 0, Mode: SSIMaster, ClockMaster: 0, SRCMode: SRCAsync},
			Capture:  {SSI: 1, SRC: 1, DVC: -1, Mode: SSIMaster, ClockMaster: 1, SRCMode: SRCAsync},
		},
	}
}

// Boards returns every known board, sorted by name.
func Boards() []*Board {
	boards := []*Board{Lager(), Koelsch(), ArmadilloEVA1500()}

	sort.Slice(boards, func(i, j int) bool {
		return boards[i].Name < boards[j].Name
	})

	return boards
}

// BoardByName returns the board with the given name.
func BoardByName(name string) (*Board, error) {
	for _, b := range Boards() {
		if b.Name == name {
			return b, nil
		}
	}

	return nil, fmt.Errorf("board %q: %w", name, ErrNotFound)
}
