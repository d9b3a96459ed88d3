package scu

import "fmt"

// Mem is a 32-bit register window. Offsets are relative to the SCU base address.
type Mem interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
}

// Block bases inside the register window.
const (
	scuBase  = 0x00000
	ssiuBase = 0x40000
	ssiBase  = 0x41000
	adgBase  = 0xa0000

	// WindowSize covers every block from the SCU base up to the end of the ADG.
	WindowSize = 0xb0000
)

// SCU global registers.
const (
	SCU_SYS_STATUS0 = scuBase + 0x1c8 // synchronous SRC status, write 1 to clear
	SCU_SYS_INT_EN0 = scuBase + 0x1cc
	SCU_SYS_STATUS1 = scuBase + 0x1d0 // asynchronous SRC status, write 1 to clear
	SCU_SYS_INT_EN1 = scuBase + 0x1d4
)

// SSIU global registers.
const (
	SSI_MODE0 = ssiuBase + 0x800
	SSI_MODE1 = ssiuBase + 0x804
)

// ADG registers.
const (
	ADG_BRRA           = adgBase + 0x00
	ADG_BRRB           = adgBase + 0x04
	ADG_SSICKR         = adgBase + 0x08
	ADG_AUDIO_CLK_SEL0 = adgBase + 0x0c
	ADG_DIV_EN         = adgBase + 0x30
	ADG_TIMSEL0        = adgBase + 0x34 // one register per SRC channel
)

// Per-channel register offsets.
const (
	// SSI, relative to the channel block.
	SSICR  = 0x00
	SSISR  = 0x04
	SSITDR = 0x08
	SSIRDR = 0x0c
	SSIWSR = 0x20

	// SSIU, relative to ssiuBase + ch*0x40.
	SSIU_BUSIF_MODE   = 0x00
	SSIU_BUSIF_ADINR  = 0x04
	SSIU_BUSIF_DALIGN = 0x08
	SSIU_MODE         = 0x0c
	SSIU_CONTROL      = 0x10

	// SRC, relative to the channel block.
	SRC_SWRSR = 0x00
	SRC_SRCIR = 0x04
	SRC_ADINR = 0x10
	SRC_IFSCR = 0x18
	SRC_IFSVR = 0x1c
	SRC_SRCCR = 0x20
	SRC_MNFSR = 0x24
	SRC_BSDSR = 0x28
	SRC_BSISR = 0x2c

	// SRC bus interface, relative to scuBase + ch*0x20.
	SRC_BUSIF_MODE = 0x00
	SRC_ROUTE_MODE = 0x0c
	SRC_CTRL       = 0x10

	// DVC (CMD), relative to the channel block.
	DVC_SWRSR = 0x00
	DVC_DVUIR = 0x04
	DVC_ADINR = 0x08
	DVC_DVUCR = 0x10
	DVC_ZCMCR = 0x14
	DVC_VOL0R = 0x30
	DVC_VOL1R = 0x34
	DVC_DVUER = 0x48

	// CMD routing, relative to scuBase + 0x18c + ch*0x20.
	CMD_ROUTE_SLCT = 0x00
	CMD_CTRL       = 0x04
)

// SSICR bits.
const (
	SSICR_EN         = 1 << 0
	SSICR_TRMD       = 1 << 1
	SSICR_CKDV_SHIFT = 4 // 4 bits
	SSICR_SWSP       = 1 << 12
	SSICR_SCKP       = 1 << 13
	SSICR_SWSD       = 1 << 14
	SSICR_SCKD       = 1 << 15
	SSICR_SWL_SHIFT  = 16 // 3 bits
	SSICR_DWL_SHIFT  = 19 // 3 bits
	SSICR_CHNL_SHIFT = 22 // 2 bits
	SSICR_DIEN       = 1 << 24
	SSICR_IIEN       = 1 << 25
	SSICR_OIEN       = 1 << 26
	SSICR_UIEN       = 1 << 27
	SSICR_DMEN       = 1 << 28
	SSICR_IRQ_EN     = SSICR_UIEN | SSICR_OIEN
)

// SSISR bits.
const (
	SSISR_IDST = 1 << 0
	SSISR_DIRQ = 1 << 24 // data register empty or full
	SSISR_IIRQ = 1 << 25 // idle
	SSISR_OIRQ = 1 << 26 // overflow
	SSISR_UIRQ = 1 << 27 // underflow

	SSISR_ERRORS = SSISR_OIRQ | SSISR_UIRQ
)

type ssiRegs struct {
	bit uint32

	cr, sr, wsr uint32

	busifMode, busifAdinr, busifDalign, mode, control uint32
}

type srcRegs struct {
	bit uint32

	swrsr, srcir, adinr, ifscr, ifsvr, srccr, mnfsr, bsdsr, bsisr uint32

	busifMode, routeMode, ctrl, timsel uint32
}

type dvcRegs struct {
	bit uint32

	swrsr, dvuir, adinr, dvucr, zcmcr, vol0r, vol1r, dvuer uint32

	routeSlct, ctrl uint32
}

// regMap holds the absolute offsets of every register of every resource in a route table.
// It is computed once and never written afterwards.
type regMap struct {
	ssi map[int]ssiRegs
	src map[int]srcRegs
	dvc map[int]dvcRegs
}

func newRegMap(rt *RouteTable) (*regMap, error) {
	m := &regMap{
		ssi: make(map[int]ssiRegs),
		src: make(map[int]srcRegs),
		dvc: make(map[int]dvcRegs),
	}

	for _, r := range rt.Resources {
		ch, err := r.Channel.Get()
		if err != nil {
			return nil, fmt.Errorf("%s%d channel: %w", r.Kind, r.ID, err)
		}

		off, err := r.Offset.Get()
		if err != nil {
			return nil, fmt.Errorf("%s%d offset: %w", r.Kind, r.ID, err)
		}

		switch r.Kind {
		case ResourceSSI:
			u := ssiuBase + ch*0x40
			m.ssi[r.ID] = ssiRegs{
				bit:         ch,
				cr:          off + SSICR,
				sr:          off + SSISR,
				wsr:         off + SSIWSR,
				busifMode:   u + SSIU_BUSIF_MODE,
				busifAdinr:  u + SSIU_BUSIF_ADINR,
				busifDalign: u + SSIU_BUSIF_DALIGN,
				mode:        u + SSIU_MODE,
				control:     u + SSIU_CONTROL,
			}
		case ResourceSRC:
			b := scuBase + ch*0x20
			m.src[r.ID] = srcRegs{
				bit:       ch,
				swrsr:     off + SRC_SWRSR,
				srcir:     off + SRC_SRCIR,
				adinr:     off + SRC_ADINR,
				ifscr:     off + SRC_IFSCR,
				ifsvr:     off + SRC_IFSVR,
				srccr:     off + SRC_SRCCR,
				mnfsr:     off + SRC_MNFSR,
				bsdsr:     off + SRC_BSDSR,
				bsisr:     off + SRC_BSISR,
				busifMode: b + SRC_BUSIF_MODE,
				routeMode: b + SRC_ROUTE_MODE,
				ctrl:      b + SRC_CTRL,
				timsel:    ADG_TIMSEL0 + ch*4,
			}
		case ResourceDVC:
			c := scuBase + 0x18c + ch*0x20
			m.dvc[r.ID] = dvcRegs{
				bit:       ch,
				swrsr:     off + DVC_SWRSR,
				dvuir:     off + DVC_DVUIR,
				adinr:     off + DVC_ADINR,
				dvucr:     off + DVC_DVUCR,
				zcmcr:     off + DVC_ZCMCR,
				vol0r:     off + DVC_VOL0R,
				vol1r:     off + DVC_VOL1R,
				dvuer:     off + DVC_DVUER,
				routeSlct: c + CMD_ROUTE_SLCT,
				ctrl:      c + CMD_CTRL,
			}
		default:
			return nil, fmt.Errorf("unknown resource kind %v: %w", r.Kind, ErrNotFound)
		}
	}

	return m, nil
}

// SSIRegister returns the absolute offset of an SSI channel register, for tests and diagnostics.
func SSIRegister(ch, reg uint32) uint32 {
	return ssiBase + ch*0x40 + reg
}

// SSIURegister returns the absolute offset of an SSIU per-channel register.
func SSIURegister(ch, reg uint32) uint32 {
	return ssiuBase + ch*0x40 + reg
}

// SRCRegister returns the absolute offset of an SRC channel register.
func SRCRegister(ch, reg uint32) uint32 {
	return scuBase + 0x200 + ch*0x40 + reg
}

// SRCBusRegister returns the absolute offset of an SRC bus interface register.
func SRCBusRegister(ch, reg uint32) uint32 {
	return scuBase + ch*0x20 + reg
}

// DVCRegister returns the absolute offset of a DVC channel register.
func DVCRegister(ch, reg uint32) uint32 {
	return scuBase + 0xe00 + ch*0x100 + reg
}

// CMDRegister returns the absolute offset of a CMD routing register.
func CMDRegister(ch, reg uint32) uint32 {
	return scuBase + 0x18c + ch*0x20 + reg
}

// setBits and clearBits hold regMu across the read and the write. Both directions modify SCU_SYS_INT_EN0/1,
// SSI_MODE1 and ADG_SSICKR from their own goroutines.
func (c *Context) setBits(off, bits uint32) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	c.mem.Write32(off, c.mem.Read32(off)|bits)
}

func (c *Context) clearBits(off, bits uint32) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	c.mem.Write32(off, c.mem.Read32(off)&^bits)
}
