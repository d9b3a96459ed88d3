package main

import (
	"fmt"
	"io"

	"github.com/gen2brain/scu"
)

type register struct {
	name string
	off  uint32
}

// registers lists the registers of the blocks the board wires up, in window order per block.
func registers(board *scu.Board) []register {
	regs := []register{
		{"SCU_SYS_STATUS0", scu.SCU_SYS_STATUS0},
		{"SCU_SYS_INT_EN0", scu.SCU_SYS_INT_EN0},
		{"SCU_SYS_STATUS1", scu.SCU_SYS_STATUS1},
		{"SCU_SYS_INT_EN1", scu.SCU_SYS_INT_EN1},
		{"SSI_MODE0", scu.SSI_MODE0},
		{"SSI_MODE1", scu.SSI_MODE1},
		{"ADG_SSICKR", scu.ADG_SSICKR},
		{"ADG_AUDIO_CLK_SEL0", scu.ADG_AUDIO_CLK_SEL0},
		{"ADG_DIV_EN", scu.ADG_DIV_EN},
	}

	for _, r := range board.Routes.Resources {
		ch, err := r.Channel.Get()
		if err != nil {
			continue
		}

		prefix := fmt.Sprintf("%s%d", r.Kind, r.ID)

		switch r.Kind {
		case scu.ResourceSSI:
			regs = append(regs,
				register{prefix + ".SSICR", scu.SSIRegister(ch, scu.SSICR)},
				register{prefix + ".SSISR", scu.SSIRegister(ch, scu.SSISR)},
				register{prefix + ".SSIWSR", scu.SSIRegister(ch, scu.SSIWSR)},
				register{prefix + ".BUSIF_MODE", scu.SSIURegister(ch, scu.SSIU_BUSIF_MODE)},
				register{prefix + ".BUSIF_ADINR", scu.SSIURegister(ch, scu.SSIU_BUSIF_ADINR)},
				register{prefix + ".CONTROL", scu.SSIURegister(ch, scu.SSIU_CONTROL)},
			)
		case scu.ResourceSRC:
			regs = append(regs,
				register{prefix + ".SRCIR", scu.SRCRegister(ch, scu.SRC_SRCIR)},
				register{prefix + ".ADINR", scu.SRCRegister(ch, scu.SRC_ADINR)},
				register{prefix + ".IFSCR", scu.SRCRegister(ch, scu.SRC_IFSCR)},
				register{prefix + ".IFSVR", scu.SRCRegister(ch, scu.SRC_IFSVR)},
				register{prefix + ".SRCCR", scu.SRCRegister(ch, scu.SRC_SRCCR)},
				register{prefix + ".BUSIF_MODE", scu.SRCBusRegister(ch, scu.SRC_BUSIF_MODE)},
				register{prefix + ".ROUTE_MODE", scu.SRCBusRegister(ch, scu.SRC_ROUTE_MODE)},
				register{prefix + ".CTRL", scu.SRCBusRegister(ch, scu.SRC_CTRL)},
				register{prefix + ".TIMSEL", scu.ADG_TIMSEL0 + ch*4},
			)
		case scu.ResourceDVC:
			regs = append(regs,
				register{prefix + ".DVUIR", scu.DVCRegister(ch, scu.DVC_DVUIR)},
				register{prefix + ".ADINR", scu.DVCRegister(ch, scu.DVC_ADINR)},
				register{prefix + ".DVUCR", scu.DVCRegister(ch, scu.DVC_DVUCR)},
				register{prefix + ".ZCMCR", scu.DVCRegister(ch, scu.DVC_ZCMCR)},
				register{prefix + ".VOL0R", scu.DVCRegister(ch, scu.DVC_VOL0R)},
				register{prefix + ".VOL1R", scu.DVCRegister(ch, scu.DVC_VOL1R)},
				register{prefix + ".DVUER", scu.DVCRegister(ch, scu.DVC_DVUER)},
				register{prefix + ".ROUTE_SLCT", scu.CMDRegister(ch, scu.CMD_ROUTE_SLCT)},
				register{prefix + ".CMD_CTRL", scu.CMDRegister(ch, scu.CMD_CTRL)},
			)
		}
	}

	return regs
}

// dump prints every register of the board read through m.
func dump(w io.Writer, board *scu.Board, m scu.Mem) {
	for _, r := range registers(board) {
		fmt.Fprintf(w, "  %#07x %-20s %#010x\n", r.off, r.name, m.Read32(r.off))
	}
}
