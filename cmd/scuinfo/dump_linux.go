//go:build linux

package main

import (
	"os"

	"github.com/gen2brain/scu"
)

func dumpDevMem(board *scu.Board) error {
	mem, err := scu.OpenDevMem(board.PhysBase, scu.WindowSize)
	if err != nil {
		return err
	}
	defer mem.Close()

	dump(os.Stdout, board, mem)

	return nil
}
