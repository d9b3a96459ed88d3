//go:build !linux

package main

import (
	"errors"

	"github.com/gen2brain/scu"
)

func dumpDevMem(*scu.Board) error {
	return errors.New("/dev/mem is only available on linux")
}
