package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"

	"github.com/gen2brain/scu"
	"github.com/gen2brain/scu/scutest"
)

func main() {
	var (
		boardName string
		regs      bool
		devmem    bool
		logLevel  string
	)

	flag.StringVar(&boardName, "board", "", "The board to describe (armadillo-eva1500, koelsch, lager; empty = all)")
	flag.BoolVar(&regs, "regs", false, "Dump the registers of the simulated board after probing.")
	flag.BoolVar(&devmem, "devmem", false, "Dump the registers of the real hardware through /dev/mem (needs root).")
	flag.StringVar(&logLevel, "log-level", "warn", "The log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays the sound unit wiring, routes and hardware parameter limits of a board.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := scu.NewConsoleLogger(level)
	defer func() { _ = log.Sync() }()

	boards := scu.Boards()
	if boardName != "" {
		board, err := scu.BoardByName(boardName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		boards = []*scu.Board{board}
	}

	for _, board := range boards {
		fmt.Println(board)
		fmt.Println("Routes:")
		fmt.Print(&board.Routes)

		mem := scutest.NewBoardMem(board)

		c, err := scu.Probe(board, scu.Options{
			Mem:    mem,
			Clock:  scutest.NewClock(),
			DMA:    scutest.NewDMA(),
			Logger: log,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error probing %s: %v\n", board.Name, err)
			os.Exit(1)
		}

		for _, dir := range scu.Directions {
			printConstraints(c, dir)
		}

		if regs {
			fmt.Println("Simulated registers:")
			dump(os.Stdout, board, mem)
		}

		_ = c.Remove()

		if devmem {
			fmt.Println("Hardware registers:")
			if err := dumpDevMem(board); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		fmt.Println()
	}
}

// printConstraints prints the hardware parameter limits of every legal route of dir, restoring the default route.
func printConstraints(c *scu.Context, dir scu.Direction) {
	def := c.ActiveTopology(dir)
	defer func() {
		_ = setRoute(c, dir, def)
	}()

	for _, topo := range c.Routes().Legal(dir) {
		if err := setRoute(c, dir, topo); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s route %s: %v\n", dir, topo, err)

			continue
		}

		marker := ""
		if topo == def {
			marker = " (default)"
		}

		fmt.Printf("%s via %s%s:\n", dir, topo, marker)
		fmt.Print(c.Constraints(dir))
	}
}

// setRoute makes topo the only enabled route of dir. TopologyNone switches every route off.
func setRoute(c *scu.Context, dir scu.Direction, topo scu.Topology) error {
	for _, t := range scu.Topologies {
		if t == topo {
			continue
		}

		if _, err := c.SetRoute(dir, t, false); err != nil {
			return err
		}
	}

	if topo == scu.TopologyNone {
		return nil
	}

	_, err := c.SetRoute(dir, topo, true)

	return err
}
