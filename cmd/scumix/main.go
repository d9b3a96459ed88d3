package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/gen2brain/scu"
	"github.com/gen2brain/scu/scutest"
)

// assignments collects repeated -set flags.
type assignments []string

func (a *assignments) String() string { return strings.Join(*a, " ") }

func (a *assignments) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected control=value[,value], got %q", v)
	}

	*a = append(*a, v)

	return nil
}

func main() {
	var (
		boardName string
		list      bool
		trace     bool
		logLevel  string
		sets      assignments
	)

	flag.StringVar(&boardName, "board", "lager", "The board to simulate (armadillo-eva1500, koelsch, lager)")
	flag.BoolVar(&list, "list", false, "List all controls.")
	flag.BoolVar(&trace, "trace", false, "Print the register writes caused by the changes.")
	flag.StringVar(&logLevel, "log-level", "warn", "The log level (debug, info, warn, error)")
	flag.Var(&sets, "set", "Set a control before anything else, as name=value[,value]. May be repeated.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] [control] [value...]\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"board", "list", "trace", "log-level", "set"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
		fmt.Fprintln(os.Stderr, "\nTo set a control, provide the control name or ID and the desired value(s).")
		fmt.Fprintln(os.Stderr, "The simulated board starts from its defaults on every run, so chain changes with --set,")
		fmt.Fprintln(os.Stderr, "e.g. --set 'Playback Route SSI=0' --set 'Playback Route DVC=1'.")
		fmt.Fprintln(os.Stderr, "If no control is specified, all controls and their values are listed.")
	}

	flag.Parse()

	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := scu.NewConsoleLogger(level)
	defer func() { _ = log.Sync() }()

	board, err := scu.BoardByName(boardName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

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
	defer func() { _ = c.Remove() }()

	mixer := c.Mixer()
	mem.Reset()

	for _, a := range sets {
		name, value, _ := strings.Cut(a, "=")

		ctl, err := findControl(mixer, name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := setControlValue(ctl, strings.Split(value, ",")); err != nil {
			fmt.Fprintf(os.Stderr, "Error setting value for control '%s': %v\n", ctl.Name(), err)
			os.Exit(1)
		}
	}

	args := flag.Args()

	switch {
	case list:
		printAllControls(board, mixer, true)
	case len(args) == 0:
		printAllControls(board, mixer, false)
	case len(args) == 1:
		ctl, err := findControl(mixer, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		printControl(ctl, false)
	default:
		ctl, err := findControl(mixer, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := setControlValue(ctl, args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error setting value for control '%s': %v\n", ctl.Name(), err)
			os.Exit(1)
		}

		fmt.Printf("Set control '%s' successfully.\n", ctl.Name())
		printControl(ctl, false)
	}

	for _, dir := range scu.Directions {
		fmt.Printf("%s route: %s\n", dir, c.ActiveTopology(dir))
	}

	if trace {
		fmt.Println("---------------------------------------")
		for _, op := range mem.Writes() {
			fmt.Println(op)
		}
	}
}

// findControl looks a control up by numeric ID, then by name.
func findControl(mixer *scu.Mixer, identifier string) (*scu.MixerCtl, error) {
	if id, err := strconv.ParseUint(identifier, 10, 32); err == nil {
		ctl, err := mixer.Ctl(uint32(id))
		if err != nil {
			return nil, fmt.Errorf("cannot find control with ID %d: %w", id, err)
		}

		return ctl, nil
	}

	ctl, err := mixer.CtlByName(identifier)
	if err != nil {
		return nil, fmt.Errorf("cannot find control with name '%s': %w", identifier, err)
	}

	return ctl, nil
}

// printAllControls lists all available mixer controls and optionally their values.
func printAllControls(board *scu.Board, mixer *scu.Mixer, listOnly bool) {
	numCtls := mixer.NumCtls()

	fmt.Printf("Board '%s' has %d controls.\n", board.Name, numCtls)
	fmt.Println("---------------------------------------")

	for i := 0; i < numCtls; i++ {
		ctl, err := mixer.CtlByIndex(uint(i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not get control at index %d: %v\n", i, err)

			continue
		}

		printControl(ctl, listOnly)
	}
}

// printControl prints detailed information about a single mixer control.
func printControl(ctl *scu.MixerCtl, listOnly bool) {
	if listOnly {
		fmt.Printf("%d: %s\n", ctl.ID(), ctl.Name())

		return
	}

	fmt.Printf("%d: %s (%s, %d values)\n", ctl.ID(), ctl.Name(), ctl.TypeString(), ctl.NumValues())

	switch ctl.Type() {
	case scu.SNDRV_CTL_ELEM_TYPE_INTEGER:
		printIntegerControl(ctl)
	case scu.SNDRV_CTL_ELEM_TYPE_BOOLEAN:
		printBooleanControl(ctl)
	default:
		fmt.Println("  Value: <unsupported type>")
	}

	fmt.Println()
}

// printIntegerControl prints details for an integer control.
func printIntegerControl(ctl *scu.MixerCtl) {
	minVal, maxVal, err := ctl.Range()
	if err == nil {
		fmt.Printf("  Range: %d - %d\n", minVal, maxVal)
	}

	var values []string

	for i := uint32(0); i < ctl.NumValues(); i++ {
		val, err := ctl.Value(i)
		if err != nil {
			values = append(values, "<error>")

			continue
		}

		if maxVal > minVal {
			values = append(values, fmt.Sprintf("%d (%d%%)", val, (val-minVal)*100/(maxVal-minVal)))
		} else {
			values = append(values, fmt.Sprintf("%d", val))
		}
	}

	fmt.Printf("  Value: %s\n", strings.Join(values, ", "))
}

// printBooleanControl prints details for a boolean control.
func printBooleanControl(ctl *scu.MixerCtl) {
	var values []string

	for i := uint32(0); i < ctl.NumValues(); i++ {
		val, err := ctl.Value(i)
		if err != nil {
			values = append(values, "<error>")
		} else if val > 0 {
			values = append(values, "On")
		} else {
			values = append(values, "Off")
		}
	}

	fmt.Printf("  Value: %s\n", strings.Join(values, ", "))
}

// setControlValue parses string arguments and sets the control's value.
func setControlValue(ctl *scu.MixerCtl, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("no value provided")
	}

	// A single value applies to all channels of the control.
	if len(values) == 1 {
		for i := uint32(0); i < ctl.NumValues(); i++ {
			if err := setSingleValue(ctl, i, values[0]); err != nil {
				return err
			}
		}

		return nil
	}

	if uint32(len(values)) != ctl.NumValues() {
		return fmt.Errorf("provided %d values, but control has %d values", len(values), ctl.NumValues())
	}

	for i, v := range values {
		if err := setSingleValue(ctl, uint32(i), v); err != nil {
			return err
		}
	}

	return nil
}

// setSingleValue sets a single value on a control at a specific index.
func setSingleValue(ctl *scu.MixerCtl, index uint32, valueStr string) error {
	var (
		val int
		err error
	)

	switch ctl.Type() {
	case scu.SNDRV_CTL_ELEM_TYPE_INTEGER:
		val, err = parseInt(ctl, valueStr)
	case scu.SNDRV_CTL_ELEM_TYPE_BOOLEAN:
		val, err = parseBool(valueStr)
	default:
		return fmt.Errorf("cannot set value for unsupported control type %s", ctl.TypeString())
	}

	if err != nil {
		return err
	}

	_, err = ctl.SetValue(index, val)

	return err
}

// parseInt accepts a plain integer, a hex value with 0x prefix or a percentage of the control range.
func parseInt(ctl *scu.MixerCtl, s string) (int, error) {
	if pctStr, ok := strings.CutSuffix(s, "%"); ok {
		pct, err := strconv.Atoi(pctStr)
		if err != nil || pct < 0 || pct > 100 {
			return 0, fmt.Errorf("invalid percentage value '%s'", s)
		}

		minVal, maxVal, err := ctl.Range()
		if err != nil {
			return 0, err
		}

		return minVal + (maxVal-minVal)*pct/100, nil
	}

	val, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value '%s'", s)
	}

	return int(val), nil
}

// parseBool is a helper to interpret various string representations of a boolean.
func parseBool(s string) (int, error) {
	s = strings.ToLower(s)
	switch s {
	case "1", "on", "true", "yes":
		return 1, nil
	case "0", "off", "false", "no":
		return 0, nil
	}

	return 0, fmt.Errorf("invalid boolean value '%s'", s)
}
