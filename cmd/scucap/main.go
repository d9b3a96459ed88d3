package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap/zapcore"

	"github.com/gen2brain/scu"
	"github.com/gen2brain/scu/scutest"
)

func main() {
	var (
		boardName   string
		route       string
		periodSize  int
		periodCount int
		channels    int
		rate        int
		formatStr   string
		duration    time.Duration
		freq        float64
		logLevel    string
	)

	flag.StringVar(&boardName, "board", "koelsch", "The board to simulate (armadillo-eva1500, koelsch, lager)")
	flag.StringVar(&route, "route", "", "The capture route (ssi, src, dvc; empty = board default)")
	flag.IntVar(&periodSize, "period-size", 1024, "The size of a period in frames")
	flag.IntVar(&periodCount, "period-count", 4, "The number of periods")
	flag.IntVar(&channels, "channels", 2, "The number of channels")
	flag.IntVar(&rate, "rate", 48000, "The sample rate in Hz")
	flag.StringVar(&formatStr, "format", "s16", "The sample format (s16, s24)")
	flag.DurationVar(&duration, "duration", 5*time.Second, "The duration of the capture")
	flag.Float64Var(&freq, "freq", 440, "The frequency of the tone the simulated codec delivers")
	flag.StringVar(&logLevel, "log-level", "info", "The log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <output-wav-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"board", "route", "period-size", "period-count", "channels", "rate", "format", "duration", "freq", "log-level"} {
			f := flag.Lookup(name)
			if f != nil {
				fmt.Fprintf(os.Stderr, "  --%s\n    \t%v (default %q)\n", f.Name, f.Usage, f.DefValue)
			}
		}
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	outputPath := flag.Arg(0)

	format, bitDepth, err := determineFormat(formatStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error determining format: %v\n", err)
		os.Exit(1)
	}

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

	config := scu.Config{
		Channels:    uint32(channels),
		Rate:        uint32(rate),
		PeriodSize:  uint32(periodSize),
		PeriodCount: uint32(periodCount),
		Format:      format,
	}

	dma := scutest.NewTimedDMA(time.Duration(config.PeriodSize) * time.Second / time.Duration(config.Rate))
	defer dma.Close()

	tone := &sine{freq: freq, rate: float64(config.Rate), channels: channels, format: format}
	dma.Source = tone.fill

	c, err := scu.Probe(board, scu.Options{
		Mem:    scutest.NewBoardMem(board),
		Clock:  scutest.NewClock(),
		DMA:    dma,
		Logger: log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error probing %s: %v\n", board.Name, err)
		os.Exit(1)
	}
	defer func() { _ = c.Remove() }()

	if err := selectRoute(c, scu.Capture, route); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	s, err := c.Open(scu.Capture)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening capture substream: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	buf := scutest.NewBuffer(int(scu.PcmFramesToBytes(config.PeriodSize*config.PeriodCount, config.Channels, format)), 0x48000000)
	dma.Attach(buf)

	if err := s.HWParams(&config, buf); err != nil {
		fmt.Fprintf(os.Stderr, "Error setting hw params: %v\n", err)
		os.Exit(1)
	}

	wavFile, err := os.Create(outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating WAV file: %v\n", err)
		os.Exit(1)
	}
	defer wavFile.Close()

	encoder := wav.NewEncoder(wavFile, int(config.Rate), bitDepth, int(config.Channels), 1)
	defer encoder.Close()

	fmt.Printf("Capturing from %s via %s\n", board.Name, c.ActiveTopology(scu.Capture))
	fmt.Printf("Configuration: %d channels, %d Hz, %s\n", config.Channels, config.Rate, scu.PcmParamFormatNames[config.Format])
	fmt.Printf("Period size: %d, Period count: %d\n", config.PeriodSize, config.PeriodCount)
	fmt.Printf("Capture duration: %v\n", duration)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Starting capture... Press Ctrl+C to stop early.")

	framesCaptured, err := capture(ctx, s, encoder, duration)
	if errors.Is(err, context.Canceled) {
		fmt.Println("\nCapture interrupted by user.")
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "Error capturing: %v\n", err)
	}

	if s.State() == scu.SNDRV_PCM_STATE_RUNNING {
		_ = s.Stop()
	}

	captured := time.Duration(framesCaptured) * time.Second / time.Duration(config.Rate)
	fmt.Printf("Capture finished. Wrote %d frames (%.2f seconds, %d xruns) to %s\n",
		framesCaptured, captured.Seconds(), s.Xruns(), outputPath)
}

// capture reads one period at a time into the encoder until duration worth of frames has arrived.
func capture(ctx context.Context, s *scu.Substream, encoder *wav.Encoder, duration time.Duration) (int, error) {
	cfg := s.Config()
	total := int(time.Duration(cfg.Rate) * duration / time.Second)
	samples := int(cfg.PeriodSize * cfg.Channels)

	var (
		s16 []int16
		s24 []int32
	)

	if cfg.Format == scu.SNDRV_PCM_FORMAT_S16_LE {
		s16 = make([]int16, samples)
	} else {
		s24 = make([]int32, samples)
	}

	ints := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: int(cfg.Channels), SampleRate: int(cfg.Rate)},
		Data:   make([]int, samples),
	}

	captured := 0
	for captured < total {
		if err := ctx.Err(); err != nil {
			return captured, err
		}

		var (
			frames int
			err    error
		)

		if s16 != nil {
			frames, err = s.Read(s16)
			for i := 0; i < frames*int(cfg.Channels); i++ {
				ints.Data[i] = int(s16[i])
			}
		} else {
			frames, err = s.Read(s24)
			for i := 0; i < frames*int(cfg.Channels); i++ {
				ints.Data[i] = int(s24[i])
			}
		}

		if frames > total-captured {
			frames = total - captured
		}

		if frames > 0 {
			chunk := &audio.IntBuffer{Format: ints.Format, Data: ints.Data[:frames*int(cfg.Channels)]}
			if werr := encoder.Write(chunk); werr != nil {
				return captured, fmt.Errorf("write WAV file: %w", werr)
			}

			captured += frames
		}

		if err != nil {
			return captured, fmt.Errorf("read: %w", err)
		}
	}

	return captured, nil
}

// sine stands in for the codec: it writes a continuous tone into every capture transfer.
type sine struct {
	freq     float64
	rate     float64
	channels int
	format   scu.PcmFormat
	phase    float64
}

func (g *sine) fill(_ scu.SlaveID, data []byte) {
	step := 2 * math.Pi * g.freq / g.rate
	width := int(scu.PcmFormatToBits(g.format) / 8)
	frameSize := width * g.channels

	for off := 0; off+frameSize <= len(data); off += frameSize {
		v := math.Sin(g.phase) * 0.5
		g.phase = math.Mod(g.phase+step, 2*math.Pi)

		for ch := 0; ch < g.channels; ch++ {
			p := data[off+ch*width:]
			if g.format == scu.SNDRV_PCM_FORMAT_S16_LE {
				binary.LittleEndian.PutUint16(p, uint16(int16(v*math.MaxInt16)))
			} else {
				binary.LittleEndian.PutUint32(p, uint32(int32(v*(1<<23-1))))
			}
		}
	}
}

// selectRoute switches dir to the route named name. An empty name keeps the active route.
func selectRoute(c *scu.Context, dir scu.Direction, name string) error {
	if name == "" {
		return nil
	}

	want := scu.TopologyNone
	for _, t := range scu.Topologies {
		if strings.EqualFold(t.String(), name) {
			want = t
		}
	}

	if want == scu.TopologyNone {
		return fmt.Errorf("unknown route %q", name)
	}

	for _, t := range scu.Topologies {
		if t == want {
			continue
		}

		if _, err := c.SetRoute(dir, t, false); err != nil {
			return fmt.Errorf("route %s off: %w", t, err)
		}
	}

	if _, err := c.SetRoute(dir, want, true); err != nil {
		return fmt.Errorf("route %s on: %w", want, err)
	}

	return nil
}

// determineFormat maps a string identifier to a PCM format and WAV bit depth.
func determineFormat(formatStr string) (scu.PcmFormat, int, error) {
	switch strings.ToLower(formatStr) {
	case "s16":
		return scu.SNDRV_PCM_FORMAT_S16_LE, 16, nil
	case "s24":
		// 24 bits of data in a 32-bit container; the WAV file stores the 24 bits.
		return scu.SNDRV_PCM_FORMAT_S24_LE, 24, nil
	default:
		return 0, 0, fmt.Errorf("unsupported format: '%s'. Supported formats are s16, s24", formatStr)
	}
}
