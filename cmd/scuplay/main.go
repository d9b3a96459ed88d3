package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/gen2brain/scu"
	"github.com/gen2brain/scu/scutest"
)

func main() {
	var (
		boardName   string
		route       string
		periodSize  int
		periodCount int
		formatStr   string
		volume      int
		speed       float64
		outPath     string
		metricsAddr string
		logLevel    string
	)

	flag.StringVar(&boardName, "board", "koelsch", "The board to simulate (armadillo-eva1500, koelsch, lager)")
	flag.StringVar(&route, "route", "", "The playback route (ssi, src, dvc; empty = board default)")
	flag.IntVar(&periodSize, "period-size", 1024, "The size of a period in frames")
	flag.IntVar(&periodCount, "period-count", 4, "The number of periods")
	flag.StringVar(&formatStr, "format", "", "The sample format (s16, s24; empty = from the input file)")
	flag.IntVar(&volume, "volume", -1, "The volume of both channels on the DVC route (0-8388607, -1 = unchanged)")
	flag.Float64Var(&speed, "speed", 1, "The speed of the simulated DMA relative to real time")
	flag.StringVar(&outPath, "out", "", "Write the samples moved out of the ring buffer to this WAV file")
	flag.StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address while playing")
	flag.StringVar(&logLevel, "log-level", "info", "The log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <wav-or-mp3-file>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "\nOptions:")
		for _, name := range []string{"board", "route", "period-size", "period-count", "format", "volume", "speed", "out", "metrics", "log-level"} {
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

	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if speed <= 0 {
		fmt.Fprintln(os.Stderr, "Error: speed must be positive")
		os.Exit(1)
	}

	log := scu.NewConsoleLogger(level)
	defer func() { _ = log.Sync() }()

	board, err := scu.BoardByName(boardName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	input, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening input file: %v\n", err)
		os.Exit(1)
	}
	defer input.Close()

	decoder, err := openDecoder(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	format, err := determineFormat(formatStr, decoder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := scu.Config{
		Channels:    uint32(decoder.NumChans()),
		Rate:        decoder.SampleRate(),
		PeriodSize:  uint32(periodSize),
		PeriodCount: uint32(periodCount),
		Format:      format,
	}

	p := &player{
		board:   board,
		route:   route,
		volume:  volume,
		config:  config,
		decoder: decoder,
		log:     log,
		reg:     prometheus.NewRegistry(),
	}

	interval := time.Duration(float64(time.Second) * float64(config.PeriodSize) / float64(config.Rate) / speed)
	p.dma = scutest.NewTimedDMA(interval)
	defer p.dma.Close()

	if outPath != "" {
		out, err := os.Create(outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer out.Close()

		p.enc = wav.NewEncoder(out, int(config.Rate), sampleBits(format), int(config.Channels), 1)
		p.dma.Sink = p.sink
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.run(ctx, metricsAddr); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type player struct {
	board   *scu.Board
	route   string
	volume  int
	config  scu.Config
	decoder Decoder
	log     *zap.Logger
	reg     *prometheus.Registry
	dma     *scutest.TimedDMA
	stream  *scu.Substream

	mu      sync.Mutex
	enc     *wav.Encoder
	sinkErr error
}

func (p *player) run(ctx context.Context, metricsAddr string) error {
	c, err := scu.Probe(p.board, scu.Options{
		Mem:        scutest.NewBoardMem(p.board),
		Clock:      scutest.NewClock(),
		DMA:        p.dma,
		Logger:     p.log,
		Registerer: p.reg,
	})
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.board.Name, err)
	}
	defer func() { _ = c.Remove() }()

	if err := selectRoute(c, scu.Playback, p.route); err != nil {
		return err
	}

	if p.volume >= 0 {
		if err := p.setVolume(c); err != nil {
			return err
		}
	}

	s, err := c.Open(scu.Playback)
	if err != nil {
		return fmt.Errorf("open playback: %w", err)
	}

	ringBytes := scu.PcmFramesToBytes(p.config.PeriodSize*p.config.PeriodCount, p.config.Channels, p.config.Format)
	buf := scutest.NewBuffer(int(ringBytes), 0x40000000)
	p.dma.Attach(buf)

	if err := s.HWParams(&p.config, buf); err != nil {
		return fmt.Errorf("hw params: %w", err)
	}

	p.stream = s

	fmt.Printf("Playing %d ch, %d Hz, %s on %s via %s\n",
		p.config.Channels, p.config.Rate, scu.PcmParamFormatNames[p.config.Format], p.board.Name, c.ActiveTopology(scu.Playback))

	if d, err := p.decoder.Duration(); err == nil {
		fmt.Printf("Duration: %v\n", d.Round(time.Millisecond))
	}

	g, gctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			return srv.Shutdown(shutdown)
		})
	}

	var played int
	start := time.Now()

	g.Go(func() error {
		defer stopOnExit(gctx, s)

		n, err := p.play(gctx, s)
		played = n
		if err != nil {
			return err
		}

		// Ends the metrics server.
		return errDone
	})

	err = g.Wait()
	if errors.Is(err, errDone) {
		err = nil
	}

	if closeErr := s.Close(); closeErr != nil && !errors.Is(closeErr, scu.ErrClosed) {
		p.log.Warn("close failed", zap.Error(closeErr))
	}

	p.dma.Close()

	if p.enc != nil {
		p.mu.Lock()
		if err := p.enc.Close(); err != nil && p.sinkErr == nil {
			p.sinkErr = fmt.Errorf("finish WAV file: %w", err)
		}
		sinkErr := p.sinkErr
		p.mu.Unlock()

		if sinkErr != nil {
			return sinkErr
		}
	}

	fmt.Printf("Played %d frames in %v (%d periods, %d xruns)\n",
		played, time.Since(start).Round(time.Millisecond), s.Period(), s.Xruns())

	return err
}

var errDone = errors.New("playback finished")

// play writes the decoded file one period at a time and drains the ring at the end.
func (p *player) play(ctx context.Context, s *scu.Substream) (int, error) {
	chans := int(p.config.Channels)
	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: chans, SampleRate: int(p.config.Rate)},
		Data:   make([]int, int(p.config.PeriodSize)*chans),
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := p.decoder.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return total, fmt.Errorf("decode: %w", err)
		}

		if n == 0 {
			break
		}

		frames, werr := s.Write(convert(buf.Data[:n-n%chans], p.config.Format, p.decoder.BitDepth()))
		total += frames
		if werr != nil {
			return total, fmt.Errorf("write: %w", werr)
		}

		if errors.Is(err, io.EOF) {
			break
		}
	}

	return total, s.Drain()
}

// stopOnExit stops a stream that is still running when playback was interrupted.
func stopOnExit(ctx context.Context, s *scu.Substream) {
	if ctx.Err() == nil {
		return
	}

	if s.State() == scu.SNDRV_PCM_STATE_RUNNING || s.State() == scu.SNDRV_PCM_STATE_XRUN {
		_ = s.Stop()
	}
}

func (p *player) setVolume(c *scu.Context) error {
	dvc := p.board.Paths[scu.Playback].DVC
	for _, ch := range []int{scu.Left, scu.Right} {
		if _, err := c.SetVolume(dvc, ch, uint32(p.volume)); err != nil {
			return fmt.Errorf("set volume: %w", err)
		}
	}

	return nil
}

// sink appends the bytes of a finished transfer to the WAV file.
// Transfers still in flight after a stop are dropped.
func (p *player) sink(_ scu.SlaveID, data []byte) {
	if p.stream == nil || p.stream.State() != scu.SNDRV_PCM_STATE_RUNNING {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sinkErr != nil {
		return
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: int(p.config.Channels), SampleRate: int(p.config.Rate)},
		Data:           bytesToInts(data, p.config.Format),
		SourceBitDepth: sampleBits(p.config.Format),
	}

	if err := p.enc.Write(buf); err != nil {
		p.sinkErr = fmt.Errorf("write WAV file: %w", err)
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

	// Only one route may be on, so clear the others first.
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

func determineFormat(formatStr string, d Decoder) (scu.PcmFormat, error) {
	switch strings.ToLower(formatStr) {
	case "s16":
		return scu.SNDRV_PCM_FORMAT_S16_LE, nil
	case "s24":
		return scu.SNDRV_PCM_FORMAT_S24_LE, nil
	case "":
	default:
		return 0, fmt.Errorf("unsupported format %q", formatStr)
	}

	if d.IsFloat() {
		return 0, errors.New("floating point input is not supported, the SSI takes integer samples")
	}

	switch d.BitDepth() {
	case 8, 16:
		return scu.SNDRV_PCM_FORMAT_S16_LE, nil
	case 24, 32:
		return scu.SNDRV_PCM_FORMAT_S24_LE, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d", d.BitDepth())
	}
}

// convert rescales samples of bitDepth bits to format and returns them in the slice type Write expects.
func convert(samples []int, format scu.PcmFormat, bitDepth uint16) any {
	switch format {
	case scu.SNDRV_PCM_FORMAT_S16_LE:
		out := make([]int16, len(samples))
		for i, v := range samples {
			out[i] = int16(rescale(v, int(bitDepth), 16))
		}

		return out
	default:
		out := make([]int32, len(samples))
		for i, v := range samples {
			out[i] = int32(rescale(v, int(bitDepth), 24))
		}

		return out
	}
}

func rescale(v, from, to int) int {
	if from == 8 {
		// 8-bit WAV samples are unsigned.
		v -= 128
	}

	if from > to {
		return v >> (from - to)
	}

	return v << (to - from)
}

// sampleBits returns the significant bits of a sample, 24 for S24_LE despite its 32-bit container.
func sampleBits(format scu.PcmFormat) int {
	if format == scu.SNDRV_PCM_FORMAT_S24_LE {
		return 24
	}

	return int(scu.PcmFormatToBits(format))
}

// bytesToInts decodes little-endian samples. S24_LE samples sit in the low three bytes of a 32-bit container.
func bytesToInts(data []byte, format scu.PcmFormat) []int {
	if format == scu.SNDRV_PCM_FORMAT_S16_LE {
		out := make([]int, len(data)/2)
		for i := range out {
			out[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}

		return out
	}

	out := make([]int, len(data)/4)
	for i := range out {
		v := binary.LittleEndian.Uint32(data[i*4:])
		out[i] = int(int32(v<<8) >> 8)
	}

	return out
}
