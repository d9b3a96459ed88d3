package scu_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gen2brain/scu"
	"github.com/gen2brain/scu/scutest"
)

type fixture struct {
	ctx    *scu.Context
	board  *scu.Board
	mem    *scutest.Mem
	clk    *scutest.Clock
	dma    *scutest.DMA
	irq    *scutest.IRQ
	fw     *scutest.Framework
	logs   *observer.ObservedLogs
	delays *atomic.Int64
}

// newFixture probes board against fresh fakes.
func newFixture(t *testing.T, board *scu.Board) *fixture {
	t.Helper()

	f := &fixture{
		board:  board,
		mem:    scutest.NewBoardMem(board),
		clk:    scutest.NewClock(),
		dma:    scutest.NewDMA(),
		irq:    scutest.NewIRQ(),
		fw:     scutest.NewFramework(),
		delays: new(atomic.Int64),
	}

	core, logs := observer.New(zapcore.DebugLevel)
	f.logs = logs

	ctx, err := scu.Probe(board, scu.Options{
		Mem:       f.mem,
		Clock:     f.clk,
		DMA:       f.dma,
		IRQ:       f.irq,
		Framework: f.fw,
		Logger:    zap.New(core),
		Delay:     func(time.Duration) { f.delays.Add(1) },
	})
	require.NoError(t, err)

	f.ctx = ctx
	t.Cleanup(func() {
		_ = ctx.Remove()
	})

	return f
}

// routeTo switches dir to topo through the toggles.
func (f *fixture) routeTo(t *testing.T, dir scu.Direction, topo scu.Topology) {
	t.Helper()

	for _, other := range scu.Topologies {
		if other != topo {
			_, err := f.ctx.SetRoute(dir, other, false)
			require.NoError(t, err)
		}
	}

	_, err := f.ctx.SetRoute(dir, topo, true)
	require.NoError(t, err)
	require.Equal(t, topo, f.ctx.ActiveTopology(dir))
}

// open opens dir with cfg and a buffer sized for it.
func (f *fixture) open(t *testing.T, dir scu.Direction, cfg scu.Config) (*scu.Substream, *scutest.Buffer) {
	t.Helper()

	s, err := f.ctx.Open(dir)
	require.NoError(t, err)

	buf := newBuffer(cfg)
	require.NoError(t, s.HWParams(&cfg, buf))

	return s, buf
}

// newBuffer returns a ring buffer that holds exactly the periods of cfg.
func newBuffer(cfg scu.Config) *scutest.Buffer {
	return scutest.NewBuffer(int(scu.PcmFramesToBytes(cfg.PeriodSize*cfg.PeriodCount, cfg.Channels, cfg.Format)), 0x40000000)
}

// start starts s and waits for the first work item, which enables the hardware and primes the transfers.
func start(t *testing.T, s *scu.Substream) {
	t.Helper()

	require.NoError(t, s.Start())
	s.Flush()
}

// complete finishes one transfer and waits for the work it queued.
func (f *fixture) complete(t *testing.T, s *scu.Substream) {
	t.Helper()

	require.True(t, f.dma.Complete(), "no transfer in flight")
	s.Flush()
}

func config(rate uint32) scu.Config {
	cfg := scu.DefaultConfig()
	cfg.Rate = rate

	return cfg
}

// indexOf returns the index of the first write to off whose value satisfies match, or -1.
func indexOf(ops []scutest.Op, off uint32, match func(uint32) bool) int {
	for i, op := range ops {
		if op.Write && op.Off == off && match(op.Val) {
			return i
		}
	}

	return -1
}

func hasBits(bits uint32) func(uint32) bool {
	return func(v uint32) bool { return v&bits == bits }
}

func lacksBits(bits uint32) func(uint32) bool {
	return func(v uint32) bool { return v&bits == 0 }
}

func equals(want uint32) func(uint32) bool {
	return func(v uint32) bool { return v == want }
}

// risingEdges counts the writes in ops that set bits in a register that did not hold them.
func risingEdges(ops []scutest.Op, bits uint32) int {
	var prev uint32

	n := 0
	for _, op := range ops {
		if op.Val&bits == bits && prev&bits != bits {
			n++
		}
		prev = op.Val
	}

	return n
}
