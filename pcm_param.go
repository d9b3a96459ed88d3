package scu

import (
	"fmt"
	"sort"
	"strings"
)

type interval struct {
	min, max uint32
}

// Constraints are the hardware parameter limits of a direction on the active route.
type Constraints struct {
	formats   PcmParamMask
	intervals map[PcmParam]interval
}

// Constraints returns the hardware parameter limits of dir.
func (c *Context) Constraints(dir Direction) *Constraints {
	k := &Constraints{
		intervals: map[PcmParam]interval{
			SNDRV_PCM_HW_PARAM_SAMPLE_BITS: {16, 32},
			SNDRV_PCM_HW_PARAM_CHANNELS:    {1, 8},
			SNDRV_PCM_HW_PARAM_RATE:        {8000, 192000},
			SNDRV_PCM_HW_PARAM_PERIOD_SIZE: {64, 8192},
			SNDRV_PCM_HW_PARAM_PERIODS:     {dmaPrimeDepth, 64},
		},
	}

	k.formats.Set(uint(SNDRV_PCM_FORMAT_S16_LE))
	k.formats.Set(uint(SNDRV_PCM_FORMAT_S24_LE))

	// Without a converter the SSI runs at the stream rate, so a master SSI is limited to what its divider reaches.
	if c.ActiveTopology(dir) == TopologyDirect && c.board.Paths[dir].Mode == SSIMaster {
		lo, hi := uint32(0), uint32(0)
		for _, d := range ssiDividers {
			r := c.board.AudioClock / (64 * d)
			if lo == 0 || r < lo {
				lo = r
			}
			if r > hi {
				hi = r
			}
		}
		k.intervals[SNDRV_PCM_HW_PARAM_RATE] = interval{lo, hi}
	}

	return k
}

// RangeMin returns the minimum value for an interval parameter.
func (k *Constraints) RangeMin(param PcmParam) (uint32, error) {
	if k == nil {
		return 0, fmt.Errorf("constraints not initialized")
	}

	iv, ok := k.intervals[param]
	if !ok {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return iv.min, nil
}

// RangeMax returns the maximum value for an interval parameter.
func (k *Constraints) RangeMax(param PcmParam) (uint32, error) {
	if k == nil {
		return 0, fmt.Errorf("constraints not initialized")
	}

	iv, ok := k.intervals[param]
	if !ok {
		return 0, fmt.Errorf("parameter %v is not an interval type", param)
	}

	return iv.max, nil
}

// Mask returns the bitmask for a mask-type parameter.
func (k *Constraints) Mask(param PcmParam) (*PcmParamMask, error) {
	if k == nil {
		return nil, fmt.Errorf("constraints not initialized")
	}

	if param != SNDRV_PCM_HW_PARAM_FORMAT {
		return nil, fmt.Errorf("parameter %v is not a mask type", param)
	}

	return &k.formats, nil
}

// FormatIsSupported checks if a given PCM format is supported.
func (k *Constraints) FormatIsSupported(format PcmFormat) bool {
	mask, err := k.Mask(SNDRV_PCM_HW_PARAM_FORMAT)
	if err != nil || format < 0 {
		return false
	}

	return mask.Test(uint(format))
}

func (k *Constraints) check(cfg Config) error {
	if !k.FormatIsSupported(cfg.Format) {
		return fmt.Errorf("format %d not supported: %w", cfg.Format, ErrInvalidValue)
	}

	for _, p := range []struct {
		name  string
		param PcmParam
		val   uint32
	}{
		{"channels", SNDRV_PCM_HW_PARAM_CHANNELS, cfg.Channels},
		{"rate", SNDRV_PCM_HW_PARAM_RATE, cfg.Rate},
		{"period size", SNDRV_PCM_HW_PARAM_PERIOD_SIZE, cfg.PeriodSize},
		{"periods", SNDRV_PCM_HW_PARAM_PERIODS, cfg.PeriodCount},
	} {
		iv := k.intervals[p.param]
		if p.val < iv.min || p.val > iv.max {
			return fmt.Errorf("%s %d outside [%d, %d]: %w", p.name, p.val, iv.min, iv.max, ErrInvalidValue)
		}
	}

	return nil
}

// String returns a human-readable representation of the constraints.
func (k *Constraints) String() string {
	if k == nil {
		return "<nil>"
	}

	var b strings.Builder

	var keys []int
	for f := range PcmParamFormatNames {
		keys = append(keys, int(f))
	}

	sort.Ints(keys)

	var supported []string
	for _, f := range keys {
		if k.FormatIsSupported(PcmFormat(f)) {
			supported = append(supported, PcmParamFormatNames[PcmFormat(f)])
		}
	}

	printInterval := func(name string, param PcmParam, unit string) {
		rangeMin, errMin := k.RangeMin(param)
		rangeMax, errMax := k.RangeMax(param)

		if errMin != nil || errMax != nil {
			return
		}

		b.WriteString(fmt.Sprintf("%12s: min=%-6d max=%-6d %s\n", name, rangeMin, rangeMax, unit))
	}

	b.WriteString(fmt.Sprintf("%12s: %s\n", "Format", strings.Join(supported, ", ")))
	printInterval("Rate", SNDRV_PCM_HW_PARAM_RATE, "Hz")
	printInterval("Channels", SNDRV_PCM_HW_PARAM_CHANNELS, "")
	printInterval("Sample bits", SNDRV_PCM_HW_PARAM_SAMPLE_BITS, "")
	printInterval("Period size", SNDRV_PCM_HW_PARAM_PERIOD_SIZE, "frames")
	printInterval("Periods", SNDRV_PCM_HW_PARAM_PERIODS, "")

	return b.String()
}
