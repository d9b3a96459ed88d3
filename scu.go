// Package scu drives the audio Sampling Rate Converter Unit (SCU) of Renesas R-Car Gen2 SoCs from user space,
// routing PCM streams through the SSI, SRC and DVC blocks and scheduling their DMA transfers period by period.
package scu

import "fmt"

// PcmFormat defines the sample format for a PCM stream.
// These values correspond to the SNDRV_PCM_FORMAT_* constants in the ALSA kernel headers.
type PcmFormat int32

const (
	SNDRV_PCM_FORMAT_INVALID PcmFormat = -1
	SNDRV_PCM_FORMAT_S8      PcmFormat = 0
	SNDRV_PCM_FORMAT_S16_LE  PcmFormat = 2
	SNDRV_PCM_FORMAT_S24_LE  PcmFormat = 6
	SNDRV_PCM_FORMAT_S32_LE  PcmFormat = 10
)

// PcmState defines the current state of a PCM substream.
// These values correspond to the SNDRV_PCM_STATE_* constants.
type PcmState int32

const (
	SNDRV_PCM_STATE_OPEN         PcmState = 0 // Substream is open.
	SNDRV_PCM_STATE_SETUP        PcmState = 1 // Substream has hardware parameters.
	SNDRV_PCM_STATE_RUNNING      PcmState = 3 // Substream is running.
	SNDRV_PCM_STATE_XRUN         PcmState = 4 // Substream reached an underrun or overrun.
	SNDRV_PCM_STATE_DISCONNECTED PcmState = 8 // Substream is closed.
)

// PcmStateNames provides human-readable names for substream states.
var PcmStateNames = map[PcmState]string{
	SNDRV_PCM_STATE_OPEN:         "OPEN",
	SNDRV_PCM_STATE_SETUP:        "SETUP",
	SNDRV_PCM_STATE_RUNNING:      "RUNNING",
	SNDRV_PCM_STATE_XRUN:         "XRUN",
	SNDRV_PCM_STATE_DISCONNECTED: "DISCONNECTED",
}

func (s PcmState) String() string {
	if name, ok := PcmStateNames[s]; ok {
		return name
	}

	return fmt.Sprintf("PcmState(%d)", int32(s))
}

// Direction is the stream direction of a substream or route.
type Direction int

const (
	Playback Direction = iota
	Capture
)

// Directions lists both stream directions in a stable order.
var Directions = []Direction{Playback, Capture}

func (d Direction) String() string {
	switch d {
	case Playback:
		return "Playback"
	case Capture:
		return "Capture"
	}

	return fmt.Sprintf("Direction(%d)", int(d))
}

// Topology identifies which processing blocks a stream passes through between memory and the SSI.
type Topology int

const (
	TopologyNone         Topology = iota // No route selected.
	TopologyDirect                       // Memory and SSI only.
	TopologyViaSRC                       // Through the sampling rate converter.
	TopologyViaSRCAndDVC                 // Through the converter and the digital volume controller.
)

// Topologies lists every selectable topology.
var Topologies = []Topology{TopologyDirect, TopologyViaSRC, TopologyViaSRCAndDVC}

// TopologyNames provides short names used for endpoints and controls.
var TopologyNames = map[Topology]string{
	TopologyNone:         "None",
	TopologyDirect:       "SSI",
	TopologyViaSRC:       "SRC",
	TopologyViaSRCAndDVC: "DVC",
}

func (t Topology) String() string {
	if name, ok := TopologyNames[t]; ok {
		return name
	}

	return fmt.Sprintf("Topology(%d)", int(t))
}

// bit returns the toggle bit owned by the topology, zero for TopologyNone.
func (t Topology) bit() uint32 {
	if t <= TopologyNone || t > TopologyViaSRCAndDVC {
		return 0
	}

	return 1 << uint(t-1)
}

// TriggerCmd is a substream trigger command.
type TriggerCmd int

const (
	TriggerStart TriggerCmd = iota
	TriggerStop
)

// MixerCtlType defines the value type of mixer control.
type MixerCtlType int32

const (
	SNDRV_CTL_ELEM_TYPE_NONE    MixerCtlType = 0
	SNDRV_CTL_ELEM_TYPE_BOOLEAN MixerCtlType = 1
	SNDRV_CTL_ELEM_TYPE_INTEGER MixerCtlType = 2
	SNDRV_CTL_ELEM_TYPE_UNKNOWN MixerCtlType = -1
)

// PcmParam identifies a hardware parameter of a substream.
// These values correspond to the SNDRV_PCM_HW_PARAM_* constants.
type PcmParam int

const (
	SNDRV_PCM_HW_PARAM_FORMAT      PcmParam = 1
	SNDRV_PCM_HW_PARAM_SAMPLE_BITS PcmParam = 8
	SNDRV_PCM_HW_PARAM_CHANNELS    PcmParam = 10
	SNDRV_PCM_HW_PARAM_RATE        PcmParam = 11
	SNDRV_PCM_HW_PARAM_PERIOD_SIZE PcmParam = 13
	SNDRV_PCM_HW_PARAM_PERIODS     PcmParam = 15
)

// PcmParamMask represents a bitmask for a PCM hardware parameter.
// It allows checking which specific capabilities (e.g., formats) are supported.
type PcmParamMask struct {
	bits [8]uint32
}

// Set sets a bit in the mask.
func (m *PcmParamMask) Set(bit uint) {
	if bit >= 256 {
		return
	}

	m.bits[bit>>5] |= 1 << (bit & 31)
}

// Test checks if a specific bit in the mask is set.
func (m *PcmParamMask) Test(bit uint) bool {
	if bit >= 256 {
		return false
	}

	element := bit >> 5             // bit / 32
	mask := uint32(1 << (bit & 31)) // bit % 32

	return (m.bits[element] & mask) != 0
}

// PcmParamFormatNames provides human-readable names for PCM formats.
var PcmParamFormatNames = map[PcmFormat]string{
	SNDRV_PCM_FORMAT_S8:     "S8",
	SNDRV_PCM_FORMAT_S16_LE: "S16_LE",
	SNDRV_PCM_FORMAT_S24_LE: "S24_LE",
	SNDRV_PCM_FORMAT_S32_LE: "S32_LE",
}

// PcmFormatToBits returns the number of bits per sample for a given format.
// S24_LE samples occupy a 32-bit container.
func PcmFormatToBits(format PcmFormat) uint32 {
	switch format {
	case SNDRV_PCM_FORMAT_S8:
		return 8
	case SNDRV_PCM_FORMAT_S16_LE:
		return 16
	case SNDRV_PCM_FORMAT_S24_LE, SNDRV_PCM_FORMAT_S32_LE:
		return 32
	}

	return 0
}

// PcmFramesToBytes converts a number of frames to bytes for the given channel count and format.
func PcmFramesToBytes(frames, channels uint32, format PcmFormat) uint32 {
	return frames * channels * (PcmFormatToBits(format) / 8)
}

// PcmBytesToFrames converts a byte count to frames for the given channel count and format.
func PcmBytesToFrames(bytes, channels uint32, format PcmFormat) uint32 {
	frameSize := channels * (PcmFormatToBits(format) / 8)
	if frameSize == 0 {
		return 0
	}

	return bytes / frameSize
}
