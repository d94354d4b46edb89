package mosaic

import (
	"fmt"

	"github.com/choirstage/worker/internal/models"
)

// Options control graph construction. Zero fields fall back to the defaults
// below, which match the production encoder settings.
type Options struct {
	MaxTiles           int
	OutputWidth        int
	OutputHeight       int
	FPS                int
	MaxDurationSeconds int
	VideoBitrate       string
	AudioBitrate       string
	AudioSampleRate    int
}

const (
	defaultFPS             = 30
	defaultMaxDuration     = 60
	defaultVideoBitrate    = "2M"
	defaultAudioBitrate    = "128k"
	defaultAudioSampleRate = 44100
)

// TileChain is the per-clip transform sequence: a time shift that moves the
// clip onto the master timeline, frame-rate normalization, an
// aspect-preserving downscale into the tile box, and a final even-dimension
// correction. The same shift is applied to the clip's audio so the two
// streams stay mutually synchronized.
type TileChain struct {
	InputIndex    int
	OffsetSeconds float64
	Gain          float64
	FPS           int
	TileWidth     int
	TileHeight    int
}

// CombineStage arranges all scaled tiles at their computed placements on one
// canvas.
type CombineStage struct {
	CanvasWidth  int
	CanvasHeight int
	Placements   []Placement
}

// MixStage mixes all per-clip audio streams; output duration equals the
// longest input.
type MixStage struct {
	Inputs int
	Gains  []float64
}

// OutputSpec binds the combined video and mixed audio to the encoder.
// MaxDurationSeconds caps the output to prevent runaway render time.
type OutputSpec struct {
	VideoCodec         string
	Preset             string
	CRF                int
	MaxRate            string
	BufSize            string
	AudioCodec         string
	AudioBitrate       string
	AudioSampleRate    int
	MaxDurationSeconds int
	Threads            int
}

// RenderGraph is the full declarative render plan: pure data, constructed
// fresh per job and consumed exactly once by the render executor, which is
// the only place that knows the engine's textual filter grammar.
type RenderGraph struct {
	Layout  GridLayout
	Tiles   []TileChain
	Combine CombineStage
	Mix     MixStage
	Output  OutputSpec
}

// BuildGraph plans the mosaic for the given clips. Only clips the caller has
// already filtered to the tiling layer participate; the count is capped at
// opts.MaxTiles. Zero clips is a hard precondition failure.
func BuildGraph(clips []models.ClipDescriptor, opts Options) (*RenderGraph, error) {
	if len(clips) == 0 {
		return nil, &models.RenderError{Msg: "no clips provided for rendering"}
	}

	n := len(clips)
	if opts.MaxTiles > 0 && n > opts.MaxTiles {
		n = opts.MaxTiles
	}
	clips = clips[:n]

	layout, err := PlanLayout(n, opts.OutputWidth, opts.OutputHeight)
	if err != nil {
		return nil, err
	}
	if len(layout.Placements) != n {
		return nil, &models.RenderError{
			Msg: fmt.Sprintf("layout produced %d placements for %d clips", len(layout.Placements), n),
		}
	}

	fps := opts.FPS
	if fps == 0 {
		fps = defaultFPS
	}

	tiles := make([]TileChain, n)
	gains := make([]float64, n)
	for i, clip := range clips {
		tiles[i] = TileChain{
			InputIndex:    i,
			OffsetSeconds: clip.OffsetSeconds,
			Gain:          clip.Gain,
			FPS:           fps,
			TileWidth:     layout.TileWidth,
			TileHeight:    layout.TileHeight,
		}
		gains[i] = clip.Gain
	}

	maxDuration := opts.MaxDurationSeconds
	if maxDuration == 0 {
		maxDuration = defaultMaxDuration
	}
	videoBitrate := opts.VideoBitrate
	if videoBitrate == "" {
		videoBitrate = defaultVideoBitrate
	}
	audioBitrate := opts.AudioBitrate
	if audioBitrate == "" {
		audioBitrate = defaultAudioBitrate
	}
	sampleRate := opts.AudioSampleRate
	if sampleRate == 0 {
		sampleRate = defaultAudioSampleRate
	}

	return &RenderGraph{
		Layout: layout,
		Tiles:  tiles,
		Combine: CombineStage{
			CanvasWidth:  layout.CanvasWidth(),
			CanvasHeight: layout.CanvasHeight(),
			Placements:   layout.Placements,
		},
		Mix: MixStage{
			Inputs: n,
			Gains:  gains,
		},
		Output: OutputSpec{
			VideoCodec:         "libx264",
			Preset:             "ultrafast",
			CRF:                28,
			MaxRate:            videoBitrate,
			BufSize:            doubleRate(videoBitrate),
			AudioCodec:         "aac",
			AudioBitrate:       audioBitrate,
			AudioSampleRate:    sampleRate,
			MaxDurationSeconds: maxDuration,
			Threads:            2,
		},
	}, nil
}

// doubleRate derives a bufsize of twice the maxrate for shorthand bitrates
// like "2M" or "1500k". Unparseable values fall through unchanged.
func doubleRate(rate string) string {
	if len(rate) < 2 {
		return rate
	}
	unit := rate[len(rate)-1]
	if unit != 'M' && unit != 'k' && unit != 'K' {
		return rate
	}
	var value int
	if _, err := fmt.Sscanf(rate[:len(rate)-1], "%d", &value); err != nil {
		return rate
	}
	return fmt.Sprintf("%d%c", value*2, unit)
}
