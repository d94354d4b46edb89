package models

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
)

// Enums

type JobType string

const (
	JobTypeOffsetDetection JobType = "offset_detection"
	JobTypeChoirRender     JobType = "choir_render"
)

type ClipLayer string

const (
	LayerAuto  ClipLayer = "auto"
	LayerCrowd ClipLayer = "crowd"
)

// JobContract is the immutable description of one unit of work. It is parsed
// and validated exactly once at the HTTP boundary; downstream code never
// re-inspects raw payload fields.
type JobContract struct {
	JobID          string  `json:"job_id" validate:"required"`
	JobType        JobType `json:"job_type" validate:"omitempty,oneof=offset_detection choir_render"`
	ContributionID string  `json:"contribution_id,omitempty"`

	// offset_detection payload
	MasterAudioURL       string `json:"master_audio_url,omitempty"`
	ContributionVideoURL string `json:"contribution_video_url,omitempty"`

	// choir_render payload
	AutoLayer  ClipGroup    `json:"auto_layer"`
	CrowdLayer ClipGroup    `json:"crowd_layer"`
	Layout     *LayoutHints `json:"layout,omitempty"`
	Output     *OutputHints `json:"output,omitempty"`
}

// ClipGroup wraps a clip list so the wire shape matches {"clips": [...]}.
type ClipGroup struct {
	Clips []ClipDescriptor `json:"clips,omitempty" validate:"omitempty,dive"`
}

// ClipDescriptor describes one contributed clip in a render job.
// OffsetSeconds is how far this clip's timeline shifts to align with the
// master track. Gain is a linear audio multiplier (1.0 = unchanged).
type ClipDescriptor struct {
	VideoURL      string    `json:"video_url" validate:"required,url"`
	OffsetSeconds float64   `json:"offset_seconds" validate:"gte=0"`
	Gain          float64   `json:"gain,omitempty" validate:"gte=0"`
	Layer         ClipLayer `json:"layer,omitempty" validate:"omitempty,oneof=auto crowd"`
}

// LayoutHints are optional per-job overrides for the mosaic planner.
type LayoutHints struct {
	MaxTiles     int `json:"max_tiles,omitempty" validate:"omitempty,gte=1"`
	OutputWidth  int `json:"output_width,omitempty" validate:"omitempty,gte=2"`
	OutputHeight int `json:"output_height,omitempty" validate:"omitempty,gte=2"`
}

// OutputHints are optional per-job overrides for the encoder settings.
type OutputHints struct {
	MaxDurationSeconds int    `json:"max_duration_seconds,omitempty" validate:"omitempty,gte=1"`
	VideoBitrate       string `json:"video_bitrate,omitempty"`
	AudioBitrate       string `json:"audio_bitrate,omitempty"`
}

var validate = validator.New()

// ParseContract decodes and validates a JobContract from a request body.
// defaultType fills in job_type for endpoints dedicated to one job kind
// (the offset endpoint's payloads historically carry no job_type field).
// All failures are ValidationErrors — the job never starts processing.
func ParseContract(r io.Reader, defaultType JobType) (*JobContract, error) {
	var c JobContract
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}

	if c.JobType == "" {
		c.JobType = defaultType
	}
	if c.JobType == "" {
		return nil, &ValidationError{Msg: "missing job_type"}
	}

	if err := validate.Struct(&c); err != nil {
		return nil, &ValidationError{Msg: fmt.Sprintf("invalid job contract: %v", err)}
	}

	switch c.JobType {
	case JobTypeOffsetDetection:
		if c.MasterAudioURL == "" || c.ContributionVideoURL == "" {
			return nil, &ValidationError{Msg: "missing master_audio_url or contribution_video_url"}
		}
	case JobTypeChoirRender:
		for i := range c.AutoLayer.Clips {
			applyClipDefaults(&c.AutoLayer.Clips[i], LayerAuto)
		}
		for i := range c.CrowdLayer.Clips {
			applyClipDefaults(&c.CrowdLayer.Clips[i], LayerCrowd)
		}
		for i, clip := range c.AutoLayer.Clips {
			if clip.VideoURL == "" {
				return nil, &ValidationError{Msg: fmt.Sprintf("clip %d: missing video_url", i)}
			}
		}
	}

	return &c, nil
}

func applyClipDefaults(clip *ClipDescriptor, layer ClipLayer) {
	if clip.Gain == 0 {
		clip.Gain = 1.0
	}
	if clip.Layer == "" {
		clip.Layer = layer
	}
}

// AutoClips returns the clips that participate in tiling. Crowd-layer clips
// are fetched but never tiled or mixed.
func (c *JobContract) AutoClips() []ClipDescriptor {
	eligible := make([]ClipDescriptor, 0, len(c.AutoLayer.Clips))
	for _, clip := range c.AutoLayer.Clips {
		if clip.Layer == LayerAuto {
			eligible = append(eligible, clip)
		}
	}
	return eligible
}

// DTOs for API responses

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// OffsetResponse is returned for offset_detection jobs. Success is true even
// for fallback results — downstream composition needs some offset for every
// clip, so offset jobs never hard-fail once the contract validates.
type OffsetResponse struct {
	Success        bool    `json:"success"`
	JobID          string  `json:"job_id"`
	ContributionID string  `json:"contribution_id,omitempty"`
	OffsetSeconds  float64 `json:"offset_seconds"`
	Confidence     float64 `json:"confidence_score"`
	Algorithm      string  `json:"algorithm"`
}

// RenderResponse is returned for choir_render jobs.
type RenderResponse struct {
	Success        bool   `json:"success"`
	JobID          string `json:"job_id"`
	OutputVideoURL string `json:"output_video_url,omitempty"`
	// VideoURL duplicates OutputVideoURL for older callers.
	VideoURL   string `json:"video_url,omitempty"`
	ClipCount  int    `json:"clip_count,omitempty"`
	GridLayout string `json:"grid_layout,omitempty"`
	Error      string `json:"error,omitempty"`
}
