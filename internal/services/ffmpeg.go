package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strings"

	"github.com/choirstage/worker/internal/models"
	"github.com/choirstage/worker/internal/mosaic"
)

// Diagnostic tail length carried in RenderErrors. The useful part of an
// ffmpeg failure is always at the end of stderr.
const stderrTailBytes = 500

// FFmpegService invokes the external transcoding engine as an isolated
// subprocess per call. The binaries are resolved from PATH. This is the only
// place in the repository that knows ffmpeg's textual filter grammar —
// everything upstream works on the typed RenderGraph.
type FFmpegService struct{}

func NewFFmpegService() *FFmpegService {
	return &FFmpegService{}
}

// ExtractAudio decodes the audio track of input into a mono 16-bit PCM WAV
// at the given sample rate, truncated to maxSeconds when positive. Both
// alignment inputs go through this so they arrive at equal rates.
func (s *FFmpegService) ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate, maxSeconds int) error {
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-c:a", "pcm_s16le",
	}
	if maxSeconds > 0 {
		args = append(args, "-t", fmt.Sprintf("%d", maxSeconds))
	}
	args = append(args, outputPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extraction failed: %w: %s", err, tail(stderr.String(), stderrTailBytes))
	}
	return nil
}

// Render executes a planned mosaic graph. inputs are the local clip files in
// tile order. A non-zero exit becomes a RenderError carrying the engine's
// diagnostic tail.
func (s *FFmpegService) Render(ctx context.Context, graph *mosaic.RenderGraph, inputs []string, outputPath string) error {
	if len(inputs) != len(graph.Tiles) {
		return &models.RenderError{
			Msg: fmt.Sprintf("graph has %d tiles but %d inputs were supplied", len(graph.Tiles), len(inputs)),
		}
	}

	filterComplex := SerializeFilterGraph(graph)
	log.Printf("[FFmpeg] filter_complex: %s", filterComplex)

	args := []string{"-y"}
	for _, input := range inputs {
		args = append(args, "-i", input)
	}

	out := graph.Output
	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "[outv]",
		"-map", "[outa]",
		"-c:v", out.VideoCodec,
		"-preset", out.Preset,
		"-crf", fmt.Sprintf("%d", out.CRF),
		"-maxrate", out.MaxRate,
		"-bufsize", out.BufSize,
		"-c:a", out.AudioCodec,
		"-b:a", out.AudioBitrate,
		"-ar", fmt.Sprintf("%d", out.AudioSampleRate),
		"-t", fmt.Sprintf("%d", out.MaxDurationSeconds),
		"-threads", fmt.Sprintf("%d", out.Threads),
		outputPath,
	)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return &models.RenderError{Msg: "render timed out", Detail: ctx.Err().Error()}
		}
		return &models.RenderError{Msg: "ffmpeg render failed", Detail: tail(stderr.String(), stderrTailBytes)}
	}
	return nil
}

// ProbeDuration returns the container duration of a media file in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return seconds, nil
}

// SerializeFilterGraph flattens a RenderGraph into ffmpeg -filter_complex
// syntax. Per tile i:
//
//	[i:v]setpts=PTS+(off)/TB,fps=F,scale=W:H:force_original_aspect_ratio=decrease,
//	     scale=trunc(iw/2)*2:trunc(ih/2)*2[vi]
//	[i:a]asetpts=PTS+(off)/TB[,volume=g][ai]
//
// followed by an xstack combine onto the canvas and an amix with
// duration=longest. Single-tile graphs pass the streams through null filters
// since xstack and amix need at least two inputs.
func SerializeFilterGraph(graph *mosaic.RenderGraph) string {
	var parts []string

	for i, t := range graph.Tiles {
		parts = append(parts, fmt.Sprintf(
			"[%d:v]setpts=PTS+(%s)/TB,fps=%d,scale=%d:%d:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2[v%d]",
			t.InputIndex, formatFloat(t.OffsetSeconds), t.FPS, t.TileWidth, t.TileHeight, i,
		))

		audio := fmt.Sprintf("[%d:a]asetpts=PTS+(%s)/TB", t.InputIndex, formatFloat(t.OffsetSeconds))
		if t.Gain != 1.0 {
			audio += fmt.Sprintf(",volume=%s", formatFloat(t.Gain))
		}
		parts = append(parts, fmt.Sprintf("%s[a%d]", audio, i))
	}

	n := len(graph.Tiles)
	if n == 1 {
		parts = append(parts, "[v0]null[outv]")
		parts = append(parts, "[a0]anull[outa]")
		return strings.Join(parts, ";")
	}

	var videoInputs strings.Builder
	layoutSpec := make([]string, 0, n)
	for i, p := range graph.Combine.Placements {
		fmt.Fprintf(&videoInputs, "[v%d]", i)
		layoutSpec = append(layoutSpec, fmt.Sprintf("%d_%d", p.X, p.Y))
	}
	parts = append(parts, fmt.Sprintf(
		"%sxstack=inputs=%d:layout=%s[outv]",
		videoInputs.String(), n, strings.Join(layoutSpec, "|"),
	))

	var audioInputs strings.Builder
	for i := 0; i < graph.Mix.Inputs; i++ {
		fmt.Fprintf(&audioInputs, "[a%d]", i)
	}
	parts = append(parts, fmt.Sprintf(
		"%samix=inputs=%d:duration=longest[outa]",
		audioInputs.String(), graph.Mix.Inputs,
	))

	return strings.Join(parts, ";")
}

// formatFloat renders a float without trailing zeros, matching the values
// ffmpeg expression syntax expects.
func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// tail returns the last max bytes of s for diagnostic messages.
func tail(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
