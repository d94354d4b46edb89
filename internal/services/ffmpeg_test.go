package services

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/choirstage/worker/internal/models"
	"github.com/choirstage/worker/internal/mosaic"
)

func buildTestGraph(t *testing.T, clips []models.ClipDescriptor, w, h int) *mosaic.RenderGraph {
	t.Helper()
	graph, err := mosaic.BuildGraph(clips, mosaic.Options{OutputWidth: w, OutputHeight: h})
	if err != nil {
		t.Fatalf("BuildGraph failed: %v", err)
	}
	return graph
}

func TestSerializeFilterGraphTwoClips(t *testing.T) {
	clips := []models.ClipDescriptor{
		{VideoURL: "https://example.com/a.mp4", OffsetSeconds: 2.5, Gain: 1.0, Layer: models.LayerAuto},
		{VideoURL: "https://example.com/b.mp4", OffsetSeconds: 0, Gain: 0.5, Layer: models.LayerAuto},
	}
	graph := buildTestGraph(t, clips, 1280, 720)

	got := SerializeFilterGraph(graph)
	want := "[0:v]setpts=PTS+(2.5)/TB,fps=30,scale=640:720:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2[v0];" +
		"[0:a]asetpts=PTS+(2.5)/TB[a0];" +
		"[1:v]setpts=PTS+(0)/TB,fps=30,scale=640:720:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2[v1];" +
		"[1:a]asetpts=PTS+(0)/TB,volume=0.5[a1];" +
		"[v0][v1]xstack=inputs=2:layout=0_0|640_0[outv];" +
		"[a0][a1]amix=inputs=2:duration=longest[outa]"

	if got != want {
		t.Errorf("filter graph mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestSerializeFilterGraphSingleClip(t *testing.T) {
	clips := []models.ClipDescriptor{
		{VideoURL: "https://example.com/a.mp4", OffsetSeconds: 10, Gain: 1.0, Layer: models.LayerAuto},
	}
	graph := buildTestGraph(t, clips, 640, 360)

	got := SerializeFilterGraph(graph)
	want := "[0:v]setpts=PTS+(10)/TB,fps=30,scale=640:360:force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2[v0];" +
		"[0:a]asetpts=PTS+(10)/TB[a0];" +
		"[v0]null[outv];" +
		"[a0]anull[outa]"

	if got != want {
		t.Errorf("filter graph mismatch\n got: %s\nwant: %s", got, want)
	}
}

func TestSerializeFilterGraphFiveClipPlacements(t *testing.T) {
	graph := buildTestGraph(t, fiveClips(), 1920, 1080)

	got := SerializeFilterGraph(graph)
	wantLayout := "xstack=inputs=5:layout=0_0|640_0|1280_0|0_540|640_540[outv]"
	if !strings.Contains(got, wantLayout) {
		t.Errorf("filter graph missing %q:\n%s", wantLayout, got)
	}
}

func fiveClips() []models.ClipDescriptor {
	clips := make([]models.ClipDescriptor, 5)
	for i := range clips {
		clips[i] = models.ClipDescriptor{
			VideoURL: "https://example.com/clip.mp4",
			Gain:     1.0,
			Layer:    models.LayerAuto,
		}
	}
	return clips
}

// Render must refuse a graph whose tile count does not match the supplied
// inputs before ever spawning the engine.
func TestRenderInputCountMismatch(t *testing.T) {
	graph := buildTestGraph(t, fiveClips(), 1920, 1080)

	svc := NewFFmpegService()
	err := svc.Render(context.Background(), graph,
		[]string{"only_one.mp4"}, filepath.Join(t.TempDir(), "out.mp4"))

	var rErr *models.RenderError
	if !errors.As(err, &rErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
}

func TestTail(t *testing.T) {
	if got := tail("short", 500); got != "short" {
		t.Errorf("tail = %q", got)
	}
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	if got := tail(string(long), 500); len(got) != 500 {
		t.Errorf("tail length = %d, want 500", len(got))
	}
}
