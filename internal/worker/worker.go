package worker

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/choirstage/worker/internal/align"
	"github.com/choirstage/worker/internal/config"
	"github.com/choirstage/worker/internal/models"
	"github.com/choirstage/worker/internal/mosaic"
	"github.com/choirstage/worker/internal/workspace"
	"golang.org/x/sync/errgroup"
)

// Analysis windows for offset detection: the full tracks are not needed to
// find the alignment peak, and bounding them keeps correlation cheap.
const (
	masterAnalysisSeconds       = 60
	contributionAnalysisSeconds = 30
)

// Fetcher pulls a remote input into the workspace.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Engine is the external transcoding engine.
type Engine interface {
	ExtractAudio(ctx context.Context, inputPath, outputPath string, sampleRate, maxSeconds int) error
	Render(ctx context.Context, graph *mosaic.RenderGraph, inputs []string, outputPath string) error
}

// Publisher uploads a rendered artifact and returns its durable public URL.
type Publisher interface {
	Upload(ctx context.Context, localPath, folder string) (string, error)
}

// Worker dispatches validated job contracts through their processing
// pipeline. Each job owns its workspace exclusively; the collaborators are
// stateless and shared across concurrent jobs.
type Worker struct {
	cfg       *config.Config
	fetcher   Fetcher
	engine    Engine
	publisher Publisher
}

func New(cfg *config.Config, fetcher Fetcher, engine Engine, publisher Publisher) *Worker {
	return &Worker{
		cfg:       cfg,
		fetcher:   fetcher,
		engine:    engine,
		publisher: publisher,
	}
}

// ProcessOffset runs an offset_detection job. Once the contract has
// validated, the job always yields a usable result: any processing failure
// degrades to the fallback offset rather than failing, because downstream
// composition depends on some offset existing for every clip.
func (w *Worker) ProcessOffset(ctx context.Context, contract *models.JobContract) *models.OffsetResponse {
	log.Printf("[Worker] Received offset job %s", contract.JobID)

	result := w.detectOffset(ctx, contract)

	log.Printf("[Worker] Job %s: offset=%.2fs confidence=%.2f algorithm=%s",
		contract.JobID, result.OffsetSeconds, result.Confidence, result.Algorithm)

	return &models.OffsetResponse{
		Success:        true,
		JobID:          contract.JobID,
		ContributionID: contract.ContributionID,
		OffsetSeconds:  round2(result.OffsetSeconds),
		Confidence:     round2(result.Confidence),
		Algorithm:      result.Algorithm,
	}
}

func (w *Worker) detectOffset(ctx context.Context, contract *models.JobContract) (result align.Result) {
	// Offset jobs may not crash the process or fail outright; an
	// unanticipated fault degrades to the fallback result like any other.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] Job %s: panic during offset detection: %v", contract.JobID, r)
			result = align.FallbackResult()
		}
	}()

	ws, err := workspace.Acquire(w.cfg.WorkDir, "offset", contract.JobID)
	if err != nil {
		log.Printf("[Worker] Job %s: workspace acquisition failed: %v", contract.JobID, err)
		return align.FallbackResult()
	}
	defer ws.Release()

	masterSrc := ws.Path("master_src")
	contribSrc := ws.Path("contribution.mp4")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, w.cfg.FetchTimeout)
		defer cancel()
		return w.fetcher.Fetch(fctx, contract.MasterAudioURL, masterSrc)
	})
	g.Go(func() error {
		fctx, cancel := context.WithTimeout(gctx, w.cfg.FetchTimeout)
		defer cancel()
		return w.fetcher.Fetch(fctx, contract.ContributionVideoURL, contribSrc)
	})
	if err := g.Wait(); err != nil {
		log.Printf("[Worker] Job %s: input fetch failed, using fallback: %v", contract.JobID, err)
		return align.FallbackResult()
	}

	masterWav := ws.Path("master.wav")
	contribWav := ws.Path("contribution.wav")

	ectx, cancel := context.WithTimeout(ctx, w.cfg.TranscodeTimeout)
	defer cancel()

	if err := w.engine.ExtractAudio(ectx, masterSrc, masterWav, w.cfg.SampleRate, masterAnalysisSeconds); err != nil {
		log.Printf("[Worker] Job %s: master extraction failed, using fallback: %v", contract.JobID, err)
		return align.FallbackResult()
	}
	if err := w.engine.ExtractAudio(ectx, contribSrc, contribWav, w.cfg.SampleRate, contributionAnalysisSeconds); err != nil {
		log.Printf("[Worker] Job %s: contribution extraction failed, using fallback: %v", contract.JobID, err)
		return align.FallbackResult()
	}

	ref, err := align.LoadWAV(masterWav)
	if err != nil {
		log.Printf("[Worker] Job %s: master load failed, using fallback: %v", contract.JobID, err)
		return align.FallbackResult()
	}
	cand, err := align.LoadWAV(contribWav)
	if err != nil {
		log.Printf("[Worker] Job %s: contribution load failed, using fallback: %v", contract.JobID, err)
		return align.FallbackResult()
	}

	result, err = align.Detect(ref, cand)
	if err != nil {
		log.Printf("[Worker] Job %s: correlation failed, using fallback: %v", contract.JobID, err)
		return align.FallbackResult()
	}
	return result
}

// ProcessRender runs a choir_render job. Unlike offset detection, render
// failures are not defaulted — there is no meaningful fallback video — so
// any stage error is surfaced verbatim in the response.
func (w *Worker) ProcessRender(ctx context.Context, contract *models.JobContract) *models.RenderResponse {
	log.Printf("[Worker] Received choir_render job %s", contract.JobID)

	resp := &models.RenderResponse{JobID: contract.JobID}
	if err := w.renderJob(ctx, contract, resp); err != nil {
		log.Printf("[Worker] Job %s failed: %v", contract.JobID, err)
		resp.Success = false
		resp.Error = err.Error()
		return resp
	}

	log.Printf("[Worker] Job %s completed: %d clips, grid %s", contract.JobID, resp.ClipCount, resp.GridLayout)
	return resp
}

func (w *Worker) renderJob(ctx context.Context, contract *models.JobContract, resp *models.RenderResponse) (err error) {
	// The process must never crash on a single bad job.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] Job %s: panic during render: %v", contract.JobID, r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	ws, err := workspace.Acquire(w.cfg.WorkDir, "choir", contract.JobID)
	if err != nil {
		return fmt.Errorf("workspace acquisition failed: %w", err)
	}
	defer ws.Release()

	autoClips := contract.AutoClips()
	if len(autoClips) == 0 {
		return &models.RenderError{Msg: "no clips provided for rendering"}
	}

	maxTiles := w.cfg.MaxTiles
	outW, outH := w.cfg.RenderWidth, w.cfg.RenderHeight
	if contract.Layout != nil {
		if contract.Layout.MaxTiles > 0 && contract.Layout.MaxTiles < maxTiles {
			maxTiles = contract.Layout.MaxTiles
		}
		if contract.Layout.OutputWidth > 0 {
			outW = contract.Layout.OutputWidth
		}
		if contract.Layout.OutputHeight > 0 {
			outH = contract.Layout.OutputHeight
		}
	}
	if len(autoClips) > maxTiles {
		log.Printf("[Worker] Job %s: capping %d clips to %d tiles", contract.JobID, len(autoClips), maxTiles)
		autoClips = autoClips[:maxTiles]
	}

	opts := mosaic.Options{
		MaxTiles:           maxTiles,
		OutputWidth:        outW,
		OutputHeight:       outH,
		MaxDurationSeconds: w.cfg.MaxOutputSeconds,
	}
	if contract.Output != nil {
		if contract.Output.MaxDurationSeconds > 0 && contract.Output.MaxDurationSeconds < w.cfg.MaxOutputSeconds {
			opts.MaxDurationSeconds = contract.Output.MaxDurationSeconds
		}
		opts.VideoBitrate = contract.Output.VideoBitrate
		opts.AudioBitrate = contract.Output.AudioBitrate
	}

	// Plan before fetching so impossible layouts fail without any downloads.
	graph, err := mosaic.BuildGraph(autoClips, opts)
	if err != nil {
		return err
	}

	inputs, err := w.fetchClips(ctx, ws, autoClips, contract.CrowdLayer.Clips)
	if err != nil {
		return err
	}

	outputPath := ws.Path("output_grid.mp4")

	rctx, cancel := context.WithTimeout(ctx, w.cfg.TranscodeTimeout)
	defer cancel()
	if err := w.engine.Render(rctx, graph, inputs, outputPath); err != nil {
		return err
	}

	uctx, cancel := context.WithTimeout(ctx, w.cfg.UploadTimeout)
	defer cancel()
	publicURL, err := w.publisher.Upload(uctx, outputPath, w.cfg.UploadFolder)
	if err != nil {
		return &models.UploadError{Err: err}
	}

	resp.Success = true
	resp.OutputVideoURL = publicURL
	resp.VideoURL = publicURL
	resp.ClipCount = len(graph.Tiles)
	resp.GridLayout = graph.Layout.String()
	return nil
}

// fetchClips downloads every input for a render job concurrently. Tiled
// clips land at input_<i>.mp4 in tile order; crowd-layer clips are fetched
// alongside them but take no part in the mosaic.
func (w *Worker) fetchClips(ctx context.Context, ws *workspace.Workspace, autoClips, crowdClips []models.ClipDescriptor) ([]string, error) {
	inputs := make([]string, len(autoClips))

	g, gctx := errgroup.WithContext(ctx)
	for i, clip := range autoClips {
		dest := ws.Path(fmt.Sprintf("input_%d.mp4", i))
		inputs[i] = dest
		url := clip.VideoURL
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, w.cfg.FetchTimeout)
			defer cancel()
			return w.fetcher.Fetch(fctx, url, dest)
		})
	}
	for i, clip := range crowdClips {
		dest := ws.Path(fmt.Sprintf("crowd_%d.mp4", i))
		url := clip.VideoURL
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, w.cfg.FetchTimeout)
			defer cancel()
			return w.fetcher.Fetch(fctx, url, dest)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
