package eval

import (
	"context"
	"encoding/base64"
	"sort"
	"sync"

	"liveness-eval/internal/artifact"
	"liveness-eval/internal/backend"
)

// Row is the aggregated record for one artifact. Diagnostics is keyed by
// backend display name; its key set is identical for every row of a run,
// whatever failed along the way.
type Row struct {
	Title       string            `json:"title"`
	ImagePath   string            `json:"image_path"`
	Resolution  string            `json:"resolution"`
	Size        string            `json:"size"`
	Quality     string            `json:"quality,omitempty"`
	Diagnostics map[string]string `json:"diagnostics"`
}

// Event reports orchestrator progress to an optional observer.
type Event struct {
	Stage   string
	Message string
	Data    map[string]any
}

const DefaultWorkers = 5

// Options configures one batch run. Quality is optional; when set, every row
// additionally carries a JPEG compression-quality cell.
type Options struct {
	Targets      []backend.Target
	Workers      int
	TempImageDir string
	Quality      *backend.QualityAnalyzer
	OnEvent      func(Event)
}

// Orchestrator fans a batch of artifacts out over a bounded worker pool and
// folds every (artifact, backend) outcome into one row per artifact.
type Orchestrator struct {
	client  *backend.Client
	targets []backend.Target
	workers int
	tempDir string
	quality *backend.QualityAnalyzer
	onEvent func(Event)
}

func New(client *backend.Client, opts Options) (*Orchestrator, error) {
	if len(opts.Targets) == 0 {
		return nil, backend.ErrNoBackends
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	onEvent := opts.OnEvent
	if onEvent == nil {
		onEvent = func(Event) {}
	}
	return &Orchestrator{
		client:  client,
		targets: opts.Targets,
		workers: workers,
		tempDir: opts.TempImageDir,
		quality: opts.Quality,
		onEvent: onEvent,
	}, nil
}

// Run processes every artifact and returns one row each, sorted ascending by
// title (ties keep discovery order). Per-artifact and per-backend failures
// are absorbed into the rows; Run itself cannot fail once started.
func (o *Orchestrator) Run(ctx context.Context, artifacts []artifact.Descriptor) []Row {
	rows := make([]Row, len(artifacts))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < o.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				rows[index] = o.processArtifact(ctx, artifacts[index])
			}
		}()
	}

	for index := range artifacts {
		select {
		case <-ctx.Done():
			// Stop dispatching; already-dispatched units finish and the
			// remaining artifacts get failure rows below.
			close(jobs)
			wg.Wait()
			for i := index; i < len(artifacts); i++ {
				if rows[i].Diagnostics == nil {
					rows[i] = o.failureRow(artifacts[i])
				}
			}
			return o.sorted(rows)
		case jobs <- index:
		}
	}
	close(jobs)
	wg.Wait()

	return o.sorted(rows)
}

// processArtifact is the unit of work: materialize, read metadata, then call
// every enabled backend sequentially in target order. Panics from image
// decoding or a client defect are converted into a row-level failure here;
// nothing propagates out of the pool.
func (o *Orchestrator) processArtifact(ctx context.Context, descriptor artifact.Descriptor) (row Row) {
	defer func() {
		if recovered := recover(); recovered != nil {
			o.onEvent(Event{
				Stage:   "artifact_panic",
				Message: "artifact processing failed",
				Data:    map[string]any{"title": descriptor.Title},
			})
			row = o.failureRow(descriptor)
		}
	}()

	o.onEvent(Event{
		Stage:   "artifact_start",
		Message: "processing artifact",
		Data:    map[string]any{"title": descriptor.Title},
	})

	row = Row{
		Title:       descriptor.Title,
		ImagePath:   artifact.MaterializeForReport(descriptor, o.tempDir),
		Diagnostics: make(map[string]string, len(o.targets)),
	}
	metadata := artifact.ReadMetadata(descriptor)
	row.Resolution = metadata.Resolution
	row.Size = metadata.Size

	payload, err := artifact.ToBase64(descriptor)
	if err != nil {
		payload = ""
	}
	if o.quality != nil {
		row.Quality = "Error"
		if raw, decodeErr := base64.StdEncoding.DecodeString(payload); decodeErr == nil && len(raw) > 0 {
			row.Quality = o.quality.Analyze(ctx, raw)
		}
	}
	for _, target := range o.targets {
		outcome := o.client.Evaluate(ctx, payload, target)
		row.Diagnostics[target.Name] = outcome.Diagnostic
		o.onEvent(Event{
			Stage:   "backend_result",
			Message: outcome.Diagnostic,
			Data: map[string]any{
				"title":   descriptor.Title,
				"backend": target.Name,
				"status":  string(outcome.Status),
			},
		})
	}

	o.onEvent(Event{
		Stage:   "artifact_result",
		Message: "artifact processed",
		Data:    map[string]any{"title": descriptor.Title},
	})
	return row
}

func (o *Orchestrator) failureRow(descriptor artifact.Descriptor) Row {
	diagnostics := make(map[string]string, len(o.targets))
	for _, target := range o.targets {
		diagnostics[target.Name] = "Error"
	}
	row := Row{
		Title:       descriptor.Title,
		ImagePath:   artifact.Unavailable,
		Resolution:  artifact.Unavailable,
		Size:        artifact.Unavailable,
		Diagnostics: diagnostics,
	}
	if o.quality != nil {
		row.Quality = "Error"
	}
	return row
}

func (o *Orchestrator) sorted(rows []Row) []Row {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Title < rows[j].Title
	})
	return rows
}
