// Package pipeline orchestrates one extract–transform–atomic-load run:
// remote fetch → table parse → transform → partition replacement.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"calidad/internal/config"
	"calidad/internal/domain"
	"calidad/internal/etl"
	"calidad/internal/graph"
	"calidad/internal/storage"
	"calidad/internal/table"
)

// ErrRunInProgress means a load for the same data type is already in
// flight; overlapping runs for one partition are not permitted.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// ErrSourceNotFound means the configured file name was absent from the
// folder listing — "nothing to do", as opposed to "something broke".
var ErrSourceNotFound = errors.New("source file not found in folder")

// RunResult summarizes one completed run.
type RunResult struct {
	Summary  *domain.LoadSummary `json:"summary"`
	RowsRead int                 `json:"rowsRead"`
	Duration time.Duration       `json:"duration"`
}

// Runner is the unit the scheduler invokes. A failed run leaves the
// previously loaded dataset as the current truth; there is no
// partial-dataset fallback.
type Runner struct {
	Graph   config.GraphConfig
	Source  config.SourceConfig
	Rules   *etl.Rules
	Records *storage.RecordStore
	Runs    *storage.RunLogStore

	// NewClient overrides graph client construction (tests point it at
	// an httptest server).
	NewClient func() *graph.Client

	running runGuard
}

// newGraphClient builds a fresh client for one run. Token and listing
// calls ride a retrying HTTP client — the caller-level backoff policy —
// while the streamed download stays on a plain client, because a
// mid-stream failure must fail the run rather than retry behind our back.
func (r *Runner) newGraphClient() *graph.Client {
	if r.NewClient != nil {
		return r.NewClient()
	}
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil
	return &graph.Client{
		TenantID:     r.Graph.TenantID,
		ClientID:     r.Graph.ClientID,
		ClientSecret: r.Graph.ClientSecret,
		Scope:        r.Graph.Scope,
		HTTPClient:   rc.StandardClient(),
	}
}

// Run executes the full pipeline for dataType. Repeated runs against an
// unchanged source converge to the same stored state, modulo regenerated
// ids and batch timestamps.
func (r *Runner) Run(ctx context.Context, dataType string) (*RunResult, error) {
	if !r.running.TryLock(dataType) {
		return nil, ErrRunInProgress
	}
	defer r.running.Unlock(dataType)

	start := time.Now()
	result, err := r.extractAndLoad(ctx, dataType)
	r.logRun(ctx, dataType, r.Source.FileName, start, result, err)
	return result, err
}

// RunFromFile executes the transform+load path against a local workbook
// or CSV file, skipping the remote client. Used by the drop-folder
// watcher and for manual backfills.
func (r *Runner) RunFromFile(ctx context.Context, dataType, path string) (*RunResult, error) {
	if !r.running.TryLock(dataType) {
		return nil, ErrRunInProgress
	}
	defer r.running.Unlock(dataType)

	start := time.Now()
	result, err := r.loadFromFile(ctx, dataType, path)
	r.logRun(ctx, dataType, filepath.Base(path), start, result, err)
	return result, err
}

// WaitRunning blocks until in-flight runs finish or ctx is cancelled.
func (r *Runner) WaitRunning(ctx context.Context) {
	r.running.WaitAll(ctx)
}

func (r *Runner) extractAndLoad(ctx context.Context, dataType string) (*RunResult, error) {
	start := time.Now()
	client := r.newGraphClient()

	entries, err := client.ListFolder(ctx, r.Source.DriveID, r.Source.FolderID)
	if err != nil {
		// A rejected cached token gets exactly one re-authentication.
		var rerr *graph.RemoteError
		if errors.As(err, &rerr) && rerr.Unauthorized() {
			client.InvalidateToken()
			if _, aerr := client.Authenticate(ctx); aerr != nil {
				return nil, aerr
			}
			entries, err = client.ListFolder(ctx, r.Source.DriveID, r.Source.FolderID)
		}
		if err != nil {
			return nil, fmt.Errorf("list source folder: %w", err)
		}
	}
	log.Printf("pipeline: %d files in source folder", len(entries))

	url, found := graph.DownloadURLByName(entries, r.Source.FileName)
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrSourceNotFound, r.Source.FileName)
	}

	// The transient URL is consumed immediately and never persisted.
	var buf bytes.Buffer
	n, err := client.StreamDownload(ctx, url, &buf)
	if err != nil {
		// Partial output in buf is discarded with it.
		return nil, fmt.Errorf("download %q: %w", r.Source.FileName, err)
	}
	log.Printf("pipeline: downloaded %q (%d bytes)", r.Source.FileName, n)

	tbl, err := table.ReadXLSX(&buf, r.Source.Sheet)
	if err != nil {
		return nil, err
	}

	result, err := r.transformAndLoad(ctx, dataType, tbl)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) loadFromFile(ctx context.Context, dataType, path string) (*RunResult, error) {
	start := time.Now()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	defer f.Close()

	var tbl *table.Table
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		tbl, err = table.ReadCSV(f)
	} else {
		tbl, err = table.ReadXLSX(f, r.Source.Sheet)
	}
	if err != nil {
		return nil, err
	}

	result, err := r.transformAndLoad(ctx, dataType, tbl)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (r *Runner) transformAndLoad(ctx context.Context, dataType string, tbl *table.Table) (*RunResult, error) {
	log.Printf("pipeline: read %d rows, %d columns", len(tbl.Rows), len(tbl.Columns))

	records, dropped, err := etl.Transform(tbl, r.Rules)
	if err != nil {
		return nil, err
	}
	if dropped > 0 {
		log.Printf("pipeline: dropped %d unidentifiable rows", dropped)
	}

	summary, err := r.Records.ReplaceDataType(ctx, dataType, records)
	if err != nil {
		return nil, err
	}
	summary.Dropped = dropped

	log.Printf("pipeline: %s replaced: previous=%d new=%d dropped=%d",
		dataType, summary.PreviousCount, summary.NewCount, summary.Dropped)
	return &RunResult{Summary: summary, RowsRead: len(tbl.Rows)}, nil
}

// logRun persists the run outcome; failures here must not fail the run.
func (r *Runner) logRun(ctx context.Context, dataType, sourceFile string, start time.Time, result *RunResult, runErr error) {
	if r.Runs == nil {
		return
	}
	rl := &domain.RunLog{
		DataType:   dataType,
		SourceFile: sourceFile,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Status:     "success",
	}
	if result != nil {
		rl.RowsRead = result.RowsRead
		if result.Summary != nil {
			rl.RowsLoaded = result.Summary.NewCount
			rl.Dropped = result.Summary.Dropped
		}
	}
	if runErr != nil {
		rl.Status = "error"
		rl.Error = runErr.Error()
	}
	if err := r.Runs.Create(ctx, rl); err != nil {
		log.Printf("pipeline: record run log: %v", err)
	}
}
