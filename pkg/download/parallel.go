package download

import (
	"context"
	"sync"

	"github.com/go-localmodel/pkg/utils"
)

// Job is one artifact to fetch ahead of installation
type Job struct {
	Name       string
	URL        string
	Downloader Downloader
}

// Result represents the result of a download job
type Result struct {
	Job   Job
	Path  string
	Error error
}

// DownloadAll runs jobs in parallel, at most maxConcurrency at a time.
// With cleanupOnFailure, partial files of failed jobs are removed instead of kept for resuming.
func DownloadAll(ctx context.Context, jobs []Job, maxConcurrency int, cleanupOnFailure bool, logger *utils.Logger) []Result {
	if maxConcurrency <= 0 {
		maxConcurrency = len(jobs)
	}

	var wg sync.WaitGroup
	results := make([]Result, len(jobs))
	semaphore := make(chan struct{}, maxConcurrency)
	cleanup := NewCleanupTracker(logger)

	for i, job := range jobs {
		wg.Add(1)

		go func(index int, job Job) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				results[index] = Result{Job: job, Error: ctx.Err()}
				return
			}
			defer func() { <-semaphore }()

			logger.Debug("Starting download: %s", job.Name)
			dest := job.Downloader.Destination(job.URL)
			cleanup.TrackFile(dest)

			path, err := job.Downloader.DownloadWithVerification(ctx, job.URL)
			if err == nil {
				cleanup.MarkSuccess(dest)
			}
			results[index] = Result{Job: job, Path: path, Error: err}
		}(i, job)
	}

	wg.Wait()

	if cleanupOnFailure {
		if err := cleanup.Cleanup(); err != nil {
			logger.Error("Cleanup after failed downloads: %v", err)
		}
	}
	return results
}
