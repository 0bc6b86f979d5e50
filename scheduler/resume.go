package scheduler

import (
	"context"
	"errors"

	funcflow "github.com/BDbread72/qonvo-sub000"
	"github.com/BDbread72/qonvo-sub000/batchstore"
)

var errNoImages = errors.New("image model batch returned no images")

// ResumedBatch is the outcome of polling one persisted batch job after a
// restart. Err is non-nil when the job failed or expired; the job has
// already been evicted from the registry in every case.
type ResumedBatch struct {
	Job     batchstore.BatchJob
	Results []funcflow.SampleResult
	Err     error
}

// ResumePendingBatches polls every persisted batch job for the sampler's
// board and feeds each outcome to deliver. Polling runs through ordinary
// scheduler admission, so resumed jobs compete with live runs for capacity.
//
// The provider must implement funcflow.BatchPoller; otherwise the persisted
// jobs are left in place and zero is returned. Returns the number of jobs
// whose polling was started.
func (s *Sampler) ResumePendingBatches(ctx context.Context, deliver func(ResumedBatch)) int {
	if s.store == nil {
		return 0
	}
	poller, ok := s.provider.(funcflow.BatchPoller)
	if !ok {
		s.logger.Warn("provider cannot poll batch jobs, leaving registry untouched")
		return 0
	}

	jobs := s.store.JobsForBoard(s.boardName)
	if len(jobs) == 0 {
		return 0
	}
	s.logger.Info("resuming pending batch jobs", "count", len(jobs), "board", s.boardName)

	for _, job := range jobs {
		job := job
		s.sched.Submit(ctx, func(runCtx context.Context) {
			results, err := poller.PollBatchJob(runCtx, job.JobName, job.KeyIndex, job.IsImageModel)
			if rmErr := s.store.RemoveJob(job.JobName); rmErr != nil {
				s.logger.Warn("failed to deregister resumed job", "job", job.JobName, "error", rmErr)
			}
			if err != nil {
				s.logger.Warn("batch job resume failed", "job", job.JobName, "error", err)
				deliver(ResumedBatch{Job: job, Err: err})
				return
			}
			if job.IsImageModel && !anyImages(results) {
				s.logger.Warn("resumed image batch returned no images", "job", job.JobName)
				deliver(ResumedBatch{Job: job, Err: errNoImages})
				return
			}
			deliver(ResumedBatch{Job: job, Results: results})
		})
	}
	return len(jobs)
}
