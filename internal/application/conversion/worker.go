package conversion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"kindlegarden/internal/domain/book"
)

// Run pulls jobs one at a time until ctx ends. A failing or panicking job
// never stops the loop.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Int("capacity", s.queue.Capacity()).Msg("conversion worker started")
	for {
		id, err := s.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Info().Msg("conversion worker stopped")
				return nil
			}
			return err
		}

		if err := s.safeProcess(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("job_id", id).Dur("delay", s.opts.RestartDelay).Msg("worker recovered from unexpected error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.opts.RestartDelay):
			}
		}
	}
}

func (s *Service) safeProcess(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	s.process(ctx, id)
	return nil
}

func (s *Service) process(ctx context.Context, id string) {
	job, ok := s.jobs.Start(id)
	if !ok {
		s.logger.Debug().Str("job_id", id).Msg("skipping withdrawn job")
		return
	}
	logger := s.jobLogger(job)
	logger.Info().Str("file", job.FileName).Str("format", string(job.Format)).Msg("conversion started")

	reported := false
	defer func() {
		if !reported {
			s.fail(ctx, logger, &job, "internal error while converting")
		}
		s.finalize(logger, job)
	}()

	if err := s.notifier.JobConverting(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("status update failed")
	}

	input := job.SourcePath
	if job.UnpackedPath != "" {
		if err := s.workspace.Unpack(job.SourcePath, job.UnpackedPath); err != nil {
			logger.Warn().Err(err).Msg("archive unpack failed")
			s.fail(ctx, logger, &job, "could not unpack archive: "+err.Error())
			reported = true
			return
		}
		input = job.UnpackedPath
	}

	cacheKey := s.cacheKey(logger, input, job.Format)
	if cacheKey != "" && s.deliverCached(ctx, logger, &job, cacheKey) {
		reported = true
		return
	}

	job.Info = s.readInfo(ctx, logger, input, job.CoverPath)
	s.jobs.Update(job.ID, func(j *book.Job) { j.Info = job.Info })
	if err := s.notifier.JobInfo(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("status update failed")
	}

	req := Request{InputPath: input, OutputPath: job.OutputPath, Format: job.Format}
	if job.Info.HasCover {
		req.CoverPath = job.CoverPath
	}

	convertCtx, cancel := context.WithTimeout(ctx, s.opts.ConvertTimeout)
	err := s.converter.Convert(convertCtx, req)
	timedOut := err != nil && errors.Is(convertCtx.Err(), context.DeadlineExceeded)
	cancel()

	if timedOut {
		logger.Warn().Dur("timeout", s.opts.ConvertTimeout).Msg("conversion timed out")
		s.fail(ctx, logger, &job, fmt.Sprintf("conversion timed out after %s", s.opts.ConvertTimeout))
		reported = true
		return
	}
	if err != nil {
		logger.Warn().Err(err).Msg("conversion failed")
		s.fail(ctx, logger, &job, err.Error())
		reported = true
		return
	}
	if size, err := s.workspace.FileSize(job.OutputPath); err != nil || size == 0 {
		logger.Warn().Err(err).Int64("bytes", size).Msg("converter produced no output")
		s.fail(ctx, logger, &job, "converter produced no output file")
		reported = true
		return
	}

	fileRef, err := s.notifier.JobCompleted(ctx, job)
	if err != nil {
		logger.Warn().Err(err).Msg("result delivery failed")
		s.fail(ctx, logger, &job, "could not deliver the converted file")
		reported = true
		return
	}
	reported = true
	s.markDone(&job, book.StateCompleted, "")
	logger.Info().Dur("took", time.Since(job.StartedAt)).Msg("conversion completed")

	if cacheKey != "" && fileRef != "" {
		if err := s.cache.Set(ctx, cacheKey, []byte(fileRef), s.opts.CacheTTL); err != nil {
			logger.Warn().Err(err).Msg("result cache store failed")
		}
	}
}

func (s *Service) readInfo(ctx context.Context, logger zerolog.Logger, input, coverPath string) book.Info {
	metaCtx, cancel := context.WithTimeout(ctx, s.opts.MetadataTimeout)
	defer cancel()

	info, err := s.metadata.ReadInfo(metaCtx, input)
	if err != nil {
		logger.Debug().Err(err).Msg("metadata unavailable")
	}
	if s.opts.ExtractCover {
		found, err := s.metadata.ExtractCover(metaCtx, input, coverPath)
		if err != nil {
			logger.Debug().Err(err).Msg("cover extraction failed")
		}
		info.HasCover = found
	}
	return info
}

func (s *Service) cacheKey(logger zerolog.Logger, input string, format book.Format) string {
	if s.cache == nil {
		return ""
	}
	digest, err := s.workspace.Digest(input)
	if err != nil {
		logger.Debug().Err(err).Msg("source digest failed")
		return ""
	}
	return "result:" + digest + ":" + string(format)
}

func (s *Service) deliverCached(ctx context.Context, logger zerolog.Logger, job *book.Job, key string) bool {
	ref, err := s.cache.Get(ctx, key)
	if err != nil || len(ref) == 0 {
		return false
	}
	if err := s.notifier.JobCompletedCached(ctx, *job, string(ref)); err != nil {
		logger.Warn().Err(err).Msg("cached delivery failed, converting again")
		return false
	}
	s.markDone(job, book.StateCompleted, "")
	logger.Info().Msg("conversion served from cache")
	return true
}

func (s *Service) fail(ctx context.Context, logger zerolog.Logger, job *book.Job, reason string) {
	diagnostic := Truncate(reason, s.opts.DiagnosticLimit)
	s.markDone(job, book.StateFailed, diagnostic)
	if err := s.notifier.JobFailed(ctx, *job, diagnostic); err != nil {
		logger.Error().Err(err).Msg("failure notification failed")
	}
}

func (s *Service) markDone(job *book.Job, state book.JobState, reason string) {
	job.State = state
	job.Error = reason
	job.FinishedAt = time.Now()
	s.jobs.Update(job.ID, func(j *book.Job) {
		j.State = state
		j.Error = reason
		j.FinishedAt = job.FinishedAt
	})
}

func (s *Service) finalize(logger zerolog.Logger, job book.Job) {
	s.removeFiles(logger, job)
	s.jobs.Delete(job.ID)
}

// Truncate keeps the last limit runes of a diagnostic; tool errors end with
// the interesting part.
func Truncate(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return "…" + string(runes[len(runes)-limit+1:])
}
