package conversion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"kindlegarden/internal/domain/book"
)

const (
	defaultMaxUploadBytes  = 20 << 20
	defaultConvertTimeout  = 180 * time.Second
	defaultMetadataTimeout = 30 * time.Second
	defaultRestartDelay    = 5 * time.Second
	defaultDiagnosticLimit = 500
	defaultCacheTTL        = 7 * 24 * time.Hour
)

var (
	ErrUnsupportedType = book.ErrUnsupportedType
	ErrTooLarge        = errors.New("file is too large")
	ErrEmptyUpload     = errors.New("uploaded file is empty")
	ErrDownload        = errors.New("download failed")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobStarted      = errors.New("job already started")
	ErrNotOwner        = errors.New("job belongs to another user")
)

// Options tune queueing and the worker.
type Options struct {
	QueueCapacity   int
	MaxUploadBytes  int64
	ConvertTimeout  time.Duration
	MetadataTimeout time.Duration
	RestartDelay    time.Duration
	DiagnosticLimit int
	ExtractCover    bool
	CacheTTL        time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.MaxUploadBytes <= 0 {
		o.MaxUploadBytes = defaultMaxUploadBytes
	}
	if o.ConvertTimeout <= 0 {
		o.ConvertTimeout = defaultConvertTimeout
	}
	if o.MetadataTimeout <= 0 {
		o.MetadataTimeout = defaultMetadataTimeout
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = defaultRestartDelay
	}
	if o.DiagnosticLimit <= 0 {
		o.DiagnosticLimit = defaultDiagnosticLimit
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = defaultCacheTTL
	}
	return o
}

// Deps are the ports the service drives. Cache is optional.
type Deps struct {
	Converter  Converter
	Metadata   MetadataReader
	Workspace  Workspace
	Downloader Downloader
	Notifier   Notifier
	Cache      ResultCache
}

// Upload is a validated-or-not request coming from the chat front end.
type Upload struct {
	UserID          int64
	ChatID          int64
	FileID          string
	FileName        string
	FileSize        int64
	Format          book.Format
	StatusMessageID int64
}

// Service owns the queue, the job registry and the worker.
type Service struct {
	converter  Converter
	metadata   MetadataReader
	workspace  Workspace
	downloader Downloader
	notifier   Notifier
	cache      ResultCache

	opts   Options
	logger zerolog.Logger
	queue  *Queue
	jobs   *jobRegistry
}

// NewService creates a conversion use-case service with injected ports.
func NewService(deps Deps, opts Options, logger zerolog.Logger) *Service {
	opts = opts.withDefaults()
	return &Service{
		converter:  deps.Converter,
		metadata:   deps.Metadata,
		workspace:  deps.Workspace,
		downloader: deps.Downloader,
		notifier:   deps.Notifier,
		cache:      deps.Cache,
		opts:       opts,
		logger:     logger.With().Str("component", "conversion").Logger(),
		queue:      NewQueue(opts.QueueCapacity),
		jobs:       newJobRegistry(),
	}
}

// Validate runs the synchronous upload checks. It has no side effects.
func (s *Service) Validate(u Upload) error {
	if _, err := book.NormalizeUploadName(u.FileName); err != nil {
		return ErrUnsupportedType
	}
	if u.FileSize > s.opts.MaxUploadBytes {
		return ErrTooLarge
	}
	if s.queue.Full() {
		return ErrQueueFull
	}
	return nil
}

// Submit validates an upload, downloads it into the workspace and queues it.
// The returned position is 1-based.
func (s *Service) Submit(ctx context.Context, u Upload) (book.Job, int, error) {
	if err := s.Validate(u); err != nil {
		return book.Job{}, 0, err
	}
	// The slot is held across the download so concurrent uploads cannot
	// all pass validation and overfill the queue.
	if err := s.queue.Reserve(); err != nil {
		return book.Job{}, 0, err
	}
	committed := false
	defer func() {
		if !committed {
			s.queue.Release()
		}
	}()

	name, _ := book.NormalizeUploadName(u.FileName)
	suffix, _ := book.UploadSuffix(name)
	format := u.Format
	if !format.Valid() {
		format = book.DefaultFormat
	}

	id := uuid.NewString()
	paths := s.workspace.JobPaths(id, suffix, format)
	job := book.Job{
		ID:              id,
		UserID:          u.UserID,
		ChatID:          u.ChatID,
		FileID:          u.FileID,
		FileName:        name,
		FileSize:        u.FileSize,
		Format:          format,
		SourcePath:      paths.Source,
		CoverPath:       paths.Cover,
		OutputPath:      paths.Output,
		State:           book.StateQueued,
		StatusMessageID: u.StatusMessageID,
		QueuedAt:        time.Now(),
	}
	if book.IsArchive(suffix) {
		job.UnpackedPath = paths.Unpacked
	}

	logger := s.jobLogger(job)
	n, err := s.downloader.Download(ctx, u.FileID, job.SourcePath, s.opts.MaxUploadBytes)
	if err != nil {
		logger.Warn().Err(err).Msg("upload download failed")
		s.removeFiles(logger, job)
		return book.Job{}, 0, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if n == 0 {
		s.removeFiles(logger, job)
		return book.Job{}, 0, ErrEmptyUpload
	}

	// The queued status is sent before the job becomes visible to the
	// worker, so it can never overwrite the converting status.
	s.jobs.Add(job)
	if err := s.notifier.JobQueued(ctx, job, s.queue.Size()+1); err != nil {
		logger.Warn().Err(err).Msg("queued notification failed")
	}
	position := s.queue.Commit(id)
	committed = true
	logger.Info().Str("file", name).Int64("bytes", n).Str("format", string(format)).Int("position", position).Msg("job queued")

	return job, position, nil
}

// Cancel withdraws a job that has not started yet. userID 0 skips the
// ownership check.
func (s *Service) Cancel(ctx context.Context, id string, userID int64) (book.Job, error) {
	existing, ok := s.jobs.Get(id)
	if !ok {
		return book.Job{}, ErrJobNotFound
	}
	if userID != 0 && existing.UserID != userID {
		return book.Job{}, ErrNotOwner
	}

	job, err := s.jobs.Withdraw(id)
	if err != nil {
		return job, err
	}
	s.queue.Remove(id)

	logger := s.jobLogger(job)
	s.removeFiles(logger, job)
	logger.Info().Msg("job cancelled")

	if err := s.notifier.JobCancelled(ctx, job); err != nil {
		logger.Warn().Err(err).Msg("cancel notification failed")
	}
	return job, nil
}

// Job returns a snapshot of a registered job.
func (s *Service) Job(id string) (book.Job, bool) {
	return s.jobs.Get(id)
}

// Jobs lists registered jobs; userID 0 lists everyone's.
func (s *Service) Jobs(userID int64) []book.Job {
	return s.jobs.List(userID)
}

// Position returns the 1-based queue position of a pending job.
func (s *Service) Position(id string) int {
	return s.queue.Position(id)
}

func (s *Service) QueueSize() int {
	return s.queue.Size()
}

func (s *Service) QueueCapacity() int {
	return s.queue.Capacity()
}

// MaxUploadBytes is the accepted upload ceiling.
func (s *Service) MaxUploadBytes() int64 {
	return s.opts.MaxUploadBytes
}

func (s *Service) jobLogger(job book.Job) zerolog.Logger {
	return s.logger.With().Str("job_id", job.ID).Int64("user_id", job.UserID).Logger()
}

func (s *Service) removeFiles(logger zerolog.Logger, job book.Job) {
	for _, err := range s.workspace.Remove(job.Files()...) {
		logger.Warn().Err(err).Msg("temp file cleanup failed")
	}
}
