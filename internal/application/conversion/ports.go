package conversion

import (
	"context"
	"time"

	"kindlegarden/internal/domain/book"
)

// Request describes one converter invocation.
type Request struct {
	InputPath  string
	OutputPath string
	Format     book.Format
	CoverPath  string
}

// Converter is an application port for the external conversion tool.
type Converter interface {
	Convert(ctx context.Context, req Request) error
}

// MetadataReader is an application port for the external metadata tool.
type MetadataReader interface {
	ReadInfo(ctx context.Context, inputPath string) (book.Info, error)
	ExtractCover(ctx context.Context, inputPath, coverPath string) (bool, error)
}

// Paths are the temporary locations reserved for a job.
type Paths struct {
	Source   string
	Unpacked string
	Cover    string
	Output   string
}

// Workspace is an application port for job-scoped temporary files.
type Workspace interface {
	JobPaths(jobID, suffix string, format book.Format) Paths
	Unpack(archivePath, dstPath string) error
	Digest(path string) (string, error)
	FileSize(path string) (int64, error)
	Remove(paths ...string) []error
}

// Downloader fetches an uploaded file from the chat platform.
type Downloader interface {
	Download(ctx context.Context, fileID, dstPath string, maxBytes int64) (int64, error)
}

// Notifier reports job lifecycle events back to the submitter.
type Notifier interface {
	JobQueued(ctx context.Context, job book.Job, position int) error
	JobConverting(ctx context.Context, job book.Job) error
	JobInfo(ctx context.Context, job book.Job) error
	// JobCompleted delivers the converted file and returns a platform
	// reference that can be re-sent later without re-uploading.
	JobCompleted(ctx context.Context, job book.Job) (string, error)
	JobCompletedCached(ctx context.Context, job book.Job, fileRef string) error
	JobFailed(ctx context.Context, job book.Job, reason string) error
	JobCancelled(ctx context.Context, job book.Job) error
}

// ResultCache remembers delivered files by source digest and format.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
