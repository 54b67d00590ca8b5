package book

import "time"

// JobState describes conversion status.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateConverting JobState = "converting"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job is one user's request to convert one uploaded file.
type Job struct {
	ID       string
	UserID   int64
	ChatID   int64
	FileID   string
	FileName string
	FileSize int64
	Format   Format

	SourcePath   string
	UnpackedPath string
	CoverPath    string
	OutputPath   string

	State           JobState
	StatusMessageID int64
	Info            Info
	Error           string

	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// OutputName is the file name shown to the user for the converted book.
func (j Job) OutputName() string {
	stem := Stem(j.FileName)
	if stem == "" {
		stem = "book"
	}
	return stem + j.Format.Extension()
}

// Files lists every temporary path that belongs to the job.
func (j Job) Files() []string {
	files := make([]string, 0, 4)
	for _, p := range []string{j.SourcePath, j.UnpackedPath, j.CoverPath, j.OutputPath} {
		if p != "" {
			files = append(files, p)
		}
	}
	return files
}
