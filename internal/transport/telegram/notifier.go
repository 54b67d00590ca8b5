package telegram

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog"

	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

// Notifier reports job progress by editing the job's status message and
// delivers terminal outcomes as new messages.
type Notifier struct {
	api           API
	logger        zerolog.Logger
	secondsPerJob int
}

func NewNotifier(api API, secondsPerJob int, logger zerolog.Logger) *Notifier {
	if secondsPerJob <= 0 {
		secondsPerJob = 25
	}
	return &Notifier{
		api:           api,
		logger:        logger.With().Str("component", "telegram_notifier").Logger(),
		secondsPerJob: secondsPerJob,
	}
}

func (n *Notifier) JobQueued(ctx context.Context, job book.Job, position int) error {
	return n.status(ctx, job, queuedText(job, position, n.secondsPerJob), cancelKeyboard(job.ID))
}

func (n *Notifier) JobConverting(ctx context.Context, job book.Job) error {
	return n.status(ctx, job, convertingText(job), nil)
}

func (n *Notifier) JobInfo(ctx context.Context, job book.Job) error {
	return n.status(ctx, job, infoText(job), nil)
}

// JobCompleted uploads the converted file and returns Telegram's file id.
func (n *Notifier) JobCompleted(ctx context.Context, job book.Job) (string, error) {
	var size int64
	if info, err := os.Stat(job.OutputPath); err == nil {
		size = info.Size()
	}
	msg, err := n.api.SendDocument(ctx, tg.DocumentParams{
		ChatID:    job.ChatID,
		Path:      job.OutputPath,
		FileName:  job.OutputName(),
		Caption:   completedCaption(job, size),
		ParseMode: tg.ParseModeHTML,
	})
	if err != nil {
		return "", err
	}
	n.finish(ctx, job, doneText(job))

	if msg.Document == nil {
		return "", nil
	}
	return msg.Document.FileID, nil
}

func (n *Notifier) JobCompletedCached(ctx context.Context, job book.Job, fileRef string) error {
	if _, err := n.api.SendDocumentByID(ctx, job.ChatID, fileRef, completedCaption(job, 0), tg.ParseModeHTML); err != nil {
		return err
	}
	n.finish(ctx, job, doneText(job))
	return nil
}

func (n *Notifier) JobFailed(ctx context.Context, job book.Job, reason string) error {
	n.finish(ctx, job, failedStatusText(job))
	_, err := n.api.SendMessage(ctx, tg.SendMessageParams{
		ChatID:    job.ChatID,
		Text:      failedText(job, reason),
		ParseMode: tg.ParseModeHTML,
	})
	return err
}

func (n *Notifier) JobCancelled(ctx context.Context, job book.Job) error {
	return n.status(ctx, job, cancelledText(job), nil)
}

// status edits the job's status message, or sends one when the job has none.
func (n *Notifier) status(ctx context.Context, job book.Job, text string, markup *tg.InlineKeyboardMarkup) error {
	if job.StatusMessageID == 0 {
		_, err := n.api.SendMessage(ctx, tg.SendMessageParams{ChatID: job.ChatID, Text: text, ParseMode: tg.ParseModeHTML, ReplyMarkup: markup})
		return err
	}
	err := n.api.EditMessageText(ctx, tg.EditMessageTextParams{
		ChatID:      job.ChatID,
		MessageID:   job.StatusMessageID,
		Text:        text,
		ParseMode:   tg.ParseModeHTML,
		ReplyMarkup: markup,
	})
	if tg.IsNotModified(err) {
		return nil
	}
	return err
}

// finish is a best-effort final edit; the terminal message carries the outcome.
func (n *Notifier) finish(ctx context.Context, job book.Job, text string) {
	if job.StatusMessageID == 0 {
		return
	}
	if err := n.status(ctx, job, text, nil); err != nil && !errors.Is(err, context.Canceled) {
		n.logger.Debug().Err(err).Str("job_id", job.ID).Msg("final status edit failed")
	}
}
