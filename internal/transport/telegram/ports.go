package telegram

import (
	"context"
	"time"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

// API is the subset of the Bot API client the front end drives.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]tg.Update, int64, error)
	SendMessage(ctx context.Context, params tg.SendMessageParams) (tg.Message, error)
	EditMessageText(ctx context.Context, params tg.EditMessageTextParams) error
	SendDocument(ctx context.Context, params tg.DocumentParams) (tg.Message, error)
	SendDocumentByID(ctx context.Context, chatID int64, fileID, caption, parseMode string) (tg.Message, error)
	AnswerCallbackQuery(ctx context.Context, id, text string, alert bool) error
}

// Jobs is the conversion use-case surface the bot needs.
type Jobs interface {
	Validate(u conversion.Upload) error
	Submit(ctx context.Context, u conversion.Upload) (book.Job, int, error)
	Cancel(ctx context.Context, id string, userID int64) (book.Job, error)
	Jobs(userID int64) []book.Job
	Position(id string) int
	QueueSize() int
	QueueCapacity() int
	MaxUploadBytes() int64
}

// Preferences stores each user's output format.
type Preferences interface {
	Get(ctx context.Context, userID int64) (book.Format, error)
	Set(ctx context.Context, userID int64, format book.Format) error
}

// Access decides who may use the bot.
type Access interface {
	Authorize(userID int64) error
	IsAdmin(userID int64) bool
}
