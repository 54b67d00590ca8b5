// Package telegram is the chat front end: commands, uploads and callbacks.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

const pollRetryDelay = 3 * time.Second

// Bot routes updates to commands, uploads and callback handlers.
type Bot struct {
	api    API
	jobs   Jobs
	prefs  Preferences
	access Access
	logger zerolog.Logger
}

func NewBot(api API, jobs Jobs, prefs Preferences, access Access, logger zerolog.Logger) *Bot {
	return &Bot{
		api:    api,
		jobs:   jobs,
		prefs:  prefs,
		access: access,
		logger: logger.With().Str("component", "telegram_bot").Logger(),
	}
}

// Commands is the menu registered with setMyCommands.
func Commands() []tg.BotCommand {
	return []tg.BotCommand{
		{Command: "start", Description: "Welcome and supported formats"},
		{Command: "settings", Description: "Choose the default output format"},
		{Command: "format", Description: "Set the format: /format azw3|epub|mobi"},
		{Command: "queue", Description: "Show the queue and your jobs"},
		{Command: "help", Description: "How to use the bot"},
	}
}

// Poll long-polls getUpdates until ctx ends.
func (b *Bot) Poll(ctx context.Context, timeout time.Duration) error {
	b.logger.Info().Dur("timeout", timeout).Msg("starting poll loop")
	var offset int64
	for {
		updates, next, err := b.api.GetUpdates(ctx, offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info().Msg("poll loop stopped")
				return nil
			}
			b.logger.Warn().Err(err).Msg("getUpdates failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		offset = next
		for _, u := range updates {
			b.HandleUpdate(ctx, u)
		}
	}
}

// HandleUpdate processes one update. It never panics on malformed input.
func (b *Bot) HandleUpdate(ctx context.Context, u tg.Update) {
	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.From != nil:
		msg := u.Message
		if msg.Document != nil {
			b.handleDocument(ctx, msg)
			return
		}
		if strings.HasPrefix(strings.TrimSpace(msg.Text), "/") {
			b.handleCommand(ctx, msg)
			return
		}
		if msg.Text != "" {
			b.reply(ctx, msg.Chat.ID, textUnknownCommand, nil)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tg.Message) {
	userID := msg.From.ID
	if err := b.access.Authorize(userID); err != nil {
		b.reply(ctx, msg.Chat.ID, textNotAllowed, nil)
		return
	}

	cmd, arg := splitCommand(msg.Text)
	switch cmd {
	case "/start", "/help":
		b.reply(ctx, msg.Chat.ID, welcomeText(b.preferredFormat(ctx, userID), b.maxUploadMB(), b.jobs.QueueCapacity()), nil)
	case "/settings":
		current := b.preferredFormat(ctx, userID)
		b.reply(ctx, msg.Chat.ID, settingsText(current, b.jobs.QueueSize(), b.jobs.QueueCapacity()), formatKeyboard(current))
	case "/format":
		if arg == "" {
			current := b.preferredFormat(ctx, userID)
			b.reply(ctx, msg.Chat.ID, settingsText(current, b.jobs.QueueSize(), b.jobs.QueueCapacity()), formatKeyboard(current))
			return
		}
		format, err := book.ParseFormat(arg)
		if err != nil {
			b.reply(ctx, msg.Chat.ID, unknownFormatText(arg), nil)
			return
		}
		if err := b.prefs.Set(ctx, userID, format); err != nil {
			b.logger.Error().Err(err).Int64("user_id", userID).Msg("preference update failed")
			b.reply(ctx, msg.Chat.ID, textInternal, nil)
			return
		}
		b.reply(ctx, msg.Chat.ID, formatSetText(format), nil)
	case "/queue":
		b.reply(ctx, msg.Chat.ID, queueText(b.jobs.QueueSize(), b.jobs.QueueCapacity(), b.jobs.Jobs(userID), b.jobs.Position), nil)
	default:
		b.reply(ctx, msg.Chat.ID, textUnknownCommand, nil)
	}
}

func (b *Bot) handleDocument(ctx context.Context, msg *tg.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	doc := msg.Document
	logger := b.logger.With().Int64("user_id", userID).Str("file", doc.FileName).Logger()

	if err := b.access.Authorize(userID); err != nil {
		logger.Info().Msg("upload from user outside allowlist")
		b.reply(ctx, chatID, textNotAllowed, nil)
		return
	}

	format := b.preferredFormat(ctx, userID)
	if override, err := book.ParseFormat(msg.Caption); err == nil {
		format = override
	}
	upload := conversion.Upload{
		UserID:   userID,
		ChatID:   chatID,
		FileID:   doc.FileID,
		FileName: doc.FileName,
		FileSize: doc.FileSize,
		Format:   format,
	}

	if err := b.jobs.Validate(upload); err != nil {
		logger.Info().Err(err).Int64("bytes", doc.FileSize).Msg("upload rejected")
		b.reply(ctx, chatID, b.rejectionText(err), nil)
		return
	}

	status, err := b.api.SendMessage(ctx, tg.SendMessageParams{
		ChatID:           chatID,
		Text:             receivedText(doc.FileName, format),
		ParseMode:        tg.ParseModeHTML,
		ReplyToMessageID: msg.MessageID,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("status message failed")
		return
	}
	upload.StatusMessageID = status.MessageID

	if _, _, err := b.jobs.Submit(ctx, upload); err != nil {
		logger.Warn().Err(err).Msg("upload not queued")
		b.edit(ctx, chatID, status.MessageID, b.rejectionText(err), nil)
	}
}

func (b *Bot) handleCallback(ctx context.Context, q *tg.CallbackQuery) {
	userID := q.From.ID
	if err := b.access.Authorize(userID); err != nil {
		b.answer(ctx, q.ID, textNotAllowed, true)
		return
	}

	switch {
	case strings.HasPrefix(q.Data, callbackFormat):
		b.handleFormatChoice(ctx, q, strings.TrimPrefix(q.Data, callbackFormat))
	case strings.HasPrefix(q.Data, callbackCancel):
		b.handleCancel(ctx, q, strings.TrimPrefix(q.Data, callbackCancel))
	default:
		b.answer(ctx, q.ID, "", false)
	}
}

func (b *Bot) handleFormatChoice(ctx context.Context, q *tg.CallbackQuery, raw string) {
	format, err := book.ParseFormat(raw)
	if err != nil {
		b.answer(ctx, q.ID, "Unknown format", true)
		return
	}
	if err := b.prefs.Set(ctx, q.From.ID, format); err != nil {
		b.logger.Error().Err(err).Int64("user_id", q.From.ID).Msg("preference update failed")
		b.answer(ctx, q.ID, "Could not save the setting, try again later", true)
		return
	}
	b.answer(ctx, q.ID, "Default format: "+format.Label(), false)
	if q.Message != nil {
		b.edit(ctx, q.Message.Chat.ID, q.Message.MessageID,
			settingsText(format, b.jobs.QueueSize(), b.jobs.QueueCapacity()), formatKeyboard(format))
	}
}

func (b *Bot) handleCancel(ctx context.Context, q *tg.CallbackQuery, jobID string) {
	owner := q.From.ID
	if b.access.IsAdmin(owner) {
		owner = 0
	}
	_, err := b.jobs.Cancel(ctx, jobID, owner)
	switch {
	case err == nil:
		b.answer(ctx, q.ID, "Cancelled", false)
	case errors.Is(err, conversion.ErrJobStarted):
		b.answer(ctx, q.ID, textJobStarted, true)
	case errors.Is(err, conversion.ErrNotOwner):
		b.answer(ctx, q.ID, textNotOwner, true)
	case errors.Is(err, conversion.ErrJobNotFound):
		b.answer(ctx, q.ID, "", false)
		if q.Message != nil {
			b.edit(ctx, q.Message.Chat.ID, q.Message.MessageID, textJobGone, nil)
		}
	default:
		b.logger.Error().Err(err).Str("job_id", jobID).Msg("cancel failed")
		b.answer(ctx, q.ID, textInternal, true)
	}
}

func (b *Bot) rejectionText(err error) string {
	switch {
	case errors.Is(err, conversion.ErrUnsupportedType):
		return unsupportedText()
	case errors.Is(err, conversion.ErrTooLarge):
		return tooLargeText(b.maxUploadMB())
	case errors.Is(err, conversion.ErrQueueFull):
		return queueFullText(b.jobs.QueueSize(), b.jobs.QueueCapacity())
	case errors.Is(err, conversion.ErrEmptyUpload):
		return textEmptyUpload
	case errors.Is(err, conversion.ErrDownload):
		return textDownloadFailed
	default:
		return textInternal
	}
}

func (b *Bot) preferredFormat(ctx context.Context, userID int64) book.Format {
	format, err := b.prefs.Get(ctx, userID)
	if err != nil {
		b.logger.Warn().Err(err).Int64("user_id", userID).Msg("preference lookup failed, using default")
		return book.DefaultFormat
	}
	return format
}

func (b *Bot) maxUploadMB() int64 {
	return b.jobs.MaxUploadBytes() >> 20
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string, markup *tg.InlineKeyboardMarkup) {
	_, err := b.api.SendMessage(ctx, tg.SendMessageParams{ChatID: chatID, Text: text, ParseMode: tg.ParseModeHTML, ReplyMarkup: markup})
	if err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send message failed")
	}
}

func (b *Bot) edit(ctx context.Context, chatID, messageID int64, text string, markup *tg.InlineKeyboardMarkup) {
	err := b.api.EditMessageText(ctx, tg.EditMessageTextParams{ChatID: chatID, MessageID: messageID, Text: text, ParseMode: tg.ParseModeHTML, ReplyMarkup: markup})
	if err != nil && !tg.IsNotModified(err) {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("edit message failed")
	}
}

func (b *Bot) answer(ctx context.Context, id, text string, alert bool) {
	if err := b.api.AnswerCallbackQuery(ctx, id, text, alert); err != nil {
		b.logger.Debug().Err(err).Msg("answer callback failed")
	}
}

// splitCommand returns "/cmd" without any @botname suffix, and its argument.
func splitCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	cmd, rest, _ := strings.Cut(text, " ")
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), strings.TrimSpace(rest)
}
