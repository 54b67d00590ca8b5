package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

type botFixture struct {
	bot    *Bot
	api    *stubAPI
	jobs   *stubJobs
	prefs  *stubPrefs
	access stubAccess
}

func newBotFixture() *botFixture {
	f := &botFixture{
		api:    &stubAPI{},
		jobs:   &stubJobs{},
		prefs:  &stubPrefs{},
		access: stubAccess{denied: map[int64]bool{}, admins: map[int64]bool{}},
	}
	f.bot = NewBot(f.api, f.jobs, f.prefs, f.access, zerolog.Nop())
	return f
}

func textUpdate(userID int64, text string) tg.Update {
	return tg.Update{Message: &tg.Message{
		MessageID: 1,
		Chat:      tg.Chat{ID: userID},
		From:      &tg.User{ID: userID},
		Text:      text,
	}}
}

func documentUpdate(userID int64, name, caption string) tg.Update {
	return tg.Update{Message: &tg.Message{
		MessageID: 7,
		Chat:      tg.Chat{ID: userID},
		From:      &tg.User{ID: userID},
		Caption:   caption,
		Document:  &tg.Document{FileID: "file-1", FileName: name, FileSize: 1024},
	}}
}

func callbackUpdate(userID int64, data string) tg.Update {
	return tg.Update{CallbackQuery: &tg.CallbackQuery{
		ID:      "cb-1",
		From:    tg.User{ID: userID},
		Data:    data,
		Message: &tg.Message{MessageID: 55, Chat: tg.Chat{ID: userID}},
	}}
}

func TestSplitCommand(t *testing.T) {
	cmd, arg := splitCommand("/Format@KindleBot  epub ")
	assert.Equal(t, "/format", cmd)
	assert.Equal(t, "epub", arg)

	cmd, arg = splitCommand("/start")
	assert.Equal(t, "/start", cmd)
	assert.Empty(t, arg)
}

func TestBot_StartShowsCurrentFormat(t *testing.T) {
	f := newBotFixture()
	f.prefs.formats = map[int64]book.Format{1: book.FormatEPUB}

	f.bot.HandleUpdate(context.Background(), textUpdate(1, "/start"))

	sent := f.api.lastSent()
	assert.Equal(t, int64(1), sent.ChatID)
	assert.Contains(t, sent.Text, book.FormatEPUB.Label())
}

func TestBot_SettingsOffersKeyboard(t *testing.T) {
	f := newBotFixture()
	f.bot.HandleUpdate(context.Background(), textUpdate(1, "/settings"))

	sent := f.api.lastSent()
	require.NotNil(t, sent.ReplyMarkup)
	buttons := 0
	for _, row := range sent.ReplyMarkup.InlineKeyboard {
		buttons += len(row)
	}
	assert.Equal(t, len(book.Formats()), buttons)
}

func TestBot_FormatCommand(t *testing.T) {
	f := newBotFixture()

	f.bot.HandleUpdate(context.Background(), textUpdate(3, "/format mobi"))
	assert.Equal(t, book.FormatMOBI, f.prefs.formats[3])

	f.bot.HandleUpdate(context.Background(), textUpdate(3, "/format pdf"))
	assert.Contains(t, f.api.lastSent().Text, "Unknown format")
	assert.Equal(t, book.FormatMOBI, f.prefs.formats[3])
}

func TestBot_UnknownCommand(t *testing.T) {
	f := newBotFixture()
	f.bot.HandleUpdate(context.Background(), textUpdate(1, "/nope"))
	assert.Equal(t, textUnknownCommand, f.api.lastSent().Text)
}

func TestBot_DeniedUser(t *testing.T) {
	f := newBotFixture()
	f.access.denied[9] = true

	f.bot.HandleUpdate(context.Background(), documentUpdate(9, "book.fb2", ""))

	assert.Equal(t, textNotAllowed, f.api.lastSent().Text)
	assert.Empty(t, f.jobs.submitted)
}

func TestBot_DocumentUsesPreference(t *testing.T) {
	f := newBotFixture()
	f.prefs.formats = map[int64]book.Format{4: book.FormatEPUB}

	f.bot.HandleUpdate(context.Background(), documentUpdate(4, "book.fb2", ""))

	require.Len(t, f.jobs.submitted, 1)
	upload := f.jobs.submitted[0]
	assert.Equal(t, book.FormatEPUB, upload.Format)
	assert.Equal(t, "file-1", upload.FileID)
	assert.Equal(t, int64(4), upload.ChatID)
	assert.NotZero(t, upload.StatusMessageID)

	require.Len(t, f.api.sent, 1)
	assert.Equal(t, int64(7), f.api.sent[0].ReplyToMessageID)
}

func TestBot_DocumentCaptionOverridesFormat(t *testing.T) {
	f := newBotFixture()
	f.bot.HandleUpdate(context.Background(), documentUpdate(4, "book.epub", " MOBI "))

	require.Len(t, f.jobs.submitted, 1)
	assert.Equal(t, book.FormatMOBI, f.jobs.submitted[0].Format)
}

func TestBot_DocumentRejections(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"unsupported", conversion.ErrUnsupportedType, "only accept"},
		{"too large", conversion.ErrTooLarge, "max 20 MB"},
		{"queue full", conversion.ErrQueueFull, "queue is full"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newBotFixture()
			f.jobs.validateErr = tc.err

			f.bot.HandleUpdate(context.Background(), documentUpdate(1, "book.pdf", ""))

			assert.Contains(t, f.api.lastSent().Text, tc.want)
			assert.Empty(t, f.jobs.submitted)
		})
	}
}

func TestBot_SubmitFailureEditsStatus(t *testing.T) {
	f := newBotFixture()
	f.jobs.submitErr = conversion.ErrDownload

	f.bot.HandleUpdate(context.Background(), documentUpdate(1, "book.fb2", ""))

	require.Len(t, f.api.edits, 1)
	assert.Equal(t, textDownloadFailed, f.api.edits[0].Text)
	assert.Equal(t, f.api.sent[0].ChatID, f.api.edits[0].ChatID)
}

func TestBot_FormatCallback(t *testing.T) {
	f := newBotFixture()

	f.bot.HandleUpdate(context.Background(), callbackUpdate(2, callbackFormat+"epub"))

	assert.Equal(t, book.FormatEPUB, f.prefs.formats[2])
	require.Len(t, f.api.answers, 1)
	require.Len(t, f.api.edits, 1)
	assert.Equal(t, int64(55), f.api.edits[0].MessageID)
	assert.NotNil(t, f.api.edits[0].ReplyMarkup)
}

func TestBot_CancelCallback(t *testing.T) {
	f := newBotFixture()
	f.bot.HandleUpdate(context.Background(), callbackUpdate(2, callbackCancel+"job-1"))
	assert.Equal(t, []int64{2}, f.jobs.cancelled)
	assert.Equal(t, []string{"Cancelled"}, f.api.answers)
}

func TestBot_CancelCallbackAdminSkipsOwnership(t *testing.T) {
	f := newBotFixture()
	f.access.admins[8] = true
	f.bot.HandleUpdate(context.Background(), callbackUpdate(8, callbackCancel+"job-1"))
	assert.Equal(t, []int64{0}, f.jobs.cancelled)
}

func TestBot_CancelCallbackErrors(t *testing.T) {
	f := newBotFixture()
	f.jobs.cancelErr = conversion.ErrJobStarted
	f.bot.HandleUpdate(context.Background(), callbackUpdate(2, callbackCancel+"job-1"))
	assert.Equal(t, []string{textJobStarted}, f.api.answers)

	f = newBotFixture()
	f.jobs.cancelErr = conversion.ErrJobNotFound
	f.bot.HandleUpdate(context.Background(), callbackUpdate(2, callbackCancel+"job-1"))
	require.Len(t, f.api.edits, 1)
	assert.Equal(t, textJobGone, f.api.edits[0].Text)
}

func TestBot_IgnoresUpdatesWithoutSender(t *testing.T) {
	f := newBotFixture()
	f.bot.HandleUpdate(context.Background(), tg.Update{Message: &tg.Message{Text: "/start"}})
	f.bot.HandleUpdate(context.Background(), tg.Update{})
	assert.Empty(t, f.api.sent)
}

func TestBot_PollDispatchesAndStops(t *testing.T) {
	f := newBotFixture()
	f.api.updates = [][]tg.Update{{textUpdate(1, "/queue")}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bot.Poll(ctx, time.Second) }()

	require.Eventually(t, func() bool {
		f.api.mu.Lock()
		defer f.api.mu.Unlock()
		return len(f.api.sent) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poll loop did not stop")
	}
}
