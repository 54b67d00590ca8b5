package telegram

import (
	"fmt"
	"html"
	"strings"

	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

const (
	callbackFormat = "format:"
	callbackCancel = "cancel:"
)

func esc(s string) string {
	return html.EscapeString(s)
}

func welcomeText(current book.Format, maxMB int64, capacity int) string {
	var b strings.Builder
	b.WriteString("📚 <b>KindleGarden</b>\n\n")
	b.WriteString("Send me a book as FB2 or EPUB and I will convert it for your Kindle.\n\n")
	b.WriteString("<b>Output formats:</b>\n")
	for _, f := range book.Formats() {
		fmt.Fprintf(&b, "• <b>%s</b>: %s\n", f.Label(), esc(f.Description()))
	}
	b.WriteString("\n<b>Good to know:</b>\n")
	fmt.Fprintf(&b, "• Accepted files: %s, up to %d MB\n", strings.Join(book.SupportedSuffixes(), ", "), maxMB)
	fmt.Fprintf(&b, "• Up to %d files wait in the queue; send several in a row\n", capacity)
	b.WriteString("• Put a format name in the file caption to override your default\n\n")
	fmt.Fprintf(&b, "Your format: <b>%s</b>. Change it with /settings.", current.Label())
	return b.String()
}

func settingsText(current book.Format, size, capacity int) string {
	return fmt.Sprintf("⚙️ <b>Settings</b>\n\nDefault format: <b>%s</b>\nQueue: %d / %d\n\nPick the format for your next uploads:",
		current.Label(), size, capacity)
}

func formatKeyboard(current book.Format) *tg.InlineKeyboardMarkup {
	button := func(f book.Format) tg.InlineKeyboardButton {
		text := f.Label()
		switch f {
		case book.FormatAZW3:
			text = "📘 " + text + " (recommended)"
		case book.FormatEPUB:
			text = "📖 " + text
		case book.FormatMOBI:
			text = "📙 " + text + " (legacy)"
		}
		if f == current {
			text = "✓ " + text
		}
		return tg.InlineKeyboardButton{Text: text, CallbackData: callbackFormat + string(f)}
	}
	return &tg.InlineKeyboardMarkup{InlineKeyboard: [][]tg.InlineKeyboardButton{
		{button(book.FormatAZW3), button(book.FormatEPUB)},
		{button(book.FormatMOBI)},
	}}
}

func cancelKeyboard(jobID string) *tg.InlineKeyboardMarkup {
	return &tg.InlineKeyboardMarkup{InlineKeyboard: [][]tg.InlineKeyboardButton{
		{{Text: "🚫 Cancel", CallbackData: callbackCancel + jobID}},
	}}
}

func receivedText(name string, format book.Format) string {
	return fmt.Sprintf("📥 Got <b>%s</b>\nDownloading, target format <b>%s</b>…", esc(name), format.Label())
}

func queuedText(job book.Job, position, secondsPerJob int) string {
	return fmt.Sprintf("📚 <b>%s</b>\n\n⏳ Waiting in queue, format <b>%s</b>\nPosition: %d\nEstimated wait: ~%d s",
		esc(job.FileName), job.Format.Label(), position, position*secondsPerJob)
}

func convertingText(job book.Job) string {
	return fmt.Sprintf("📚 <b>%s</b>\n\n⚙️ Converting to <b>%s</b>…", esc(job.FileName), job.Format.Label())
}

func infoText(job book.Job) string {
	cover := "not found"
	if job.Info.HasCover {
		cover = "found"
	}
	return fmt.Sprintf("📚 <b>%s</b>\n✍️ %s\n🖼 Cover: %s\n\n⚙️ Converting to <b>%s</b>…",
		esc(job.Info.DisplayTitle(job.FileName)), esc(job.Info.DisplayAuthors()), cover, job.Format.Label())
}

func completedCaption(job book.Job, size int64) string {
	caption := fmt.Sprintf("✅ Converted to <b>%s</b>\n\n📚 %s", job.Format.Label(), esc(job.OutputName()))
	if size > 0 {
		caption += fmt.Sprintf("\n📦 %.1f KB", float64(size)/1024)
	}
	return caption
}

func doneText(job book.Job) string {
	return fmt.Sprintf("📚 <b>%s</b>\n\n✅ Done! The file is ready to send to your Kindle. 🚀\nSend another file to convert it.", esc(job.FileName))
}

func failedText(job book.Job, reason string) string {
	text := fmt.Sprintf("❌ Could not convert <b>%s</b>.\n\nCommon causes:\n• a damaged FB2\n• unusual formatting\n• a file that is too large\n\nTry another file or format.", esc(job.FileName))
	if reason = strings.TrimSpace(reason); reason != "" {
		text += "\n\n<pre>" + esc(reason) + "</pre>"
	}
	return text
}

func failedStatusText(job book.Job) string {
	return fmt.Sprintf("📚 <b>%s</b>\n\n❌ Conversion failed.", esc(job.FileName))
}

func cancelledText(job book.Job) string {
	return fmt.Sprintf("🚫 Conversion of <b>%s</b> cancelled.", esc(job.FileName))
}

func queueText(size, capacity int, jobs []book.Job, position func(string) int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Queue</b>: %d / %d\n", size, capacity)
	if len(jobs) == 0 {
		b.WriteString("\nYou have no jobs in progress.")
		return b.String()
	}
	b.WriteString("\n<b>Your jobs:</b>\n")
	for _, job := range jobs {
		state := string(job.State)
		if job.State == book.StateQueued {
			if pos := position(job.ID); pos > 0 {
				state = fmt.Sprintf("queued, #%d", pos)
			}
		}
		fmt.Fprintf(&b, "• %s → %s (%s)\n", esc(job.FileName), job.Format.Label(), state)
	}
	return strings.TrimRight(b.String(), "\n")
}

const (
	textNotAllowed     = "⛔ Sorry, this bot is private."
	textEmptyUpload    = "⚠️ The file is empty. Please send it again."
	textDownloadFailed = "❌ Could not download the file. Please send it again."
	textInternal       = "❌ Something went wrong. Please try again later."
	textUnknownCommand = "Send me an .fb2, .fb2.zip or .epub file, or use /help."
	textJobGone        = "⚠️ This job was already processed or removed."
	textJobStarted     = "⚠️ Conversion has already started and cannot be cancelled. The result will arrive shortly."
	textNotOwner       = "⚠️ This is not your job."
)

func unsupportedText() string {
	return "⚠️ I only accept FB2 and EPUB books.\nSupported: " + strings.Join(book.SupportedSuffixes(), ", ")
}

func tooLargeText(maxMB int64) string {
	return fmt.Sprintf("⚠️ The file is too large (max %d MB).", maxMB)
}

func queueFullText(size, capacity int) string {
	return fmt.Sprintf("⏸️ The queue is full (%d / %d files).\nPlease try again in a minute.", size, capacity)
}

func formatSetText(format book.Format) string {
	return fmt.Sprintf("✅ Default format set to <b>%s</b>.", format.Label())
}

func unknownFormatText(raw string) string {
	names := make([]string, 0, len(book.Formats()))
	for _, f := range book.Formats() {
		names = append(names, string(f))
	}
	return fmt.Sprintf("⚠️ Unknown format %q. Choose one of: %s.", esc(raw), strings.Join(names, ", "))
}
