package telegram

import (
	"context"
	"errors"
	"sync"
	"time"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
	tg "kindlegarden/internal/infrastructure/telegram"
)

type stubAPI struct {
	mu        sync.Mutex
	nextID    int64
	sent      []tg.SendMessageParams
	edits     []tg.EditMessageTextParams
	documents []tg.DocumentParams
	resent    []string
	answers   []string
	editErr   error
	docErr    error
	updates   [][]tg.Update
	polls     int
}

func (a *stubAPI) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]tg.Update, int64, error) {
	a.mu.Lock()
	a.polls++
	if len(a.updates) > 0 {
		batch := a.updates[0]
		a.updates = a.updates[1:]
		a.mu.Unlock()
		next := offset
		for _, u := range batch {
			next = u.UpdateID + 1
		}
		return batch, next, nil
	}
	a.mu.Unlock()
	<-ctx.Done()
	return nil, offset, ctx.Err()
}

func (a *stubAPI) SendMessage(_ context.Context, p tg.SendMessageParams) (tg.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.sent = append(a.sent, p)
	return tg.Message{MessageID: 100 + a.nextID, Chat: tg.Chat{ID: p.ChatID}}, nil
}

func (a *stubAPI) EditMessageText(_ context.Context, p tg.EditMessageTextParams) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.edits = append(a.edits, p)
	return a.editErr
}

func (a *stubAPI) SendDocument(_ context.Context, p tg.DocumentParams) (tg.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.docErr != nil {
		return tg.Message{}, a.docErr
	}
	a.documents = append(a.documents, p)
	return tg.Message{MessageID: 900, Document: &tg.Document{FileID: "uploaded-file"}}, nil
}

func (a *stubAPI) SendDocumentByID(_ context.Context, _ int64, fileID, _, _ string) (tg.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.docErr != nil {
		return tg.Message{}, a.docErr
	}
	a.resent = append(a.resent, fileID)
	return tg.Message{MessageID: 901}, nil
}

func (a *stubAPI) AnswerCallbackQuery(_ context.Context, _ string, text string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.answers = append(a.answers, text)
	return nil
}

func (a *stubAPI) lastSent() tg.SendMessageParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return tg.SendMessageParams{}
	}
	return a.sent[len(a.sent)-1]
}

type stubJobs struct {
	validateErr error
	submitErr   error
	cancelErr   error
	submitted   []conversion.Upload
	cancelled   []int64
	jobs        []book.Job
	size        int
}

func (j *stubJobs) Validate(conversion.Upload) error { return j.validateErr }

func (j *stubJobs) Submit(_ context.Context, u conversion.Upload) (book.Job, int, error) {
	if j.submitErr != nil {
		return book.Job{}, 0, j.submitErr
	}
	j.submitted = append(j.submitted, u)
	return book.Job{ID: "job-1"}, 1, nil
}

func (j *stubJobs) Cancel(_ context.Context, _ string, userID int64) (book.Job, error) {
	j.cancelled = append(j.cancelled, userID)
	return book.Job{}, j.cancelErr
}

func (j *stubJobs) Jobs(int64) []book.Job { return j.jobs }
func (j *stubJobs) Position(string) int   { return 1 }
func (j *stubJobs) QueueSize() int        { return j.size }
func (j *stubJobs) QueueCapacity() int    { return 5 }
func (j *stubJobs) MaxUploadBytes() int64 { return 20 << 20 }

type stubPrefs struct {
	formats map[int64]book.Format
	getErr  error
}

func (p *stubPrefs) Get(_ context.Context, userID int64) (book.Format, error) {
	if p.getErr != nil {
		return "", p.getErr
	}
	if f, ok := p.formats[userID]; ok {
		return f, nil
	}
	return book.DefaultFormat, nil
}

func (p *stubPrefs) Set(_ context.Context, userID int64, f book.Format) error {
	if p.formats == nil {
		p.formats = map[int64]book.Format{}
	}
	p.formats[userID] = f
	return nil
}

type stubAccess struct {
	denied map[int64]bool
	admins map[int64]bool
}

func (a stubAccess) Authorize(userID int64) error {
	if a.denied[userID] {
		return errors.New("forbidden")
	}
	return nil
}

func (a stubAccess) IsAdmin(userID int64) bool { return a.admins[userID] }
