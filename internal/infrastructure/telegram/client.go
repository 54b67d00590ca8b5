// Package telegram is a small Bot API client covering what the bot needs.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	ParseModeHTML  = "HTML"

	maxRetryAfter = 5 * time.Second
)

var ErrFileTooLarge = errors.New("telegram file too large")

// APIError is a Bot API response with ok=false or a non-2xx status.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, e.Description)
}

// IsNotModified reports an edit that would not change the message.
func IsNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "message is not modified")
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters,omitempty"`
}

// Options configure the client. Zero values pick sane defaults.
type Options struct {
	Token         string
	BaseURL       string
	HTTPClient    *http.Client
	RatePerSecond float64
	Burst         int
}

// Client talks to the Bot API. Every outgoing call waits on a shared limiter.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 25
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	return &Client{
		http:    opts.HTTPClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
	}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// call posts a JSON payload and decodes the result. A short flood-control
// wait is honoured once.
func (c *Client) call(ctx context.Context, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram %s: marshal: %w", method, err)
	}
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, method, "application/json", bytes.NewReader(body), result)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.RetryAfter > 0 && apiErr.RetryAfter <= maxRetryAfter {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(apiErr.RetryAfter):
			}
			continue
		}
		return err
	}
}

func (c *Client) do(ctx context.Context, method, contentType string, body io.Reader, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return decode(method, resp.StatusCode, raw, result)
}

func decode(method string, status int, raw []byte, result any) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status < 200 || status >= 300 {
			return &APIError{Method: method, StatusCode: status, Description: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !env.OK || status < 200 || status >= 300 {
		apiErr := &APIError{Method: method, StatusCode: status, Description: env.Description}
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

func (c *Client) GetMe(ctx context.Context) (User, error) {
	var out User
	err := c.call(ctx, "getMe", struct{}{}, &out)
	return out, err
}

// GetUpdates long-polls for updates and returns the next offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, int64, error) {
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	payload := map[string]any{
		"timeout":         secs,
		"allowed_updates": []string{"message", "callback_query"},
	}
	if offset > 0 {
		payload["offset"] = offset
	}

	reqCtx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second+10*time.Second)
	defer cancel()

	var updates []Update
	if err := c.call(reqCtx, "getUpdates", payload, &updates); err != nil {
		return nil, offset, err
	}
	next := offset
	for _, u := range updates {
		if u.UpdateID >= next {
			next = u.UpdateID + 1
		}
	}
	return updates, next, nil
}

func (c *Client) GetFile(ctx context.Context, fileID string) (File, error) {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return File{}, errors.New("missing file_id")
	}
	var out File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &out); err != nil {
		return File{}, err
	}
	if strings.TrimSpace(out.FilePath) == "" {
		return File{}, errors.New("telegram getFile: missing file_path")
	}
	return out, nil
}

// DownloadFile streams a file obtained from GetFile to dstPath, refusing
// anything larger than maxBytes.
func (c *Client) DownloadFile(ctx context.Context, filePath, dstPath string, maxBytes int64) (int64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	fileURL := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(filePath, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("telegram download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("telegram download http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	f, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxBytes+1))
	closeErr := f.Close()
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, fmt.Errorf("%w (>%d bytes)", ErrFileTooLarge, maxBytes)
	}
	return n, closeErr
}

// Download resolves fileID and downloads it in one step.
func (c *Client) Download(ctx context.Context, fileID, dstPath string, maxBytes int64) (int64, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if maxBytes > 0 && file.FileSize > maxBytes {
		return 0, fmt.Errorf("%w (%d > %d bytes)", ErrFileTooLarge, file.FileSize, maxBytes)
	}
	return c.DownloadFile(ctx, file.FilePath, dstPath, maxBytes)
}

func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (Message, error) {
	var out Message
	err := c.call(ctx, "sendMessage", params, &out)
	return out, err
}

func (c *Client) EditMessageText(ctx context.Context, params EditMessageTextParams) error {
	return c.call(ctx, "editMessageText", params, nil)
}

// SendDocument uploads a local file as multipart form data.
func (c *Client) SendDocument(ctx context.Context, params DocumentParams) (Message, error) {
	f, err := os.Open(params.Path)
	if err != nil {
		return Message{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Message{}, err
	}
	if st.IsDir() {
		return Message{}, fmt.Errorf("path is a directory: %s", params.Path)
	}

	filename := strings.TrimSpace(params.FileName)
	if filename == "" {
		filename = filepath.Base(params.Path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"chat_id":    strconv.FormatInt(params.ChatID, 10),
			"caption":    params.Caption,
			"parse_mode": params.ParseMode,
		}
		for key, value := range fields {
			if value == "" {
				continue
			}
			if err := mw.WriteField(key, value); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		part, err := mw.CreateFormFile("document", filename)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	var out Message
	if err := c.do(ctx, "sendDocument", mw.FormDataContentType(), pr, &out); err != nil {
		_ = pr.CloseWithError(err)
		return Message{}, err
	}
	return out, nil
}

// SendDocumentByID re-sends a document already stored by Telegram.
func (c *Client) SendDocumentByID(ctx context.Context, chatID int64, fileID, caption, parseMode string) (Message, error) {
	var out Message
	err := c.call(ctx, "sendDocument", sendDocumentByIDParams{
		ChatID:    chatID,
		Document:  fileID,
		Caption:   caption,
		ParseMode: parseMode,
	}, &out)
	return out, err
}

func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string, alert bool) error {
	return c.call(ctx, "answerCallbackQuery", answerCallbackParams{CallbackQueryID: id, Text: text, ShowAlert: alert}, nil)
}

// SetWebhook registers the webhook URL; Telegram echoes secret in the
// X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secret string) error {
	if _, err := url.ParseRequestURI(webhookURL); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	return c.call(ctx, "setWebhook", setWebhookParams{
		URL:            webhookURL,
		SecretToken:    secret,
		AllowedUpdates: []string{"message", "callback_query"},
	}, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", deleteWebhookParams{DropPendingUpdates: dropPending}, nil)
}

func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	return c.call(ctx, "setMyCommands", setMyCommandsParams{Commands: commands}, nil)
}
