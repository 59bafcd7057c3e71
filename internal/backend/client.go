// Package backend talks to the external campaign orchestration service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AI2HU/fbads/internal/config"
	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
)

// ErrRejected matches every *RejectedError
var ErrRejected = errors.New("rejected by backend")

// RejectedError carries the error message the backend put in its response
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// Is makes errors.Is(err, ErrRejected) work
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Client is the HTTP client of the backend
type Client struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// New creates a client from the backend configuration
func New(cfg config.BackendConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
	}
}

// BaseURL returns the backend root URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

type backendReply struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// CreateCampaign uploads a submission to the backend. The multipart body is
// streamed from the spooled files, so cancelling ctx aborts the transfer.
func (c *Client) CreateCampaign(ctx context.Context, sub *models.Submission) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	written := make(chan struct{})
	go func() {
		defer close(written)
		pw.CloseWithError(writeSubmission(mw, sub))
	}()
	defer func() {
		pr.Close()
		<-written
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create_campaign", pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	logger.Debug("Uploading %d files (%d bytes) for task %s", len(sub.Files), sub.TotalBytes(), sub.TaskID)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload submission: %w", err)
	}
	defer resp.Body.Close()

	_, err = decodeReply(resp)
	return err
}

// writeSubmission writes the form fields and files and closes the writer
func writeSubmission(mw *multipart.Writer, sub *models.Submission) error {
	fields := [][2]string{{"task_id", sub.TaskID}}
	switch sub.Mode {
	case models.ModeExistingCampaign:
		fields = append(fields, [2]string{"campaign_id", sub.CampaignID})
	default:
		fields = append(fields, [2]string{"campaign_name", sub.CampaignName})
	}
	if sub.Config.HasPage() {
		fields = append(fields,
			[2]string{"facebook_page_id", sub.Config.FacebookPageID},
			[2]string{"headline", sub.Config.Headline},
			[2]string{"link", sub.Config.Link},
			[2]string{"utm_parameters", sub.Config.UTMParameters},
		)
	}

	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}

	for _, file := range sub.Files {
		if err := writeFile(mw, file); err != nil {
			return err
		}
	}

	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func writeFile(mw *multipart.Writer, file models.UploadFile) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="uploadFolders"; filename="%s"`, quoteEscaper.Replace(file.Name)))
	h.Set("Content-Type", "application/octet-stream")

	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}

	src, err := os.Open(file.Path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file.Name, err)
	}
	defer src.Close()

	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("failed to stream %s: %w", file.Name, err)
	}
	return nil
}

// CancelTask asks the backend to stop a task and returns its message
func (c *Client) CancelTask(ctx context.Context, taskID string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{"task_id": taskID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cancel_task", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to cancel task: %w", err)
	}
	defer resp.Body.Close()

	reply, err := decodeReply(resp)
	if err != nil {
		return "", err
	}
	return reply.Message, nil
}

// Health checks that the backend answers at all
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("backend unhealthy: %s", resp.Status)
	}
	return nil
}

func decodeReply(resp *http.Response) (*backendReply, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var reply backendReply
	jsonErr := json.Unmarshal(data, &reply)
	if jsonErr == nil && reply.Error != "" {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Message: reply.Error}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned %s", resp.Status)
	}
	if jsonErr != nil && len(bytes.TrimSpace(data)) > 0 {
		return nil, fmt.Errorf("failed to decode response: %w", jsonErr)
	}
	return &reply, nil
}
