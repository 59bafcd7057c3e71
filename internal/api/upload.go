package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AI2HU/fbads/internal/logger"
	"github.com/AI2HU/fbads/internal/models"
)

// uploadField is the form field carrying the files of the chosen folders
const uploadField = "uploadFolders"

const maxFieldBytes = 64 << 10

var (
	errMalformedUpload = errors.New("malformed upload")
	errUploadTooLarge  = errors.New("upload exceeds the size limit")
	errTooManyFiles    = errors.New("upload has too many files")
)

// upload is a multipart submission spooled to disk
type upload struct {
	fields map[string]string
	files  []models.UploadFile
	dir    string
}

// field returns the first non-empty value among names
func (u *upload) field(names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(u.fields[name]); v != "" {
			return v
		}
	}
	return ""
}

// discard removes the spooled files
func (u *upload) discard() {
	if u == nil || u.dir == "" {
		return
	}
	if err := os.RemoveAll(u.dir); err != nil {
		logger.Warning("Failed to remove spool dir %s: %v", u.dir, err)
	}
}

// uploadStatus maps an upload error to an HTTP status
func uploadStatus(err error) int {
	switch {
	case errors.Is(err, errUploadTooLarge), errors.Is(err, errTooManyFiles):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errMalformedUpload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// receiveUpload reads a multipart submission part by part. Files of the
// upload field are spooled under the configured spool dir; their names keep
// the folder-relative path sent by the browser.
func (s *Server) receiveUpload(c *gin.Context) (*upload, error) {
	reader, err := c.Request.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedUpload, err)
	}

	spoolRoot := s.cfg.Uploads.SpoolDir
	if err := os.MkdirAll(spoolRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool dir: %w", err)
	}
	dir, err := os.MkdirTemp(spoolRoot, "upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool dir: %w", err)
	}

	up := &upload{fields: make(map[string]string), dir: dir}
	if err := s.readParts(reader, up); err != nil {
		up.discard()
		return nil, err
	}
	return up, nil
}

func (s *Server) readParts(reader *multipart.Reader, up *upload) error {
	var total int64
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformedUpload, err)
		}

		filename, isFile := rawFileName(part.Header.Get("Content-Disposition"))
		name := part.FormName()

		if !isFile {
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			part.Close()
			if err != nil {
				return fmt.Errorf("%w: %v", errMalformedUpload, err)
			}
			if len(value) > maxFieldBytes {
				return fmt.Errorf("%w: field %s is too long", errMalformedUpload, name)
			}
			if _, seen := up.fields[name]; !seen {
				up.fields[name] = string(value)
			}
			continue
		}

		// Browsers send an empty file part when nothing was chosen.
		if name != uploadField || filename == "" {
			part.Close()
			continue
		}

		rel, ok := cleanRelativeName(filename)
		if !ok {
			part.Close()
			return fmt.Errorf("%w: invalid file name %q", errMalformedUpload, filename)
		}
		if len(up.files) >= s.cfg.Uploads.MaxFiles {
			part.Close()
			return fmt.Errorf("%w: at most %d files", errTooManyFiles, s.cfg.Uploads.MaxFiles)
		}

		dst := filepath.Join(up.dir, fmt.Sprintf("%05d", len(up.files)))
		n, err := spool(part, dst, s.cfg.Uploads.MaxBytes-total)
		part.Close()
		if err != nil {
			return err
		}
		total += n

		up.files = append(up.files, models.UploadFile{Name: rel, Path: dst, Size: n})
	}
}

// spool copies r to dst, failing once more than limit bytes arrive
func spool(r io.Reader, dst string, limit int64) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to spool file: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		return n, fmt.Errorf("%w: %v", errMalformedUpload, err)
	case n > limit:
		return n, errUploadTooLarge
	case closeErr != nil:
		return n, fmt.Errorf("failed to spool file: %w", closeErr)
	}
	return n, nil
}

// rawFileName returns the filename parameter of a Content-Disposition header
// as sent. multipart.Part.FileName keeps only the base name, which would lose
// the folder structure.
func rawFileName(disposition string) (string, bool) {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return "", false
	}
	filename, ok := params["filename"]
	return filename, ok
}

// cleanRelativeName turns a browser supplied path into a relative slash path
// that cannot escape its folder
func cleanRelativeName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	cleaned := strings.TrimPrefix(path.Clean("/"+name), "/")
	if cleaned == "" || cleaned == "." {
		return "", false
	}
	return cleaned, true
}

// buildSubmission turns an upload into a submission for the session's config
func (s *Server) buildSubmission(ctx context.Context, sessionID string, mode models.CampaignMode, up *upload) (*models.Submission, error) {
	adConfig, err := s.configService.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	sub := &models.Submission{
		SessionID: sessionID,
		Mode:      mode,
		Files:     up.files,
		Config:    *adConfig,
		SpoolDir:  up.dir,
	}
	switch mode {
	case models.ModeNewCampaign:
		sub.CampaignName = up.field("campaignName", "campaign_name")
	case models.ModeExistingCampaign:
		sub.CampaignID = up.field("campaignId", "campaign_id")
	}
	return sub, nil
}
