package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AI2HU/fbads/internal/models"
)

// validateURL returns a check accepting absolute URLs with one of schemes
func validateURL(schemes ...string) func(string) error {
	return func(input string) error {
		if input == "" {
			return fmt.Errorf("URL is required")
		}
		u, err := url.Parse(input)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid URL: %s", input)
		}
		for _, s := range schemes {
			if u.Scheme == s {
				return nil
			}
		}
		return fmt.Errorf("URL must start with %s://", strings.Join(schemes, ":// or "))
	}
}

// validatePort accepts a TCP port number
func validatePort(input string) error {
	port, err := strconv.Atoi(input)
	if err != nil {
		return fmt.Errorf("invalid port: %s (enter a number)", input)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", port)
	}
	return nil
}

// validatePageID accepts an empty value or a numeric Facebook page id
func validatePageID(input string) error {
	if input == "" {
		return nil
	}
	for _, r := range input {
		if r < '0' || r > '9' {
			return fmt.Errorf("page id must contain only digits")
		}
	}
	return nil
}

// parseStatuses parses a comma separated list of task statuses
func parseStatuses(input string) ([]models.TaskStatus, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}

	var statuses []models.TaskStatus
	for _, part := range strings.Split(input, ",") {
		status, ok := models.ParseTaskStatus(strings.TrimSpace(strings.ToLower(part)))
		if !ok {
			return nil, fmt.Errorf("invalid status: %s (use uploading, running, completed, failed or canceled)", part)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// formatCount formats a count for display
func formatCount(count int) string {
	if count < 1000 {
		return fmt.Sprintf("%d", count)
	}
	if count < 1000000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(count)/1000000)
}

// formatBytes formats a byte size with a binary unit
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatProgress formats a progress percentage with two decimals
func formatProgress(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}

// truncate shortens s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// formatStatus colors a task status
func formatStatus(s models.TaskStatus) string {
	switch s {
	case models.TaskCompleted:
		return FormatSuccess(string(s))
	case models.TaskFailed:
		return FormatError(string(s))
	case models.TaskCanceled:
		return FormatWarning(string(s))
	default:
		return FormatInfo(string(s))
	}
}
