package shared

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AI2HU/fbads/internal/models"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ParseStatusFilter parses the comma separated status query parameter,
// skipping unknown values
func ParseStatusFilter(c *gin.Context) []models.TaskStatus {
	raw := c.Query("status")
	if raw == "" {
		return nil
	}

	var statuses []models.TaskStatus
	for _, part := range strings.Split(raw, ",") {
		if status, ok := models.ParseTaskStatus(strings.TrimSpace(part)); ok {
			statuses = append(statuses, status)
		}
	}
	return statuses
}

// ParsePagination reads page and limit query parameters with sane bounds
func ParsePagination(c *gin.Context) (page, limit int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(DefaultPageLimit)))
	if err != nil || limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}
