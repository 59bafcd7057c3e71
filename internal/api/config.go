package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AI2HU/fbads/internal/models"
	"github.com/AI2HU/fbads/internal/services"
)

// getConfig handles GET /api/v1/config
func (s *Server) getConfig(c *gin.Context) {
	sess := s.session(c)

	cfg, err := s.configService.Get(c.Request.Context(), sess.ID)
	if err != nil {
		s.errorResponse(c, http.StatusInternalServerError, "Failed to get config: "+err.Error())
		return
	}

	s.successResponse(c, cfg)
}

// updateConfig handles PUT /api/v1/config
func (s *Server) updateConfig(c *gin.Context) {
	sess := s.session(c)

	var req models.AdConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		s.errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	cfg, err := s.configService.Save(c.Request.Context(), sess.ID, req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.errorResponse(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.errorResponse(c, http.StatusInternalServerError, "Failed to save config: "+err.Error())
		return
	}

	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    cfg,
		Message: "Config saved successfully",
	})
}
