package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gigaview/tile-engine/internal/annotations"
)

type annotationRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width" binding:"required"`
	Height float64 `json:"height" binding:"required"`
	Label  string  `json:"label" binding:"required"`
	Text   string  `json:"text"`
}

func (s *Server) listAnnotations(c *gin.Context) {
	list, err := s.annotations.ListByImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error().Err(err).Str("image", c.Param("id")).Msg("annotation listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list annotations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"annotations": list})
}

func (s *Server) createAnnotation(c *gin.Context) {
	var req annotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width, height and label are required"})
		return
	}

	a := &annotations.Annotation{
		ImageID: c.Param("id"),
		X:       req.X,
		Y:       req.Y,
		Width:   req.Width,
		Height:  req.Height,
		Label:   req.Label,
		Text:    req.Text,
	}
	if err := s.annotations.Create(c.Request.Context(), a); err != nil {
		s.logger.Error().Err(err).Str("image", a.ImageID).Msg("annotation creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create annotation"})
		return
	}

	c.JSON(http.StatusCreated, a)
}

func (s *Server) updateAnnotation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id should be integer"})
		return
	}

	var req annotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "width, height and label are required"})
		return
	}

	a, err := s.annotations.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, annotations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found"})
			return
		}
		s.logger.Error().Err(err).Int64("id", id).Msg("annotation lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update annotation"})
		return
	}

	a.X = req.X
	a.Y = req.Y
	a.Width = req.Width
	a.Height = req.Height
	a.Label = req.Label
	a.Text = req.Text

	if err := s.annotations.Update(c.Request.Context(), a); err != nil {
		if errors.Is(err, annotations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found"})
			return
		}
		s.logger.Error().Err(err).Int64("id", id).Msg("annotation update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update annotation"})
		return
	}

	c.JSON(http.StatusOK, a)
}

func (s *Server) deleteAnnotation(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id should be integer"})
		return
	}

	if err := s.annotations.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, annotations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "annotation not found"})
			return
		}
		s.logger.Error().Err(err).Int64("id", id).Msg("annotation deletion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete annotation"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) deleteImageAnnotations(c *gin.Context) {
	n, err := s.annotations.DeleteByImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error().Err(err).Str("image", c.Param("id")).Msg("annotation deletion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete annotations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}
