package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gigaview/tile-engine/pkg/pipeline"
	"github.com/gigaview/tile-engine/pkg/tilecache"
)

// tileParams are the optional rendering knobs shared by both tile endpoints.
type tileParams struct {
	Enhance    bool
	Labels     bool
	Confidence float64
	Quality    int
}

func (s *Server) parseTileParams(c *gin.Context, defaultQuality int) (tileParams, error) {
	p := tileParams{Confidence: 0.5, Quality: defaultQuality}

	if v := c.Query("enhance"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("enhance must be a boolean")
		}
		p.Enhance = b
	}
	if v := c.Query("labels"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("labels must be a boolean")
		}
		p.Labels = b
	}
	if v := c.Query("confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return p, fmt.Errorf("confidence must be a number between 0 and 1")
		}
		p.Confidence = f
	}
	if v := c.Query("quality"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 100 {
			return p, fmt.Errorf("quality must be an integer between 1 and 100")
		}
		p.Quality = q
	}

	return p, nil
}

func parseTileCoords(c *gin.Context) (z, x, y int, err error) {
	z, err = strconv.Atoi(c.Param("z"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("z should be integer")
	}
	x, err = strconv.Atoi(c.Param("x"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("x should be integer")
	}
	y, err = strconv.Atoi(c.Param("y"))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("y should be integer")
	}
	return z, x, y, nil
}

func (s *Server) serveTile(c *gin.Context, tile *pipeline.Tile, err error) {
	if err != nil {
		if pipeline.NotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tile not found"})
			return
		}
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("tile request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get tile"})
		return
	}

	c.Header("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.tiles.CacheTTL().Seconds())))
	c.Data(http.StatusOK, tile.ContentType, tile.Data)
}

// localTile serves a pre-generated tile from the public directory.
func (s *Server) localTile(c *gin.Context) {
	z, x, y, err := parseTileCoords(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params, err := s.parseTileParams(c, s.quality)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tile, err := s.tiles.GetTile(c.Request.Context(), tilecache.Key{
		SourceRef:           c.Param("id"),
		Z:                   z,
		X:                   x,
		Y:                   y,
		Enhance:             params.Enhance,
		Labels:              params.Labels,
		ConfidenceThreshold: params.Confidence,
		Quality:             params.Quality,
	})
	s.serveTile(c, tile, err)
}

// dynamicTile crops a tile out of a remote image identified by the url
// query parameter.
func (s *Server) dynamicTile(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}

	z, x, y, err := parseTileCoords(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params, err := s.parseTileParams(c, s.proxyQuality)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tile, err := s.tiles.GetDynamicTile(c.Request.Context(), tilecache.Key{
		SourceRef:           url,
		Z:                   z,
		X:                   x,
		Y:                   y,
		Enhance:             params.Enhance,
		Labels:              params.Labels,
		ConfidenceThreshold: params.Confidence,
		Quality:             params.Quality,
	})
	s.serveTile(c, tile, err)
}

// imageInfo returns the deep-zoom tiling document for a remote image.
func (s *Server) imageInfo(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}

	info, err := s.tiles.Info(c.Request.Context(), url)
	if err != nil {
		if pipeline.NotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "source image not found"})
			return
		}
		s.logger.Error().Err(err).Str("url", url).Msg("info request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to inspect source image"})
		return
	}

	c.JSON(http.StatusOK, info)
}

type precomputeRequest struct {
	URL    string `json:"url" binding:"required"`
	Levels []int  `json:"levels"`
}

// startPrecompute kicks off background tile warming and returns the job id.
func (s *Server) startPrecompute(c *gin.Context) {
	var req precomputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	levels := req.Levels
	if len(levels) == 0 {
		info, err := s.tiles.Info(c.Request.Context(), req.URL)
		if err != nil {
			if pipeline.NotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "source image not found"})
				return
			}
			s.logger.Error().Err(err).Str("url", req.URL).Msg("precompute inspection failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to inspect source image"})
			return
		}
		for z := 0; z <= info.MaxLevel; z++ {
			levels = append(levels, z)
		}
	}

	id := s.tiles.Precompute(c.Request.Context(), req.URL, levels)

	c.JSON(http.StatusAccepted, gin.H{
		"id":         id,
		"status_url": "/api/v1/precompute/" + id + "/status",
	})
}

func (s *Server) precomputeStatus(c *gin.Context) {
	st := s.tiles.Status(c.Request.Context(), c.Param("id"))
	c.JSON(http.StatusOK, st)
}

// invalidateCache removes every cached tile derived from a source. Only the
// shared tier is swept; local tiers age out by capacity.
func (s *Server) invalidateCache(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url query parameter is required"})
		return
	}

	prefix := tilecache.SourcePrefix(url)
	n, err := s.cache.DeleteByPrefix(c.Request.Context(), prefix)
	if err != nil {
		s.logger.Error().Err(err).Str("url", url).Msg("cache invalidation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to invalidate cache"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Stats(c.Request.Context()))
}
