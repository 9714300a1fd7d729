package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/irjudson/lumina/internal/catalog"
)

type createCatalogRequest struct {
	Name              string   `json:"name" binding:"required"`
	SourceDirectories []string `json:"source_directories" binding:"required"`
}

func (s *Server) createCatalog(c *gin.Context) {
	var req createCatalogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	cat, err := s.store.CreateCatalog(req.Name, req.SourceDirectories)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create catalog", "details": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, cat)
}

func (s *Server) listCatalogs(c *gin.Context) {
	catalogs, err := s.store.ListCatalogs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list catalogs", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"catalogs": catalogs,
		"count":    len(catalogs),
	})
}

func (s *Server) getCatalog(c *gin.Context) {
	cat, err := s.store.GetCatalog(c.Param("id"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Catalog not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load catalog", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, cat)
}

// listCatalogImages pages through a catalog's images, optionally
// filtered by status. limit defaults to 100; offset to 0.
func (s *Server) listCatalogImages(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.store.GetCatalog(id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Catalog not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load catalog", "details": err.Error()})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	images, err := s.store.ListImages(id, c.Query("status"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list images", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"images": images,
		"count":  len(images),
		"limit":  limit,
		"offset": offset,
	})
}

// listCatalogDuplicates returns duplicate groups with their members
// inlined, primary image first by score ordering.
func (s *Server) listCatalogDuplicates(c *gin.Context) {
	id := c.Param("id")
	groups, members, err := s.store.ListDuplicateGroups(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list duplicate groups", "details": err.Error()})
		return
	}

	out := make([]gin.H, 0, len(groups))
	for _, g := range groups {
		ms := make([]gin.H, 0, len(members[g.ID]))
		for _, m := range members[g.ID] {
			ms = append(ms, gin.H{
				"image_id":         m.ImageID,
				"similarity_score": m.SimilarityScore,
			})
		}
		out = append(out, gin.H{
			"id":               g.ID,
			"primary_image_id": g.PrimaryImageID,
			"similarity_type":  g.SimilarityType,
			"confidence":       g.Confidence,
			"reviewed":         g.Reviewed,
			"members":          ms,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"groups": out,
		"count":  len(out),
	})
}

func (s *Server) listCatalogBursts(c *gin.Context) {
	bursts, err := s.store.ListBursts(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list bursts", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"bursts": bursts,
		"count":  len(bursts),
	})
}
