package server

import (
	"errors"
	"net/http"

	documents "github.com/docflowhq/docflow/internal/documents/domain"
	"github.com/docflowhq/docflow/internal/extraction"
	"github.com/docflowhq/docflow/internal/ingest"
	"github.com/gin-gonic/gin"
)

// respondError maps domain sentinels to HTTP statuses. Unknown errors stay
// a generic 500 so internals never leak to callers.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, documents.ErrDuplicateFile):
		c.JSON(http.StatusConflict, gin.H{"error": "file already imported", "detail": err.Error()})
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.Is(err, documents.ErrFileNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
	case errors.Is(err, extraction.ErrTemplateNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
