package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/docflowhq/docflow/internal/broker"
	documents "github.com/docflowhq/docflow/internal/documents/domain"
	"github.com/docflowhq/docflow/internal/schedule"
	"github.com/gin-gonic/gin"
)

// Uploads above this size are rejected before buffering.
const maxUploadBytes = 32 << 20

func (s *Server) UploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	if header.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds upload limit"})
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		respondError(c, err)
		return
	}

	var templateID int64
	if raw := c.PostForm("template_id"); raw != "" {
		templateID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid template id"})
			return
		}
		// Reject an unknown template here rather than failing the file later.
		if _, err := s.templates.Get(c.Request.Context(), templateID); err != nil {
			respondError(c, err)
			return
		}
	}

	file, err := s.ingestSvc.Ingest(c.Request.Context(), header.Filename, data, "upload", templateID)
	if errors.Is(err, documents.ErrDuplicateFile) && file != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "file already imported", "file": file})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"file": file})
}

func (s *Server) GetFile(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file id"})
		return
	}

	file, err := s.coordinator.GetFile(c.Request.Context(), snowflake.ID(id))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": file})
}

func (s *Server) QueueCounts(c *gin.Context) {
	name := broker.QueueName(c.Param("name"))
	if _, ok := broker.Catalogue[name]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue"})
		return
	}

	counts, err := s.queue.Counts(c.Request.Context(), name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": name, "counts": counts})
}

type bulkTestRequest struct {
	TemplateID int64    `json:"template_id" binding:"required"`
	Paths      []string `json:"paths" binding:"required,min=1"`
}

func (s *Server) StartBulkTest(c *gin.Context) {
	var req bulkTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Fail fast on a template that would sink every file in the batch.
	if _, err := s.templates.Get(c.Request.Context(), req.TemplateID); err != nil {
		respondError(c, err)
		return
	}

	batchID, err := s.bulk.Enqueue(c.Request.Context(), s.queue, req.TemplateID, req.Paths)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": batchID})
}

func (s *Server) TriggerReindex(c *gin.Context) {
	if err := s.reindexer.EnqueueFull(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (s *Server) TriggerTask(c *gin.Context) {
	task := c.Param("task")
	switch task {
	case schedule.TaskRetentionSweep, schedule.TaskRequeueStuck, schedule.TaskBrokerPrune:
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}

	if err := s.tasks.EnqueueTask(c.Request.Context(), task, s.tasks.Window()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "task": task})
}
