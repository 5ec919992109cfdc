package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/strata/core"
	"github.com/poiesic/strata/pipeline"
	"github.com/poiesic/strata/search"
	"github.com/poiesic/strata/storage"
)

func (s *Server) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.targets != nil {
		resp["targets"] = s.targets()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) queues(c *gin.Context) {
	stats, err := s.pipe.Stats(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]queueResponse, len(stats))
	for i, st := range stats {
		out[i] = newQueueResponse(st)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// upload reads a multipart file and registers it.
func (s *Server) upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > s.maxUpload {
		abort(c, fmt.Errorf("%w: %d bytes", ErrUploadTooLarge, file.Size))
		return
	}
	f, err := file.Open()
	if err != nil {
		abort(c, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		abort(c, err)
		return
	}
	if int64(len(data)) > s.maxUpload {
		abort(c, ErrUploadTooLarge)
		return
	}

	doc, err := s.pipe.Register(c.Request.Context(), pipeline.Upload{
		Name:       file.Filename,
		MimeType:   c.PostForm("mime_type"),
		CategoryID: c.PostForm("category_id"),
		Data:       data,
	})
	if err != nil {
		// a registered document whose Bronze enqueue failed is still reported
		if doc != nil {
			s.logger.Error("document registered without bronze job", "document", doc.ID, "err", err)
			c.JSON(http.StatusAccepted, gin.H{"data": newDocumentResponse(doc), "warning": err.Error()})
			return
		}
		abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": newDocumentResponse(doc)})
}

func (s *Server) listDocuments(c *gin.Context) {
	filter := storage.DocumentFilter{
		CategoryID: c.Query("category_id"),
		GoldStatus: core.GoldStatus(c.Query("gold_status")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		filter.Limit = n
	}
	docs, err := s.repo.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]documentResponse, len(docs))
	for i, d := range docs {
		out[i] = newDocumentResponse(d)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// liveDocument loads a document, treating a deleted one as absent.
func (s *Server) liveDocument(c *gin.Context) (*core.Document, bool) {
	doc, err := s.repo.GetDocument(c.Request.Context(), c.Param("id"))
	if err == nil && doc.Deleted() {
		err = fmt.Errorf("%w: document %s", core.ErrNotFound, doc.ID)
	}
	if err != nil {
		abort(c, err)
		return nil, false
	}
	return doc, true
}

func (s *Server) getDocument(c *gin.Context) {
	doc, ok := s.liveDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newDocumentResponse(doc)})
}

func (s *Server) deleteDocument(c *gin.Context) {
	if err := s.pipe.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) chunks(c *gin.Context) {
	doc, ok := s.liveDocument(c)
	if !ok {
		return
	}
	chunks, err := s.repo.GetChunks(c.Request.Context(), doc.ID)
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]chunkResponse, len(chunks))
	for i, ch := range chunks {
		out[i] = newChunkResponse(ch)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) summary(c *gin.Context) {
	summary, err := s.pipe.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newSummaryResponse(summary)})
}

func (s *Server) enqueue(c *gin.Context) {
	msg, err := s.pipe.Enqueue(c.Request.Context(), c.Param("stage"), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": messageResponse{
		ID:         msg.ID,
		Queue:      msg.Queue,
		DocumentID: msg.Job.DocumentID,
	}})
}

func (s *Server) retry(c *gin.Context) {
	n, err := s.pipe.RetryFailedDistributions(c.Request.Context(), c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	status := http.StatusOK
	if n > 0 {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{"data": gin.H{"reset": n}})
}

func (s *Server) search(c *gin.Context) {
	if s.searcher == nil {
		abort(c, ErrSearchDisabled)
		return
	}
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hits, err := s.searcher.FindSimilar(c.Request.Context(), search.Query{
		Text:       req.Query,
		Limit:      req.Limit,
		DocumentID: req.DocumentID,
		MinScore:   req.MinScore,
	})
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]hitResponse, len(hits))
	for i, h := range hits {
		out[i] = newHitResponse(h)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) listCategories(c *gin.Context) {
	cats, err := s.repo.ListCategories(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}
	out := make([]categoryResponse, len(cats))
	for i, cat := range cats {
		out[i] = newCategoryResponse(cat)
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) putCategory(c *gin.Context) {
	var req categoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cat, err := req.category(c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := s.repo.UpsertCategory(ctx, cat); err != nil {
		abort(c, err)
		return
	}
	stored, err := s.repo.GetCategory(ctx, cat.ID)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": newCategoryResponse(stored)})
}
