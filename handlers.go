package main

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loanmatch/models"
	"loanmatch/pkg/cache"
	"loanmatch/pkg/ingest"
	"loanmatch/pkg/store"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
)

const (
	homeRecentUploads      = 10
	dashboardRecentUploads = 10
	dashboardUsers         = 20
	dashboardMatches       = 50
	uploadListLimit        = 100
)

type server struct {
	store  *store.Store
	ingest *ingest.Service
	cache  *cache.Summary
	logger *log.Logger
}

func newServer(st *store.Store, svc *ingest.Service, c *cache.Summary, logger *log.Logger) *server {
	return &server{store: st, ingest: svc, cache: c, logger: logger}
}

// newRouter builds the gin engine with JSON 404/405 responses.
func newRouter(s *server) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(requestLogger(s.logger), recovery(s.logger))
	s.setupRoutes(r)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})
	return r
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.GET("/", s.homeHandler)
	r.GET("/dashboard", s.dashboardHandler)
	r.POST("/upload", s.uploadHandler)
	r.GET("/healthz", s.healthHandler)

	api := r.Group("/api")
	api.GET("/users", s.listUsersHandler)
	api.GET("/products", s.listProductsHandler)
	api.POST("/match", s.createMatchHandler)

	// slash-terminated aliases used by the matcher, answered without a redirect
	r.POST("/upload/", s.uploadHandler)
	api.GET("/users/", s.listUsersHandler)
	api.GET("/products/", s.listProductsHandler)
	api.POST("/match/", s.createMatchHandler)
	api.GET("/uploads", s.listUploadsHandler)
	api.GET("/uploads/:id", s.getUploadHandler)
	api.POST("/matches/:id/notified", s.markNotifiedHandler)
}

func (s *server) summary(ctx context.Context) (store.Summary, error) {
	return s.cache.Load(ctx, s.store.Summary)
}

func (s *server) invalidateSummary(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Debug("summary cache invalidate", "err", err)
	}
}

func (s *server) homeHandler(c *gin.Context) {
	ctx := c.Request.Context()
	sum, err := s.summary(ctx)
	if err != nil {
		s.internalError(c, "summary", err)
		return
	}
	uploads, err := s.store.ListUploads(ctx, homeRecentUploads)
	if err != nil {
		s.internalError(c, "list uploads", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_users":    sum.TotalUsers,
		"total_products": sum.TotalProducts,
		"total_matches":  sum.TotalMatches,
		"recent_uploads": mapViews(uploads, newUploadView),
	})
}

func (s *server) dashboardHandler(c *gin.Context) {
	ctx := c.Request.Context()
	sum, err := s.summary(ctx)
	if err != nil {
		s.internalError(c, "summary", err)
		return
	}
	uploads, err := s.store.ListUploads(ctx, dashboardRecentUploads)
	if err != nil {
		s.internalError(c, "list uploads", err)
		return
	}
	users, err := s.store.RecentProfiles(ctx, dashboardUsers)
	if err != nil {
		s.internalError(c, "list profiles", err)
		return
	}
	products, err := s.store.ListProducts(ctx)
	if err != nil {
		s.internalError(c, "list products", err)
		return
	}
	matches, err := s.store.RecentMatches(ctx, dashboardMatches)
	if err != nil {
		s.internalError(c, "list matches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_users":      sum.TotalUsers,
		"total_products":   sum.TotalProducts,
		"total_matches":    sum.TotalMatches,
		"notified_matches": sum.NotifiedMatches,
		"recent_uploads":   mapViews(uploads, newUploadView),
		"users":            mapViews(users, newUserView),
		"products":         mapViews(products, newProductView),
		"recent_matches":   mapViews(matches, newMatchView),
	})
}

// uploadFormFile returns the multipart file from csv_file, falling back to file.
func uploadFormFile(c *gin.Context) (*multipart.FileHeader, error) {
	if fh, err := c.FormFile("csv_file"); err == nil {
		return fh, nil
	}
	if fh, err := c.FormFile("file"); err == nil {
		return fh, nil
	}
	return nil, ingest.ErrMissingFile
}

// uploadHandler ingests a CSV of user profiles. Name and size are checked
// before anything touches the database.
func (s *server) uploadHandler(c *gin.Context) {
	fh, err := uploadFormFile(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !ingest.IsCSVName(fh.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": ingest.ErrNotCSV.Error()})
		return
	}
	if fh.Size > s.ingest.MaxBytes() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s (max %d bytes)", ingest.ErrTooLarge, s.ingest.MaxBytes())})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read uploaded file"})
		return
	}
	defer f.Close()

	res, err := s.ingest.Ingest(c.Request.Context(), fh.Filename, f)
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrNotCSV), errors.Is(err, ingest.ErrTooLarge):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			s.logger.Error("upload failed", "file", fh.Filename, "upload_id", res.UploadID, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process CSV: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    fmt.Sprintf("Successfully processed %d records", res.Successful),
		"upload_id":  res.UploadID,
		"successful": res.Successful,
		"failed":     res.Failed,
		"errors":     s.ingest.SampleErrors(res),
	})
}

func (s *server) listUsersHandler(c *gin.Context) {
	users, err := s.store.ListProfiles(c.Request.Context())
	if err != nil {
		s.internalError(c, "list profiles", err)
		return
	}
	c.JSON(http.StatusOK, mapViews(users, newUserView))
}

func (s *server) listProductsHandler(c *gin.Context) {
	products, err := s.store.ListProducts(c.Request.Context())
	if err != nil {
		s.internalError(c, "list products", err)
		return
	}
	c.JSON(http.StatusOK, mapViews(products, newProductView))
}

// flexInt accepts a JSON number or a string holding an integer.
type flexInt struct {
	Set   bool
	Value int64
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		return nil
	}
	raw = strings.TrimSpace(strings.Trim(raw, `"`))
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%q is not an integer", raw)
	}
	f.Set, f.Value = true, v
	return nil
}

type matchRequest struct {
	UserID     flexInt `json:"user_id"`
	ProductID  flexInt `json:"product_id"`
	MatchScore flexInt `json:"match_score"`
}

// createMatchHandler records a match posted by the external matcher. A repeated
// (user, product) pair updates the score of the existing row.
func (s *server) createMatchHandler(c *gin.Context) {
	var req matchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return
	}
	if !req.UserID.Set || !req.ProductID.Set || req.UserID.Value <= 0 || req.ProductID.Value <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and product_id are required"})
		return
	}
	score := int64(models.DefaultMatchScore)
	if req.MatchScore.Set {
		score = req.MatchScore.Value
	}
	if score < 0 || score > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match_score must be between 0 and 100"})
		return
	}

	ctx := c.Request.Context()
	m, created, err := s.store.UpsertMatch(ctx, uint(req.UserID.Value), uint(req.ProductID.Value), int(score))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "upsert match", err)
		return
	}
	s.invalidateSummary(ctx)
	c.JSON(http.StatusOK, gin.H{"success": true, "match_id": m.ID, "created": created})
}

func (s *server) listUploadsHandler(c *gin.Context) {
	uploads, err := s.store.ListUploads(c.Request.Context(), uploadListLimit)
	if err != nil {
		s.internalError(c, "list uploads", err)
		return
	}
	c.JSON(http.StatusOK, mapViews(uploads, newUploadView))
}

func (s *server) getUploadHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	up, err := s.store.GetUpload(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "get upload", err)
		return
	}
	c.JSON(http.StatusOK, newUploadView(up))
}

// markNotifiedHandler is called by the matcher once the user has been told
// about a match.
func (s *server) markNotifiedHandler(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	m, err := s.store.MarkNotified(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "mark notified", err)
		return
	}
	s.invalidateSummary(ctx)
	c.JSON(http.StatusOK, gin.H{"success": true, "match_id": m.ID, "notified_at": m.NotifiedAt})
}

func (s *server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// pathID parses the :id parameter, writing a 400 when it is not a positive integer.
func pathID(c *gin.Context) (uint, bool) {
	v, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(v), true
}

func (s *server) internalError(c *gin.Context, op string, err error) {
	s.logger.Error(op, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}
