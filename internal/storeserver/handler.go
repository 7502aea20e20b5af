package storeserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

const maxRiskLimit = 500

type regionBody struct {
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	GeoJSON json.RawMessage `json:"geojson"`
}

type regionView struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	GeoJSON json.RawMessage `json:"geojson"`
}

type riskView struct {
	ID          string  `json:"id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Probability float64 `json:"probability"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

type Handler struct {
	repo   *Repository
	logger *slog.Logger
}

func NewHandler(repo *Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// NewRouter builds the gin engine with recovery, CORS and a global rate limit.
func NewRouter(h *Handler, rps int) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))
	router.Use(RateLimitMiddleware(rps))
	h.RegisterRoutes(router)
	return router
}

func RateLimitMiddleware(rps int) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), rps)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/api/regions", h.listRegions)
	r.POST("/api/regions", h.createRegion)
	r.PUT("/api/regions/:id", h.updateRegion)
	r.DELETE("/api/regions/:id", h.deleteRegion)
	r.GET("/api/regional_fire_risk", h.topRisk)
	r.GET("/healthz", h.health)
}

func (h *Handler) listRegions(c *gin.Context) {
	email, ok := requireEmail(c, c.Query("email"))
	if !ok {
		return
	}
	regions, err := h.repo.ListRegions(c.Request.Context(), email)
	if err != nil {
		h.internalError(c, "list regions", err)
		return
	}
	out := make([]regionView, 0, len(regions))
	for _, r := range regions {
		out = append(out, regionView{ID: r.ID, Name: r.Name, GeoJSON: r.GeoJSON})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) createRegion(c *gin.Context) {
	body, ok := bindRegion(c)
	if !ok {
		return
	}
	email, ok := requireEmail(c, body.Email)
	if !ok {
		return
	}
	id, err := h.repo.CreateRegion(c.Request.Context(), email, body.Name, body.GeoJSON)
	if err != nil {
		h.internalError(c, "create region", err)
		return
	}
	h.logger.Info("region created", "id", id, "email", email)
	c.JSON(http.StatusCreated, gin.H{"regionId": id})
}

func (h *Handler) updateRegion(c *gin.Context) {
	body, ok := bindRegion(c)
	if !ok {
		return
	}
	email, ok := requireEmail(c, firstNonEmpty(c.Query("email"), body.Email))
	if !ok {
		return
	}
	err := h.repo.UpdateRegion(c.Request.Context(), c.Param("id"), email, body.Name, body.GeoJSON)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "update region", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

func (h *Handler) deleteRegion(c *gin.Context) {
	email, ok := requireEmail(c, c.Query("email"))
	if !ok {
		return
	}
	err := h.repo.DeleteRegion(c.Request.Context(), c.Param("id"), email)
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "delete region", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *Handler) topRisk(c *gin.Context) {
	limit := domain.DefaultRiskLimit
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxRiskLimit {
			limit = n
		}
	}
	points, err := h.repo.TopRisk(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "list risk points", err)
		return
	}
	out := make([]riskView, 0, len(points))
	for _, p := range points {
		v := riskView{ID: p.ID, Latitude: p.Latitude, Longitude: p.Longitude, Probability: p.Probability}
		if !p.Timestamp.IsZero() {
			v.Timestamp = p.Timestamp.UTC().Format("2006-01-02 15:04:05")
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) health(c *gin.Context) {
	if err := h.repo.CheckReadiness(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + op})
}

// bindRegion decodes and validates a region body. The stored geojson is the
// re-encoded geometry.
func bindRegion(c *gin.Context) (regionBody, bool) {
	var body regionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return body, false
	}
	g, err := domain.DecodeGeometry(body.GeoJSON)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return body, false
	}
	encoded, err := domain.EncodeGeometry(g)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return body, false
	}
	body.GeoJSON = encoded
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" {
		body.Name = domain.DefaultRegionName
	}
	return body, true
}

func requireEmail(c *gin.Context, raw string) (string, bool) {
	id, err := domain.NormalizeIdentity(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id.String(), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
