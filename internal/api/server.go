// Package api serves predictions of a trained model over HTTP.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/samcharles93/plssvm/internal/logger"
	"github.com/samcharles93/plssvm/internal/svmerr"
)

// HeaderRequestID carries the id of a prediction request.
const HeaderRequestID = "X-Request-Id"

type Config struct {
	// MaxPoints limits the points of one predict request. Zero means no limit.
	MaxPoints int
	// RateLimit is the sustained number of requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	Logger    logger.Logger
}

type Server struct {
	predictor Predictor
	cfg       Config
	limiter   *rate.Limiter
	clock     func() time.Time
}

func NewServer(predictor Predictor, cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	s := &Server{
		predictor: predictor,
		cfg:       cfg,
		clock:     time.Now,
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)

	v1 := e.Group("/v1")
	v1.GET("/model", s.handleModel)
	v1.POST("/predict", s.handlePredict, s.rateLimit)
}

// PredictRequest holds the points to classify, each a dense feature vector.
type PredictRequest struct {
	Points [][]float64 `json:"points"`
}

type PredictResponse struct {
	ID      string    `json:"id"`
	Created int64     `json:"created"`
	Labels  []float64 `json:"labels"`
	Values  []float64 `json:"values"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	if s.predictor == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "no model loaded", "")
	}
	return writeJSON(c, http.StatusOK, s.predictor.Info())
}

func (s *Server) handlePredict(c *echo.Context) error {
	if s.predictor == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "no model loaded", "")
	}
	id := "pred-" + uuid.NewString()
	c.Response().Header().Set(HeaderRequestID, id)

	req, err := decodeJSON[PredictRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error(), "")
	}
	if len(req.Points) == 0 {
		return writeBadRequest(c, "points is required and must not be empty", "points")
	}
	if s.cfg.MaxPoints > 0 && len(req.Points) > s.cfg.MaxPoints {
		return writeBadRequest(c, fmt.Sprintf("at most %d points per request, got %d", s.cfg.MaxPoints, len(req.Points)), "points")
	}

	start := s.clock()
	values, err := s.predictor.Predict(req.Points)
	if err != nil {
		if errors.Is(err, svmerr.ErrInvalidData) {
			return writeBadRequest(c, err.Error(), "points")
		}
		s.cfg.Logger.Error("prediction failed", "id", id, "error", err, "location", svmerr.Location(err))
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error(), "")
	}

	classes := s.predictor.Info().Labels
	labels := make([]float64, len(values))
	for i, v := range values {
		if v >= 0 {
			labels[i] = classes[0]
		} else {
			labels[i] = classes[1]
		}
	}
	s.cfg.Logger.Debug("predicted", "id", id, "points", len(values), "elapsed", s.clock().Sub(start))
	return writeJSON(c, http.StatusOK, PredictResponse{
		ID:      id,
		Created: start.Unix(),
		Labels:  labels,
		Values:  values,
	})
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		if s.limiter != nil && !s.limiter.Allow() {
			c.Response().Header().Set("Retry-After", "1")
			return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded", "")
		}
		return next(c)
	}
}
