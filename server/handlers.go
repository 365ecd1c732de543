package server

import (
	"context"
	"image"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tutortoise/vision-service/imageload"
	"github.com/Tutortoise/vision-service/models"
	"golang.org/x/sync/errgroup"
)

func logTimings(ctx context.Context, t *models.ProcessingTimings) {
	slog.DebugContext(ctx, "processing times",
		"request_id", t.RequestID,
		"image_load", t.ImageLoad,
		"classification", t.Classification,
		"detection", t.Detection,
		"total", t.Total,
	)
}

// loadImage parses and decodes the request image, writing the error response
// itself when that fails.
func (s *Server) loadImage(w http.ResponseWriter, r *http.Request, timings *models.ProcessingTimings) (image.Image, bool) {
	start := time.Now()
	defer func() { timings.ImageLoad = time.Since(start) }()

	in, err := imageload.ParseRequest(r, s.cfg.MaxMemory)
	if err != nil {
		s.sendError(w, r, err)
		return nil, false
	}

	img, err := s.loader.Load(r.Context(), in)
	if err != nil {
		s.sendError(w, r, err)
		return nil, false
	}
	return img, true
}

func (s *Server) classify(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (models.ClassificationResult, error) {
	start := time.Now()
	defer func() { timings.Classification = time.Since(start) }()
	return s.classifier.Classify(ctx, img)
}

func (s *Server) detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (models.DetectionResult, error) {
	start := time.Now()
	defer func() { timings.Detection = time.Since(start) }()

	dets, err := s.detector.Detect(ctx, img)
	if err != nil {
		return models.DetectionResult{}, err
	}
	return models.NewDetectionResult(dets), nil
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: RequestID(r.Context())}

	img, ok := s.loadImage(w, r, timings)
	if !ok {
		return
	}

	result, err := s.classify(r.Context(), img, timings)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	timings.Total = time.Since(startTotal)
	logTimings(r.Context(), timings)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: RequestID(r.Context())}

	img, ok := s.loadImage(w, r, timings)
	if !ok {
		return
	}

	result, err := s.detect(r.Context(), img, timings)
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	timings.Total = time.Since(startTotal)
	logTimings(r.Context(), timings)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	startTotal := time.Now()
	timings := &models.ProcessingTimings{RequestID: RequestID(r.Context())}

	img, ok := s.loadImage(w, r, timings)
	if !ok {
		return
	}

	var (
		result models.AnalysisResult
		err    error
	)
	if s.cfg.ParallelAnalyze {
		result, err = s.analyzeParallel(r.Context(), img, timings)
	} else {
		result, err = s.analyzeSequential(r.Context(), img, timings)
	}
	if err != nil {
		s.sendError(w, r, err)
		return
	}

	timings.Total = time.Since(startTotal)
	logTimings(r.Context(), timings)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) analyzeSequential(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (models.AnalysisResult, error) {
	classification, err := s.classify(ctx, img, timings)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	detection, err := s.detect(ctx, img, timings)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return models.AnalysisResult{Classification: classification, ObjectDetection: detection}, nil
}

func (s *Server) analyzeParallel(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (models.AnalysisResult, error) {
	var result models.AnalysisResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		result.Classification, err = s.classify(gctx, img, timings)
		return err
	})
	g.Go(func() error {
		var err error
		result.ObjectDetection, err = s.detect(gctx, img, timings)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.AnalysisResult{}, err
	}
	return result, nil
}

type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Backend: s.backend})
}

type MetricsResponse struct {
	Backend       string                   `json:"backend"`
	UptimeSeconds float64                  `json:"uptime_seconds"`
	Pools         []models.PoolStats       `json:"pools"`
	Requests      map[string]routeCounters `json:"requests"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	pools := []models.PoolStats{}
	if s.poolStats != nil {
		pools = append(pools, s.poolStats()...)
	}

	writeJSON(w, http.StatusOK, MetricsResponse{
		Backend:       s.backend,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Pools:         pools,
		Requests:      s.requests.snapshot(),
	})
}
