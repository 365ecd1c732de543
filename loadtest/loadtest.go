// Package loadtest fires concurrent image requests at a running vision server
// and summarises status codes, latency and result counts.
package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Tutortoise/vision-service/fetch"
	"github.com/Tutortoise/vision-service/imageload"
	"github.com/Tutortoise/vision-service/models"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRequests    = 10
	DefaultConcurrency = 5
)

var Endpoints = []string{"predict", "detect", "analyze"}

type Config struct {
	BaseURL  string
	Endpoint string
	// Image is uploaded as the multipart "image" field. When empty, ImageURL is
	// sent as a JSON body instead.
	Image    []byte
	Filename string
	ImageURL string

	Requests    int
	Concurrency int
	Timeout     time.Duration
	// Progress receives a progress bar. Nil disables it.
	Progress io.Writer
}

// Result is the outcome of one request. Err is set only for transport failures.
type Result struct {
	Status     int
	Latency    time.Duration
	Category   string
	Detections int
	Err        error
}

type Summary struct {
	Requests   int
	Failed     int
	Statuses   map[int]int
	Categories map[string]int
	Detections int
	Min        time.Duration
	Mean       time.Duration
	P95        time.Duration
	Max        time.Duration
	Elapsed    time.Duration
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("server URL is required")
	}
	known := false
	for _, e := range Endpoints {
		known = known || e == c.Endpoint
	}
	if !known {
		return fmt.Errorf("unknown endpoint %q (want one of %s)", c.Endpoint, strings.Join(Endpoints, ", "))
	}
	if len(c.Image) == 0 && c.ImageURL == "" {
		return fmt.Errorf("an image file or image URL is required")
	}
	return nil
}

func Run(ctx context.Context, cfg Config) (Summary, []Result, error) {
	if err := cfg.validate(); err != nil {
		return Summary{}, nil, err
	}
	if cfg.Requests <= 0 {
		cfg.Requests = DefaultRequests
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Filename == "" {
		cfg.Filename = "image.jpg"
	}

	client := fetch.New(fetch.Options{Timeout: cfg.Timeout, AllowPrivate: true})
	target := strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.Endpoint

	var bar *progressbar.ProgressBar
	if cfg.Progress != nil {
		bar = progressbar.NewOptions(cfg.Requests,
			progressbar.OptionSetDescription("POST /"+cfg.Endpoint),
			progressbar.OptionSetWriter(cfg.Progress),
			progressbar.OptionShowCount(),
		)
	}

	results := make([]Result, cfg.Requests)
	var mu sync.Mutex

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i := range results {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := send(gctx, client, target, cfg)
			results[i] = res
			if bar != nil {
				mu.Lock()
				bar.Add(1)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, nil, err
	}
	if bar != nil {
		bar.Finish()
	}

	summary := Summarize(results)
	summary.Elapsed = time.Since(start)
	return summary, results, nil
}

func send(ctx context.Context, client *fetch.Client, target string, cfg Config) Result {
	body, contentType, err := encodeBody(cfg)
	if err != nil {
		return Result{Err: err}
	}

	start := time.Now()
	resp, err := client.Post(ctx, target, contentType, body)
	if err != nil {
		return Result{Latency: time.Since(start), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	res := Result{Status: resp.StatusCode, Latency: time.Since(start), Err: err}
	if err == nil && resp.StatusCode == http.StatusOK {
		res.Category, res.Detections = decodeCounts(cfg.Endpoint, data)
	}
	return res
}

func encodeBody(cfg Config) (io.Reader, string, error) {
	if len(cfg.Image) == 0 {
		payload, err := json.Marshal(map[string]string{imageload.URLField: cfg.ImageURL})
		return bytes.NewReader(payload), "application/json", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(imageload.FileField, cfg.Filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(cfg.Image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func decodeCounts(endpoint string, data []byte) (string, int) {
	switch endpoint {
	case "predict":
		var r models.ClassificationResult
		if json.Unmarshal(data, &r) == nil {
			return r.Category, 0
		}
	case "detect":
		var r models.DetectionResult
		if json.Unmarshal(data, &r) == nil {
			return "", r.Count
		}
	case "analyze":
		var r models.AnalysisResult
		if json.Unmarshal(data, &r) == nil {
			return r.Classification.Category, r.ObjectDetection.Count
		}
	}
	return "", 0
}

// Summarize aggregates results. A request counts as failed on a transport error
// or any non-200 status.
func Summarize(results []Result) Summary {
	s := Summary{
		Requests:   len(results),
		Statuses:   make(map[int]int),
		Categories: make(map[string]int),
	}

	latencies := make([]time.Duration, 0, len(results))
	var total time.Duration
	for _, r := range results {
		if r.Err != nil || r.Status != http.StatusOK {
			s.Failed++
		}
		if r.Err != nil {
			continue
		}
		s.Statuses[r.Status]++
		if r.Category != "" {
			s.Categories[r.Category]++
		}
		s.Detections += r.Detections
		latencies = append(latencies, r.Latency)
		total += r.Latency
	}
	if len(latencies) == 0 {
		return s
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.Min = latencies[0]
	s.Max = latencies[len(latencies)-1]
	s.Mean = total / time.Duration(len(latencies))
	s.P95 = latencies[(len(latencies)*95+99)/100-1]
	return s
}

func (s Summary) Print(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Requests\t%d\n", s.Requests)
	fmt.Fprintf(tw, "Failed\t%d\n", s.Failed)
	if s.Elapsed > 0 {
		fmt.Fprintf(tw, "Elapsed\t%s\n", s.Elapsed.Round(time.Millisecond))
		fmt.Fprintf(tw, "Throughput\t%.2f req/s\n", float64(s.Requests)/s.Elapsed.Seconds())
	}
	fmt.Fprintf(tw, "Latency min/mean/p95/max\t%s / %s / %s / %s\n",
		s.Min.Round(time.Millisecond), s.Mean.Round(time.Millisecond),
		s.P95.Round(time.Millisecond), s.Max.Round(time.Millisecond))

	codes := make([]int, 0, len(s.Statuses))
	for code := range s.Statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Fprintf(tw, "HTTP %d\t%d\n", code, s.Statuses[code])
	}
	if s.Detections > 0 {
		fmt.Fprintf(tw, "Detections\t%d\n", s.Detections)
	}
	for _, c := range sortedKeys(s.Categories) {
		fmt.Fprintf(tw, "Category %q\t%d\n", c, s.Categories[c])
	}
	tw.Flush()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
