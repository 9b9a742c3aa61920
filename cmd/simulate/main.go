package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/client"
	"github.com/dan22333/theravillage/internal/controller"
	"github.com/dan22333/theravillage/internal/logging"
	"github.com/dan22333/theravillage/internal/metrics"
	"github.com/dan22333/theravillage/internal/store"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	PaintRatio     float64
	RequestRatio   float64
	RespondRatio   float64
	TherapistToken string
	ClientToken    string
	TherapistID    string
	MetricsAddr    string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

// Record files one operation. Conflicts are expected under contention and
// counted apart from errors.
func (om *OperationMetrics) Record(latency time.Duration, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil:
		atomic.AddInt64(&om.Success, 1)
	case errors.Is(err, calendar.ErrConflict), errors.Is(err, calendar.ErrInvalidState):
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}
	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	pick := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return sum / time.Duration(len(latencies)), pick(50), pick(95), latencies[len(latencies)-1]
}

type Metrics struct {
	Paint   OperationMetrics
	Request OperationMetrics
	Respond OperationMetrics
	Refresh OperationMetrics
}

type Simulator struct {
	config    SimConfig
	week      calendar.Date
	therapist *client.Client
	client    *client.Client
	requests  *store.RequestStore
	calendar  *metrics.CalendarMetrics
	logger    *zap.Logger
	metrics   Metrics
}

func main() {
	_ = godotenv.Load()

	logger, err := logging.New(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}

	logger.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("paint", cfg.PaintRatio),
		zap.Float64("request", cfg.RequestRatio),
		zap.Float64("respond", cfg.RespondRatio),
	)

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Warn("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	clientAPI := client.New(cfg.APIBaseURL, client.StaticToken(cfg.ClientToken), client.WithHTTPClient(httpClient), client.WithLogger(logger))
	sim := &Simulator{
		config:    cfg,
		week:      calendar.MondayOf(calendar.DateOf(time.Now())).AddDays(7),
		therapist: client.New(cfg.APIBaseURL, client.StaticToken(cfg.TherapistToken), client.WithHTTPClient(httpClient), client.WithLogger(logger)),
		client:    clientAPI,
		requests:  store.NewRequestStore(clientAPI),
		calendar:  metrics.NewCalendarMetrics(reg),
		logger:    logger,
	}

	if err := sim.Run(); err != nil {
		logger.Fatal("simulation failed", zap.Error(err))
	}
	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", getEnv("API_BASE_URL", "http://localhost:8080")),
		Duration:       getDuration("SIM_DURATION", 30*time.Second),
		Workers:        getInt("SIM_WORKERS", 4),
		PaintRatio:     getFloat("SIM_PAINT_RATIO", 0.5),
		RequestRatio:   getFloat("SIM_REQUEST_RATIO", 0.25),
		RespondRatio:   getFloat("SIM_RESPOND_RATIO", 0.15),
		TherapistToken: os.Getenv("SIM_THERAPIST_TOKEN"),
		ClientToken:    os.Getenv("SIM_CLIENT_TOKEN"),
		TherapistID:    os.Getenv("SIM_THERAPIST_ID"),
		MetricsAddr:    os.Getenv("SIM_METRICS_ADDR"),
	}

	total := cfg.PaintRatio + cfg.RequestRatio + cfg.RespondRatio
	if total > 1 {
		cfg.PaintRatio /= total
		cfg.RequestRatio /= total
		cfg.RespondRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.TherapistToken == "" || cfg.ClientToken == "" || cfg.TherapistID == "" {
		return errors.New("SIM_THERAPIST_TOKEN, SIM_CLIENT_TOKEN and SIM_THERAPIST_ID are required (cmd/seed prints them)")
	}
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	return nil
}

// Run gives every worker its own controller over the same week, the way
// several open calendar tabs would contend for one therapist's grid.
func (s *Simulator) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.config.Workers; i++ {
		ctrl, err := controller.New(s.therapist, controller.Config{
			Logger:  s.logger.Named("controller"),
			Metrics: s.calendar,
			Notifier: controller.NotifierFunc(func(n controller.Notice) {
				s.logger.Debug("notice", zap.Int("worker", i), zap.String("title", n.Title), zap.String("message", n.Message))
			}),
		})
		if err != nil {
			return err
		}
		defer ctrl.Close()

		if err := ctrl.ShowWeek(ctx, s.week); err != nil {
			return fmt.Errorf("worker %d: load week: %w", i, err)
		}
		g.Go(func() error {
			s.worker(gctx, i, ctrl)
			return nil
		})
	}

	s.logger.Info("simulation running", zap.String("week", s.week.String()))
	err := g.Wait()
	s.logger.Info("simulation complete")
	return err
}

func (s *Simulator) worker(ctx context.Context, id int, ctrl *controller.Controller) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.PaintRatio:
			s.doPaint(ctx, rng, ctrl)
		case r < s.config.PaintRatio+s.config.RequestRatio:
			s.doRequest(ctx, rng)
		case r < s.config.PaintRatio+s.config.RequestRatio+s.config.RespondRatio:
			s.doRespond(ctx, rng, ctrl)
		default:
			start := time.Now()
			err := ctrl.Refresh(ctx)
			s.record(&s.metrics.Refresh, start, err)
		}
	}
}

func (s *Simulator) record(om *OperationMetrics, start time.Time, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, store.ErrStale) {
		return
	}
	om.Record(time.Since(start), err)
}

// doPaint drags over a short run of cells on a random weekday.
func (s *Simulator) doPaint(ctx context.Context, rng *rand.Rand, ctrl *controller.Controller) {
	layout := ctrl.Layout()
	times := layout.Times()
	day := s.week.AddDays(rng.Intn(5))
	first := rng.Intn(len(times) - 4)
	run := 1 + rng.Intn(4)

	cells := make([]controller.CellRef, run)
	for i := range cells {
		cells[i] = controller.CellRef{Date: day, Time: times[first+i]}
	}

	start := time.Now()
	in := ctrl.PointerDown(cells[0])
	if in.Kind == controller.IntentNone {
		for _, cell := range cells[1:] {
			ctrl.PointerEnter(cell)
		}
		in = ctrl.PointerUp(cells[len(cells)-1])
	}
	if in.Kind == controller.IntentNone {
		return
	}
	_, err := ctrl.Commit(ctx, in)
	s.record(&s.metrics.Paint, start, err)
}

// doRequest books a random available slot as the client, for 15 or 30
// minutes.
func (s *Simulator) doRequest(ctx context.Context, rng *rand.Rand) {
	start := time.Now()
	slots, err := s.client.AvailableSlots(ctx, s.config.TherapistID, s.week, s.week.AddDays(6))
	if err != nil || len(slots) == 0 {
		s.record(&s.metrics.Request, start, err)
		return
	}

	slot := slots[rng.Intn(len(slots))]
	end := slot.EndTime
	if rng.Intn(2) == 0 {
		end = end.Add(calendar.SlotMinutes)
	}
	_, err = s.requests.Submit(ctx, store.Submission{
		TherapistID: s.config.TherapistID,
		SlotID:      slot.ID,
		Date:        slot.Date,
		StartTime:   slot.StartTime,
		EndTime:     end,
		Message:     "simulated request",
	})
	s.record(&s.metrics.Request, start, err)
}

// doRespond approves or declines the oldest pending request.
func (s *Simulator) doRespond(ctx context.Context, rng *rand.Rand, ctrl *controller.Controller) {
	pending := ctrl.PendingRequests()
	if len(pending) == 0 {
		return
	}
	req := pending[len(pending)-1]
	decision := calendar.RequestApproved
	if rng.Intn(4) == 0 {
		decision = calendar.RequestDeclined
	}

	start := time.Now()
	err := ctrl.RespondToRequest(ctx, req.ID, decision, "", nil)
	s.record(&s.metrics.Respond, start, err)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Week: %s\n", s.week)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Paint availability", &s.metrics.Paint)
	printOperationReport("Submit request", &s.metrics.Request)
	printOperationReport("Respond to request", &s.metrics.Respond)
	printOperationReport("Refresh week", &s.metrics.Refresh)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
