package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/toolwatch/internal/monitoring"
	"github.com/sells-group/toolwatch/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline as a long-lived service with an HTTP API",
	Long:  "Schedules scrapes on a cron, drains the analysis backlog in the background, runs health checks, and serves scrape triggers and metrics over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store, monitoringThresholds(), cfg.Pipeline.StalenessWindow())
		alerter := monitoring.NewAlerter(monitoringThresholds(), cfg.Monitoring.WebhookURL)
		checker := monitoring.NewChecker(collector, alerter,
			time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second)

		// Background loops: cron-dispatched scrapes, the analysis drain, and
		// the health checker.
		c := cron.New()
		if _, err := c.AddFunc(cfg.Scheduler.CronSpec, func() {
			if _, err := env.Scheduler.RunNext(ctx); err != nil && !eris.Is(err, scheduler.ErrBusy) {
				zap.L().Error("scheduled scrape failed", zap.Error(err))
			}
		}); err != nil {
			return eris.Wrap(err, "parse cron spec")
		}
		c.Start()
		defer c.Stop()

		go env.Analyzer.Loop(ctx)
		go checker.Run(ctx)

		mux := newServeMux(env, collector)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.String("cron", cfg.Scheduler.CronSpec))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func monitoringThresholds() monitoring.Thresholds {
	return monitoring.Thresholds{
		DegradedBacklog:      cfg.Monitoring.DegradedBacklog,
		CriticalBacklog:      cfg.Monitoring.CriticalBacklog,
		FailureRateThreshold: cfg.Monitoring.FailureRateThreshold,
		LookbackHours:        cfg.Monitoring.LookbackWindowHours,
	}
}

// newServeMux builds the HTTP API: a scrape trigger, health, status, and
// metrics.
func newServeMux(env *pipelineEnv, collector *monitoring.Collector) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api/scrape", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Term string `json:"search_term"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		var out *scheduler.Outcome
		var err error
		if req.Term != "" {
			out, err = env.Scheduler.RunTerm(r.Context(), req.Term)
		} else {
			out, err = env.Scheduler.RunNext(r.Context())
		}

		switch {
		case eris.Is(err, scheduler.ErrBusy):
			writeError(w, http.StatusConflict, "a scrape is already in flight")
		case err != nil:
			zap.L().Error("triggered scrape failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		case out == nil:
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"message": "no search terms due",
			})
		default:
			writeJSON(w, http.StatusOK, map[string]any{
				"success":         true,
				"run_id":          out.RunID,
				"term":            out.Term,
				"jobs_scraped":    out.JobsScraped,
				"new_jobs_added":  out.NewJobsAdded,
				"jobs_analyzed":   out.JobsAnalyzed,
				"companies_found": out.CompaniesFound,
			})
		}
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		snap, err := collector.Status(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	mux.HandleFunc("GET /api/metrics", func(w http.ResponseWriter, r *http.Request) {
		days := 7
		if v := r.URL.Query().Get("days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "days must be a positive integer")
				return
			}
			days = n
		}
		snap, err := collector.Metrics(r.Context(), days)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
