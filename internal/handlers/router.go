package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/malgorath/cyberbrain/internal/config"
	"github.com/malgorath/cyberbrain/internal/hostrouter"
	"github.com/malgorath/cyberbrain/internal/launcher"
	"github.com/malgorath/cyberbrain/internal/metrics"
	"github.com/malgorath/cyberbrain/internal/middleware"
	"github.com/malgorath/cyberbrain/internal/store"

	"github.com/rs/cors"
)

var (
	// Singleton instance of the app's ServeMux
	appMux *http.ServeMux
	// Tunnel manager backing on-demand health probes (process-local)
	singletonTunnels *hostrouter.TunnelManager
)

// GetAppMux returns the application's HTTP ServeMux for both API and tests.
// This ensures all tests use the same router configuration as the actual
// application.
func GetAppMux() *http.ServeMux {
	if appMux == nil {
		appMux = createAppMux()
	}
	return appMux
}

// ResetAppMux resets the app mux singleton (useful for testing)
func ResetAppMux() {
	if singletonTunnels != nil {
		singletonTunnels.CloseAll()
	}
	appMux = nil
	singletonTunnels = nil
}

// ShutdownTunnels tears down the API process's probe tunnels.
func ShutdownTunnels() {
	if singletonTunnels != nil {
		singletonTunnels.CloseAll()
	}
}

// createAppMux creates and configures the application ServeMux with all routes
func createAppMux() *http.ServeMux {
	mux := http.NewServeMux()

	singletonTunnels = hostrouter.NewTunnelManager(config.TunnelPortMin, config.TunnelPortMax)
	checker := hostrouter.NewHealthChecker(
		store.AppStore,
		singletonTunnels,
		time.Duration(config.HealthProbeTimeoutSeconds)*time.Second,
		time.Duration(config.HealthCheckSeconds)*time.Second,
	)

	runLauncher := launcher.New(store.AppStore)

	runHandler := NewRunHandler(store.AppStore, runLauncher)
	artifactHandler := NewArtifactHandler(store.AppStore, config.ArtifactRoot)
	directiveHandler := NewDirectiveHandler(store.AppStore)
	hostHandler := NewHostHandler(store.AppStore, checker, singletonTunnels)
	scheduleHandler := NewScheduleHandler(store.AppStore)
	allowlistHandler := NewAllowlistHandler(store.AppStore)
	statsHandler := NewStatsHandler(store.AppStore)
	mcpHandler := NewMCPHandler(store.AppStore, runLauncher)

	transactionMiddleware := middleware.TransactionMiddleware

	// Health check endpoint
	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		transactionMiddleware(http.HandlerFunc(healthHandler)).ServeHTTP(w, r)
	})

	// Metrics endpoint
	mux.Handle("/api/v1/metrics", metrics.Handler())

	// Run routes
	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				runHandler.ListRuns(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/v1/runs/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
		if path == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Collection verbs
			switch path {
			case "launch":
				if r.Method == http.MethodPost {
					runHandler.LaunchRun(w, r)
					return
				}
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			case "since-last-success":
				if r.Method == http.MethodGet {
					runHandler.SinceLastSuccess(w, r)
					return
				}
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}

			// Per-run sub-resources
			for suffix, fn := range map[string]struct {
				method  string
				handler http.HandlerFunc
			}{
				"/report":    {http.MethodGet, runHandler.GetRunReport},
				"/artifacts": {http.MethodGet, runHandler.ListRunArtifacts},
				"/audit":     {http.MethodGet, runHandler.ListRunAudits},
				"/cancel":    {http.MethodPut, runHandler.CancelRun},
			} {
				if strings.HasSuffix(path, suffix) {
					runID := strings.TrimSuffix(path, suffix)
					r = r.WithContext(setIDContext(r.Context(), "run_id", runID))
					if r.Method == fn.method {
						fn.handler(w, r)
						return
					}
					http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
					return
				}
			}

			// Plain run id
			r = r.WithContext(setIDContext(r.Context(), "run_id", path))
			if r.Method == http.MethodGet {
				runHandler.GetRun(w, r)
				return
			}
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}))
		handler.ServeHTTP(w, r)
	})

	// Artifact download
	mux.HandleFunc("/api/v1/artifacts/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/artifacts/")
		if !strings.HasSuffix(path, "/download") {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		artifactID := strings.TrimSuffix(path, "/download")
		r = r.WithContext(setIDContext(r.Context(), "artifact_id", artifactID))

		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				artifactHandler.Download(w, r)
				return
			}
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}))
		handler.ServeHTTP(w, r)
	})

	// Directive routes
	mux.HandleFunc("/api/v1/directives", func(w http.ResponseWriter, r *http.Request) {
		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				directiveHandler.ListDirectives(w, r)
			case http.MethodPost:
				directiveHandler.CreateDirective(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/v1/directives/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/directives/")
		if path == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		r = r.WithContext(setIDContext(r.Context(), "directive_id", path))

		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				directiveHandler.GetDirective(w, r)
			case http.MethodPut:
				directiveHandler.UpdateDirective(w, r)
			case http.MethodDelete:
				directiveHandler.DeleteDirective(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	// Worker host routes
	mux.HandleFunc("/api/v1/worker-hosts", func(w http.ResponseWriter, r *http.Request) {
		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				hostHandler.ListHosts(w, r)
			case http.MethodPost:
				hostHandler.CreateHost(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/v1/worker-hosts/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/worker-hosts/")
		if path == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(path, "/health") {
				hostID := strings.TrimSuffix(path, "/health")
				r = r.WithContext(setIDContext(r.Context(), "host_id", hostID))
				if r.Method == http.MethodGet {
					hostHandler.HostHealth(w, r)
					return
				}
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}

			if strings.HasSuffix(path, "/gpus") {
				hostID := strings.TrimSuffix(path, "/gpus")
				r = r.WithContext(setIDContext(r.Context(), "host_id", hostID))
				if r.Method == http.MethodGet {
					hostHandler.ListHostGPUs(w, r)
					return
				}
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}

			r = r.WithContext(setIDContext(r.Context(), "host_id", path))
			switch r.Method {
			case http.MethodGet:
				hostHandler.GetHost(w, r)
			case http.MethodPut:
				hostHandler.UpdateHost(w, r)
			case http.MethodDelete:
				hostHandler.DeleteHost(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	// Container allowlist routes
	mux.HandleFunc("/api/v1/allowlist", func(w http.ResponseWriter, r *http.Request) {
		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				allowlistHandler.ListContainers(w, r)
			case http.MethodPost:
				allowlistHandler.UpsertContainer(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/v1/allowlist/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/allowlist/")
		if path == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		r = r.WithContext(setIDContext(r.Context(), "container_id", path))

		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				allowlistHandler.GetContainer(w, r)
			case http.MethodDelete:
				allowlistHandler.DeleteContainer(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	// Worker image allowlist routes
	mux.HandleFunc("/api/v1/worker-images", func(w http.ResponseWriter, r *http.Request) {
		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				allowlistHandler.ListWorkerImages(w, r)
			case http.MethodPost:
				allowlistHandler.CreateWorkerImage(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/v1/worker-images/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/worker-images/")
		if path == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		r = r.WithContext(setIDContext(r.Context(), "image_id", path))

		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodPut:
				allowlistHandler.UpdateWorkerImage(w, r)
			case http.MethodDelete:
				allowlistHandler.DeleteWorkerImage(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	// Schedule routes
	mux.HandleFunc("/api/v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				scheduleHandler.ListSchedules(w, r)
			case http.MethodPost:
				scheduleHandler.CreateSchedule(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/v1/schedules/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
		if path == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}

		handler := transactionMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actions := map[string]struct {
				method  string
				handler http.HandlerFunc
			}{
				"/run-now": {http.MethodPost, scheduleHandler.RunNow},
				"/enable":  {http.MethodPost, scheduleHandler.SetEnabled(true)},
				"/disable": {http.MethodPost, scheduleHandler.SetEnabled(false)},
				"/history": {http.MethodGet, scheduleHandler.History},
			}
			for suffix, fn := range actions {
				if strings.HasSuffix(path, suffix) {
					scheduleID := strings.TrimSuffix(path, suffix)
					r = r.WithContext(setIDContext(r.Context(), "schedule_id", scheduleID))
					if r.Method == fn.method {
						fn.handler(w, r)
						return
					}
					http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
					return
				}
			}

			r = r.WithContext(setIDContext(r.Context(), "schedule_id", path))
			switch r.Method {
			case http.MethodGet:
				scheduleHandler.GetSchedule(w, r)
			case http.MethodPut:
				scheduleHandler.UpdateSchedule(w, r)
			case http.MethodDelete:
				scheduleHandler.DeleteSchedule(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		}))
		handler.ServeHTTP(w, r)
	})

	// Token statistics
	mux.HandleFunc("/api/v1/token-stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		transactionMiddleware(http.HandlerFunc(statsHandler.TokenStats)).ServeHTTP(w, r)
	})

	mux.HandleFunc("/api/v1/cost-report", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		transactionMiddleware(http.HandlerFunc(statsHandler.CostReport)).ServeHTTP(w, r)
	})

	// Streaming tool surface
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		transactionMiddleware(http.HandlerFunc(mcpHandler.Handle)).ServeHTTP(w, r)
	})

	return mux
}

// setIDContext adds an ID to the context for handlers to use
type contextKey string

func setIDContext(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, contextKey(key), value)
}

// GetIDFromContext gets an ID from the context
func GetIDFromContext(r *http.Request, key string) string {
	if value, ok := r.Context().Value(contextKey(key)).(string); ok {
		return value
	}
	return ""
}

// NewRouter creates a new router for the API with CORS handling
func NewRouter() http.Handler {
	mux := GetAppMux()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return c.Handler(mux)
}

// healthHandler reports API liveness and store reachability.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"status": "OK",
	}
	if db := store.GetDB(); db != nil {
		response["store"] = "connected"
	} else {
		response["store"] = "unavailable"
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
