package api

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Lvvv7/Intelligent-certificate/internal/catalog"
	"github.com/Lvvv7/Intelligent-certificate/internal/config"
	"github.com/Lvvv7/Intelligent-certificate/internal/ratelimit"
	"github.com/Lvvv7/Intelligent-certificate/internal/status"
	"github.com/Lvvv7/Intelligent-certificate/internal/telemetry"
)

// RunStarter admits and launches a background automation run.
type RunStarter interface {
	Start(username, password string, user status.UserType) bool
}

// Server wires the HTTP handlers for the agent API.
type Server struct {
	cfg     config.Config
	store   *status.Store
	catalog *catalog.Catalog
	runner  RunStarter
	limiter *ratelimit.TokenBucket
	logger  *slog.Logger
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, st *status.Store, cat *catalog.Catalog, runner RunStarter,
	limiter *ratelimit.TokenBucket, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		store:   st,
		catalog: cat,
		runner:  runner,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/api/document_type", s.handleDocumentType)
	r.Post("/api/corporate_login", s.handleLogin(status.UserCorporate))
	r.Post("/api/individual_login", s.handleLogin(status.UserIndividual))
	r.Get("/api/print_status", s.handlePrintStatus)
	r.Get("/api/clear_data", s.handleClearData)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "接口不存在"})
	})
	return r
}

type documentTypeRequest struct {
	UserType     string `json:"user_type"`
	DocumentType string `json:"document_type"`
}

func (s *Server) handleDocumentType(w http.ResponseWriter, r *http.Request) {
	var req documentTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求必须是JSON格式")
		return
	}
	user := status.UserType(req.UserType)
	if user != status.UserCorporate && user != status.UserIndividual {
		writeError(w, http.StatusBadRequest, "user_type参数值无效，必须是corporate或individual")
		return
	}
	if !s.catalog.Has(req.DocumentType) {
		writeError(w, http.StatusBadRequest, "document_type参数值无效")
		return
	}

	s.store.SetSelection(user, req.DocumentType)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "证件类型已设置为: " + req.DocumentType,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(user status.UserType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Corporate validation errors echo the latest run's error kind.
		reject := func(msg string) {
			body := map[string]string{"error": msg}
			if user == status.UserCorporate {
				body["error_type"] = string(s.store.Snapshot().Kind)
			}
			writeJSON(w, http.StatusBadRequest, body)
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			reject("请求必须是JSON格式")
			return
		}
		if req.Username == "" || req.Password == "" {
			reject("username 和 password 不能为空")
			return
		}
		if user == status.UserIndividual && s.store.DocumentType() == "" {
			reject("请先设置document_type")
			return
		}

		if s.limiter != nil {
			allowed, err := s.limiter.Allow(r.Context(), clientKey(r))
			if err != nil {
				s.logger.Error("rate limiter unavailable", "err", err)
			} else if !allowed {
				telemetry.RateLimitRejects.Inc()
				writeJSON(w, http.StatusTooManyRequests, map[string]string{
					"message": "请求过于频繁，请稍后再试",
				})
				return
			}
		}

		if !s.runner.Start(req.Username, req.Password, user) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"message": "有任务正在处理中，请稍后再试",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "登录请求已接收，正在后台处理",
			"status":  "processing",
		})
	}
}

type printStatusResponse struct {
	Success   bool   `json:"success"`
	Msg       string `json:"msg"`
	ErrorType string `json:"error_type,omitempty"`
}

func (s *Server) handlePrintStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	switch snap.Phase {
	case status.PhaseProcessing:
		w.WriteHeader(http.StatusNoContent)
	case status.PhaseNeverRun:
		writeJSON(w, http.StatusGone, printStatusResponse{Msg: "尚未执行登录操作"})
	case status.PhaseExpired:
		writeJSON(w, http.StatusGone, printStatusResponse{Msg: "登录状态已过期，请重新执行登录"})
	default:
		writeJSON(w, http.StatusOK, printStatusResponse{
			Success:   snap.Success,
			Msg:       snap.Message,
			ErrorType: string(snap.Kind),
		})
	}
}

func (s *Server) handleClearData(w http.ResponseWriter, _ *http.Request) {
	if err := os.RemoveAll(s.cfg.ExtractPath); err != nil {
		writeError(w, http.StatusInternalServerError, "服务器内部错误: "+err.Error())
		return
	}
	if err := os.MkdirAll(s.cfg.ExtractPath, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "服务器内部错误: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "提取数据已清除"})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
