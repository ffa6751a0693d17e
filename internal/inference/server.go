package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"nrf24-gateway/internal/camera"
	"nrf24-gateway/internal/classifier"
)

// ImageSource fetches a capture from a camera address.
type ImageSource interface {
	FetchRemote(ctx context.Context, addr string) (*camera.Capture, error)
}

type Server struct {
	Camera ImageSource
	Model  classifier.Classifier
	Logger zerolog.Logger
}

type inferRequest struct {
	IPAddress string `json:"ip_address"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const maxRequestBody = 1 << 16

// Handler returns the service routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /infer", s.handleInfer)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	h := hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(mux)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.RemoteAddrHandler("remote")(h)
	return hlog.NewHandler(s.Logger)(h)
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req inferRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read request body"})
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			log.Warn().Err(err).Msg("invalid infer request body")
		}
	}
	addr := strings.TrimSpace(req.IPAddress)
	if addr == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "ip_address parameter is required"})
		return
	}

	capture, err := s.Camera.FetchRemote(r.Context(), addr)
	if err != nil {
		log.Error().Err(err).Str("ip_address", addr).Msg("image fetch failed")
		status := http.StatusBadGateway
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, errorResponse{Error: "failed to fetch image from camera"})
		return
	}
	defer func() {
		if err := capture.Close(); err != nil {
			log.Warn().Err(err).Str("file", capture.Path).Msg("failed to remove capture")
		}
	}()

	pred, err := s.Model.Classify(r.Context(), capture.Image)
	if err != nil {
		log.Error().Err(err).Str("ip_address", addr).Msg("inference failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "inference failed"})
		return
	}
	log.Info().Str("ip_address", addr).Str("top_label", pred.Label).Float64("confidence", pred.Confidence).Msg("predicted")
	writeJSON(w, http.StatusOK, pred)
}

// isTimeout reports a context deadline or a transport timeout such as the one
// http.Client.Timeout produces.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
