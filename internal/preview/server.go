// Package preview serves a browser preview of the running pipeline: an
// MJPEG stream of a decoder slot, a binary point-cloud feed over
// websocket, JSON stats and Prometheus metrics.
package preview

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/DepthStreamer/internal/config"
	"github.com/bryanchriswhite/DepthStreamer/internal/logger"
	"github.com/bryanchriswhite/DepthStreamer/internal/pipeline"
)

// Server is the HTTP preview server. It owns a render loop that snapshots
// the pipeline at the configured rate and fans the encoded result out to
// connected stream clients.
type Server struct {
	router   *mux.Router
	pipe     *pipeline.Pipeline
	cfg      config.PreviewConfig
	upgrader websocket.Upgrader
	log      *zerolog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	stats   Stats

	httpSrv *http.Server
	stop    chan struct{}
	done    chan struct{}
}

// Stats is the render loop's running state, served at /api/stats.
type Stats struct {
	FramesRendered uint64    `json:"frames_rendered"`
	DroppedSends   uint64    `json:"dropped_sends"`
	Clients        int       `json:"clients"`
	CloudPoints    int       `json:"cloud_points"`
	LastFrame      time.Time `json:"last_frame"`
}

// NewServer creates a preview server over an initialized pipeline.
func NewServer(pipe *pipeline.Pipeline, cfg config.PreviewConfig) *Server {
	s := &Server{
		router: mux.NewRouter(),
		pipe:   pipe,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for development
			},
		},
		log:     logger.WithComponent("preview"),
		clients: make(map[chan []byte]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the preview routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.HandleFunc("/stream", s.handleStream)
	s.router.HandleFunc("/ws/cloud", s.handleCloudStream)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.PathPrefix("/").HandlerFunc(s.handleIndex)
}

// Start launches the render loop and begins serving. It blocks until the
// listener fails or Stop shuts the server down.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.router,
	}

	go s.renderLoop()

	s.log.Info().Str("addr", s.cfg.Addr).Msg("preview server listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts down the HTTP listener and joins the render loop.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stop)
	<-s.done

	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// subscribe registers a stream client channel. The render loop never
// blocks on a slow client; sends that would block are dropped.
func (s *Server) subscribe() chan []byte {
	ch := make(chan []byte, 1)
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	s.stats.Clients = len(s.clients)
	s.mu.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan []byte) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.stats.Clients = len(s.clients)
	s.mu.Unlock()
}

// HTTP Handlers

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := s.pipe.Err(); err != nil {
		status = "degraded: " + err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// handleStream serves the multipart MJPEG stream. The connection stays
// open until the client goes away or the server stops.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case jpg := <-ch:
			if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := w.Write(jpg); err != nil {
				return
			}
			if _, err := w.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-s.stop:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// handleCloudStream streams point-cloud snapshots over a websocket: one
// JSON pose message on connect, then binary cloud payloads at the render
// rate.
func (s *Server) handleCloudStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sentPose := false
	var cloud pipeline.CloudView
	for {
		select {
		case <-ticker.C:
		case <-s.stop:
			return
		case <-r.Context().Done():
			return
		}

		berr := s.pipe.BeginCloud(&cloud)
		var payload []byte
		var pose poseMessage
		if berr == nil {
			payload = encodeCloud(&cloud)
			pose = poseMessage{Position: cloud.Position, Rotation: cloud.Rotation}
		}
		if err := s.pipe.EndCloud(); err != nil {
			s.log.Warn().Err(err).Msg("pipeline unhealthy, closing cloud stream")
			return
		}
		if berr != nil {
			continue
		}

		if !sentPose {
			if err := conn.WriteJSON(pose); err != nil {
				return
			}
			sentPose = true
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			return
		}
	}
}

type poseMessage struct {
	Position [3]float32 `json:"position"`
	Rotation [4]float32 `json:"rotation"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>DepthStreamer</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            max-width: 900px;
            margin: 40px auto;
            padding: 20px;
            background: #1b1b1b;
            color: #ddd;
        }
        img { max-width: 100%; border: 1px solid #444; }
        a { color: #64b5f6; }
        code { background: #2b2b2b; padding: 2px 6px; border-radius: 3px; }
    </style>
</head>
<body>
    <h1>DepthStreamer</h1>
    <img src="/stream" alt="live preview">
    <p>
        Endpoints:
        <a href="/api/stats">/api/stats</a> ·
        <a href="/api/health">/api/health</a> ·
        <a href="/metrics">/metrics</a> ·
        <code>/ws/cloud</code> (websocket point cloud)
    </p>
</body>
</html>`

	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
