// Package server wires the pieces of sproutcast together: the vision helper,
// the decision pipeline, persistence, MQTT telemetry, and the HTTP API.
package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sproutcast/sproutcast/server/camera"
	"github.com/sproutcast/sproutcast/server/pipeline"
	"github.com/sproutcast/sproutcast/server/plantdb"
	"github.com/sproutcast/sproutcast/server/telemetry"
	"github.com/sproutcast/sproutcast/server/vision"
)

type Server struct {
	Log      logs.Log
	DB       *plantdb.PlantDB
	Pipeline *pipeline.Pipeline

	cfg        Config
	configFile string
	engine     vision.Engine
	emitter    *telemetry.Emitter
	startedAt  time.Time

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader

	recorderStop    chan bool
	recorderStopped chan bool
}

func NewServer(configFile string) (*Server, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}
	db, err := plantdb.Open(logger, cfg.DB)
	if err != nil {
		return nil, err
	}
	engine, err := vision.StartWorker(logger, vision.WorkerOptions{
		Command:        cfg.Vision.Command,
		HelloTimeout:   time.Duration(cfg.Vision.HelloTimeoutSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.Vision.RequestTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	opts := pipeline.Options{
		Config:      cfg.Pipeline,
		Frames:      camera.NewSource(cfg.FrameFile),
		Engine:      engine,
		Labels:      db,
		MetricsFile: cfg.MetricsFile,
	}
	if cfg.SignalFile != "" {
		opts.Signal = &camera.SignalFile{Path: cfg.SignalFile}
	}
	pipe, err := pipeline.NewPipeline(logger, opts)
	if err != nil {
		engine.Close()
		return nil, err
	}

	s := &Server{
		Log:        logger,
		DB:         db,
		Pipeline:   pipe,
		cfg:        cfg,
		configFile: configFile,
		engine:     engine,
		startedAt:  time.Now(),
	}
	if cfg.MQTT != nil {
		s.emitter = telemetry.NewEmitter(logger, *cfg.MQTT)
		if err := s.emitter.Connect(); err != nil {
			// The broker being down must not stop plant monitoring. The
			// client keeps retrying in the background.
			s.Log.Warnf("MQTT unavailable, continuing without it: %v", err)
		}
	}
	s.setupHttpRoutes()
	return s, nil
}

// Start launches the pipeline worker and the recorder that drains its output
// into the DB and MQTT.
func (s *Server) Start() {
	s.recorderStop = make(chan bool)
	s.recorderStopped = make(chan bool)
	go s.recordLoop()
	s.Pipeline.Start()
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v', shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP shutdown error: %v", err)
		}
		cancel()
	}
	s.Pipeline.Close()
	close(s.recorderStop)
	<-s.recorderStopped
	s.engine.Close()
	if s.emitter != nil {
		s.emitter.Disconnect()
	}
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
}

// recordLoop drains the pipeline's watcher channel into the DB and MQTT, and
// prunes old telemetry once an hour. DB and broker failures are logged but
// never stop the loop.
func (s *Server) recordLoop() {
	ch := s.Pipeline.AddWatcher()
	pruneTicker := time.NewTicker(time.Hour)
	lastErrAt := time.Time{}
	logError := func(format string, args ...any) {
		if time.Now().Sub(lastErrAt) > 15*time.Second {
			s.Log.Errorf(format, args...)
			lastErrAt = time.Now()
		}
	}
	for {
		select {
		case rec := <-ch:
			if err := s.DB.RecordCycle(rec); err != nil {
				logError("Failed to persist cycle %v: %v", rec.CycleCount, err)
			}
			if s.emitter != nil {
				if err := s.emitter.PublishCycle(rec); err != nil {
					logError("Failed to publish cycle %v: %v", rec.CycleCount, err)
				}
			}
		case <-pruneTicker.C:
			if err := s.DB.Prune(time.Duration(s.cfg.RetentionHours) * time.Hour); err != nil {
				logError("Telemetry prune failed: %v", err)
			}
		case <-s.recorderStop:
			s.Pipeline.RemoveWatcher(ch)
			pruneTicker.Stop()
			close(s.recorderStopped)
			return
		}
	}
}
