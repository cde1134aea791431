package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
	"github.com/sproutcast/sproutcast/server/pipeline"
	"github.com/sproutcast/sproutcast/server/telemetry"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		www.Handle(s.Log, router, method, route, h)
	}
	// Writes get a per-endpoint rate limit, keyed by client IP.
	ratelimited := func(method, route string, h httprouter.Handle, requestLimit int, windowLength time.Duration) {
		limited := httprate.Limit(requestLimit, windowLength, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/health", s.httpHealth)
	handle("GET", "/api/latest", s.httpLatest)
	handle("GET", "/api/config", s.httpConfig)
	ratelimited("POST", "/api/config", s.httpSetConfig, 30, time.Minute)
	handle("GET", "/api/plants", s.httpPlants)
	handle("GET", "/api/instance/:index", s.httpInstance)
	handle("GET", "/api/history", s.httpHistory)
	handle("GET", "/api/plant-class", s.httpGetPlantClasses)
	ratelimited("POST", "/api/plant-class", s.httpSetPlantClass, 30, time.Minute)
	handle("GET", "/api/live", s.httpLive)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendText(w, "pong")
}

type healthJSON struct {
	Status         string           `json:"status"`
	UptimeSeconds  int64            `json:"uptimeSeconds"`
	CycleCount     int64            `json:"cycleCount"`
	BaselineSet    bool             `json:"baselineSet"`
	DepthAvailable bool             `json:"depthAvailable"`
	MQTT           *telemetry.Stats `json:"mqtt,omitempty"`
}

func (s *Server) httpHealth(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	h := healthJSON{
		Status:         "ok",
		UptimeSeconds:  int64(time.Now().Sub(s.startedAt).Seconds()),
		BaselineSet:    s.Pipeline.Baseline().IsSet(),
		DepthAvailable: s.engine.DepthAvailable(),
	}
	if rec := s.Pipeline.LatestRecord(); rec != nil {
		h.CycleCount = rec.CycleCount
	}
	if s.emitter != nil {
		stats := s.emitter.Stats()
		h.MQTT = &stats
	}
	www.SendJSON(w, &h)
}

// latestRecord falls back to the DB, so a freshly restarted server can still
// serve the last known state before its first cycle completes.
func (s *Server) latestRecord() *pipeline.CycleRecord {
	if rec := s.Pipeline.LatestRecord(); rec != nil {
		return rec
	}
	row, err := s.DB.Latest()
	www.Check(err)
	if row == nil || row.Record == nil {
		return nil
	}
	return &row.Record.Data
}

func (s *Server) httpLatest(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec := s.latestRecord()
	if rec == nil {
		www.PanicNotFound()
	}
	www.SendJSON(w, rec)
}

func (s *Server) httpConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	cfg := s.Pipeline.Config()
	www.SendJSON(w, &cfg)
}

// httpSetConfig merges the posted keys over the current pipeline config,
// applies it for the next cycle, and persists the result so a restart keeps
// it.
func (s *Server) httpSetConfig(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	merged := s.Pipeline.Config()
	www.ReadJSON(w, r, &merged, 1024*1024)
	if err := s.Pipeline.SetConfig(merged); err != nil {
		www.PanicBadRequestf("%v", err)
	}
	s.cfg.Pipeline = merged
	www.Check(SaveConfig(s.configFile, &s.cfg))
	www.SendJSON(w, &merged)
}

func (s *Server) httpPlants(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec := s.latestRecord()
	if rec == nil {
		www.PanicNotFound()
	}
	www.SendJSON(w, rec.Current.Instances)
}

func (s *Server) httpInstance(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rec := s.latestRecord()
	if rec == nil {
		www.PanicNotFound()
	}
	index := int(www.ParseID(params.ByName("index")))
	if index < 0 || index >= len(rec.Current.Instances) {
		www.PanicNotFound()
	}
	www.SendJSON(w, &rec.Current.Instances[index])
}

// httpHistory returns persisted telemetry in [from, to), newest first.
// 'from' and 'to' are unix milliseconds; 'to' defaults to now, 'from' to
// 24 hours before 'to'.
func (s *Server) httpHistory(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	toTime := time.Now()
	if to := www.QueryInt64(r, "to"); to != 0 {
		toTime = time.UnixMilli(to)
	}
	fromTime := toTime.Add(-24 * time.Hour)
	if from := www.QueryInt64(r, "from"); from != 0 {
		fromTime = time.UnixMilli(from)
	}
	rows, err := s.DB.History(fromTime, toTime, www.QueryInt(r, "limit"))
	www.Check(err)
	www.SendJSON(w, rows)
}

func (s *Server) httpGetPlantClasses(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	rows, err := s.DB.LabelOverrides()
	www.Check(err)
	www.SendJSON(w, rows)
}

type setPlantClassJSON struct {
	Index int    `json:"index"`
	Label string `json:"label"` // empty clears the override
}

// httpSetPlantClass names the plant at a positional index. The index refers
// to the latest cycle's detection order, and goes stale if the instance list
// changes shape before the next override.
func (s *Server) httpSetPlantClass(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	body := setPlantClassJSON{}
	www.ReadJSON(w, r, &body, 1024*1024)
	if body.Index < 0 {
		www.PanicBadRequestf("Invalid instance index %v", body.Index)
	}
	if body.Label == "" {
		www.Check(s.DB.ClearLabelOverride(body.Index))
	} else {
		www.Check(s.DB.SetLabelOverride(body.Index, body.Label))
	}
	www.SendOK(w)
}
