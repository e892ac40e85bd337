package main

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/dirtybirdnj/gellyroller/internal/config"
	"github.com/dirtybirdnj/gellyroller/internal/ecode"
	"github.com/dirtybirdnj/gellyroller/internal/httpresp"
	"github.com/dirtybirdnj/gellyroller/internal/job"
	"github.com/dirtybirdnj/gellyroller/internal/logger"
	"github.com/dirtybirdnj/gellyroller/internal/svgcompile"
)

// apiServer holds the dependencies the plain net/http handlers need. It is
// not a router, just a receiver for HandleFunc-registered methods. canvas and
// machine are swapped atomically so a config hot-reload can update them while
// requests are in flight without a lock around every read.
type apiServer struct {
	jobs    *job.Manager
	canvas  atomic.Pointer[svgcompile.CanvasOptions]
	machine atomic.Pointer[config.Machine]
	log     *logger.Logger
}

// applyConfig swaps in canvas and machine settings derived from a freshly
// loaded configuration, the way serve.go does at startup and on every
// config.Watch callback.
func (a *apiServer) applyConfig(cfg *config.Config) {
	a.canvas.Store(canvasOptionsFromConfig(cfg.Canvas))
	machine := cfg.Machine
	a.machine.Store(&machine)
}

func canvasOptionsFromConfig(c config.Canvas) *svgcompile.CanvasOptions {
	opts := svgcompile.DefaultCanvasOptions()
	if c.CanvasWidth > 0 {
		opts.CanvasWidth = c.CanvasWidth
	}
	if c.CanvasHeight > 0 {
		opts.CanvasHeight = c.CanvasHeight
	}
	opts.Margin = c.Margin
	if c.TravelSpeed > 0 {
		opts.TravelSpeed = c.TravelSpeed
	}
	if c.DrawSpeed > 0 {
		opts.DrawSpeed = c.DrawSpeed
	}
	if c.PenDownDelay > 0 {
		opts.PenDownDelay = float64(c.PenDownDelay)
	}
	if c.PenUpDelay > 0 {
		opts.PenUpDelay = float64(c.PenUpDelay)
	}
	if c.HeaderDwell > 0 {
		opts.HeaderDwell = float64(c.HeaderDwell)
	}
	opts.Optimize = c.Optimize
	opts.Simplify = c.Simplify
	opts.SimplifyTolerance = c.SimplifyTolerance
	if c.ScaleMode != "" {
		opts.ScaleMode = svgcompile.ScaleMode(c.ScaleMode)
	}
	if c.AlignX != "" {
		opts.AlignX = svgcompile.AlignX(c.AlignX)
	}
	if c.AlignY != "" {
		opts.AlignY = svgcompile.AlignY(c.AlignY)
	}
	return opts
}

// compileRequest is the JSON body for POST /svg/compile. Svg is required;
// the remaining fields, when non-zero, override the server's configured
// canvas defaults for this one compile.
type compileRequest struct {
	Svg               string  `json:"svg"`
	CanvasWidth       float64 `json:"canvas_width,omitempty"`
	CanvasHeight      float64 `json:"canvas_height,omitempty"`
	Margin            float64 `json:"margin,omitempty"`
	TravelSpeed       float64 `json:"travel_speed,omitempty"`
	DrawSpeed         float64 `json:"draw_speed,omitempty"`
	Optimize          *bool   `json:"optimize,omitempty"`
	Simplify          *bool   `json:"simplify,omitempty"`
	SimplifyTolerance float64 `json:"simplify_tolerance,omitempty"`
	ScaleMode         string  `json:"scale_mode,omitempty"`
	AlignX            string  `json:"align_x,omitempty"`
	AlignY            string  `json:"align_y,omitempty"`
}

func (a *apiServer) handleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresp.BadRequest(w, "POST required")
		return
	}
	var req compileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpresp.BadRequest(w, ecode.Invalid("request body"))
		return
	}
	if req.Svg == "" {
		httpresp.BadRequest(w, ecode.Required("svg"))
		return
	}

	opts := *a.canvas.Load()
	if req.CanvasWidth > 0 {
		opts.CanvasWidth = req.CanvasWidth
	}
	if req.CanvasHeight > 0 {
		opts.CanvasHeight = req.CanvasHeight
	}
	if req.Margin > 0 {
		opts.Margin = req.Margin
	}
	if req.TravelSpeed > 0 {
		opts.TravelSpeed = req.TravelSpeed
	}
	if req.DrawSpeed > 0 {
		opts.DrawSpeed = req.DrawSpeed
	}
	if req.Optimize != nil {
		opts.Optimize = *req.Optimize
	}
	if req.Simplify != nil {
		opts.Simplify = *req.Simplify
	}
	if req.SimplifyTolerance > 0 {
		opts.SimplifyTolerance = req.SimplifyTolerance
	}
	if req.ScaleMode != "" {
		opts.ScaleMode = svgcompile.ScaleMode(req.ScaleMode)
	}
	if req.AlignX != "" {
		opts.AlignX = svgcompile.AlignX(req.AlignX)
	}
	if req.AlignY != "" {
		opts.AlignY = svgcompile.AlignY(req.AlignY)
	}

	result, err := svgcompile.Compile(r.Context(), req.Svg, &opts)
	if err != nil {
		httpresp.Fail(w, err)
		return
	}
	httpresp.Success(w, result)
}

// handleJobs handles POST (submit a new job, body = G-code content) and
// GET (list all known jobs) on /jobs.
func (a *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpresp.BadRequest(w, ecode.Invalid("request body"))
			return
		}
		j, err := a.jobs.Submit(string(body))
		if err != nil {
			httpresp.Fail(w, err)
			return
		}
		httpresp.Created(w, j.Snapshot())
	case http.MethodGet:
		jobs := a.jobs.List()
		snapshots := make([]job.Snapshot, 0, len(jobs))
		for _, j := range jobs {
			snapshots = append(snapshots, j.Snapshot())
		}
		httpresp.Success(w, snapshots)
	default:
		httpresp.BadRequest(w, "GET or POST required")
	}
}

// jobControlRequest is the JSON body for POST /jobs/control.
type jobControlRequest struct {
	JobID  string `json:"job_id"`
	Action string `json:"action"`
}

// handleJobControl drives a job's lifecycle: start, pause, resume, cancel.
func (a *apiServer) handleJobControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpresp.BadRequest(w, "POST required")
		return
	}
	var req jobControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpresp.BadRequest(w, ecode.Invalid("request body"))
		return
	}
	if req.JobID == "" {
		httpresp.BadRequest(w, ecode.Required("job_id"))
		return
	}

	ctx := r.Context()
	var err error
	switch req.Action {
	case "start", "resume":
		err = a.jobs.Start(ctx, req.JobID)
	case "pause":
		err = a.jobs.Pause(ctx, req.JobID)
	case "cancel":
		err = a.jobs.Cancel(ctx, req.JobID)
	default:
		httpresp.BadRequest(w, ecode.Invalid("action"))
		return
	}
	if err != nil {
		httpresp.Fail(w, err)
		return
	}

	j, err := a.jobs.Get(req.JobID)
	if err != nil {
		httpresp.Fail(w, err)
		return
	}
	httpresp.Success(w, j.Snapshot())
}
