package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/mastercactapus/gstream/config"
	"github.com/mastercactapus/gstream/coord"
	"github.com/mastercactapus/gstream/machine"
	"github.com/mastercactapus/gstream/meshlevel"
)

const gridFile = "grid.json"

type api struct {
	http.Handler
	m       *machine.Machine
	cfg     *config.Config
	intents machine.IntentChan
	dataDir string
}

func newAPI(m *machine.Machine, cfg *config.Config, events *eventStream, intents machine.IntentChan) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		m:       m,
		cfg:     cfg,
		intents: intents,
		dataDir: cfg.DataDir,
	}

	fs := http.FileServer(http.Dir(a.dataDir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	sub := r.PathPrefix("/api").Subrouter()
	sub.HandleFunc("/status", a.status).Methods("GET")
	sub.HandleFunc("/program", a.profile).Methods("GET")
	sub.HandleFunc("/program", a.load).Methods("PUT", "POST")
	sub.HandleFunc("/program/check", a.check).Methods("POST")
	sub.HandleFunc("/run", a.run).Methods("POST")
	sub.HandleFunc("/pause", a.intent(machine.IntentPause)).Methods("POST")
	sub.HandleFunc("/resume", a.intent(machine.IntentResume)).Methods("POST")
	sub.HandleFunc("/stop", a.intent(machine.IntentStop)).Methods("POST")
	sub.HandleFunc("/reset", a.reset).Methods("POST")
	sub.HandleFunc("/home", a.home).Methods("POST")
	sub.HandleFunc("/jog", a.jog).Methods("POST")
	sub.HandleFunc("/origin", a.origin).Methods("POST")
	sub.HandleFunc("/probe", a.probe).Methods("POST")
	sub.HandleFunc("/probe/grid", a.probeGrid).Methods("POST")
	sub.HandleFunc("/compensation", a.loadCompensation).Methods("POST")
	sub.HandleFunc("/compensation", a.clearCompensation).Methods("DELETE")

	r.PathPrefix("/events/").Handler(events.sse)

	return a
}

func safePath(base, name string) (bool, string) {
	if filepath.Separator != '/' && strings.ContainsRune(name, filepath.Separator) {
		log.Println("invalid path '" + name + "'")
		return false, ""
	}
	dir := string(base)
	if dir == "" {
		dir = "."
	}
	fullName := filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
	return true, fullName
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, machine.ErrBusy), errors.Is(err, machine.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, machine.ErrAlarm):
		return http.StatusLocked
	case errors.Is(err, machine.ErrNotReady), errors.Is(err, machine.ErrLink):
		return http.StatusServiceUnavailable
	case errors.Is(err, machine.ErrUnsupported):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func fail(w http.ResponseWriter, what string, err error) {
	log.Printf("ERROR: %s: %+v", what, err)
	http.Error(w, err.Error(), httpStatus(err))
}

// formParser reads float form values, keeping the first error.
type formParser struct {
	req *http.Request
	err error
}

// Float returns the named value, or def if it is absent.
func (p *formParser) Float(name string, def float64) float64 {
	s := p.req.FormValue(name)
	if s == "" || p.err != nil {
		return def
	}
	var val float64
	val, p.err = strconv.ParseFloat(s, 64)
	return val
}

// Optional returns nil if the value is absent.
func (p *formParser) Optional(name string) *float64 {
	if p.req.FormValue(name) == "" {
		return nil
	}
	v := p.Float(name, 0)
	return &v
}

type statusResponse struct {
	Activity string
	Run      string
	Line     int
	Lines    int
	Status   *machine.State `json:",omitempty"`
	Error    string         `json:",omitempty"`
}

func (a *api) status(w http.ResponseWriter, req *http.Request) {
	exec := a.m.Executor()
	res := statusResponse{
		Activity: a.m.Activity().String(),
		Run:      exec.State().String(),
		Line:     exec.Line(),
		Lines:    exec.Len(),
	}
	if a.m.Activity() == machine.Ready {
		var err error
		res.Status, err = a.m.Status(req.Context())
		if err != nil {
			res.Error = err.Error()
		}
	}
	writeJSON(w, res)
}

type profileResponse struct {
	Lines   int
	Seconds float64
	Travel  float64
	Min     coord.Point
	Max     coord.Point
}

func (a *api) profile(w http.ResponseWriter, req *http.Request) {
	p := a.m.Profile()
	if p == nil {
		http.Error(w, "no program loaded", http.StatusNotFound)
		return
	}
	writeJSON(w, profileResponse{
		Lines:   len(p.Lines),
		Seconds: p.Total().Seconds(),
		Travel:  p.Travel,
		Min:     p.Min,
		Max:     p.Max,
	})
}

func (a *api) load(w http.ResponseWriter, req *http.Request) {
	r := io.Reader(req.Body)
	if name := req.FormValue("file"); name != "" {
		ok, fullName := safePath(a.dataDir, name)
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		f, err := os.Open(fullName)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		defer f.Close()
		r = f
	}

	_, err := a.m.Load(r)
	if err != nil {
		log.Printf("ERROR: load: %+v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.profile(w, req)
}

func (a *api) check(w http.ResponseWriter, req *http.Request) {
	lineErrs, err := a.m.CheckProgram(req.Context())
	if err != nil {
		fail(w, "check", err)
		return
	}
	res := make([]string, len(lineErrs))
	for i, e := range lineErrs {
		res[i] = e.Error()
	}
	writeJSON(w, res)
}

func (a *api) run(w http.ResponseWriter, req *http.Request) {
	// the run outlives the request
	err := a.m.StartRun(context.Background())
	if err != nil {
		fail(w, "run", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) intent(t machine.IntentType) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		a.intents <- machine.Intent{Type: t}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (a *api) reset(w http.ResponseWriter, req *http.Request) {
	err := a.m.Recover(req.Context())
	if err != nil {
		fail(w, "reset", err)
	}
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	err := a.m.Home(req.Context())
	if err != nil {
		fail(w, "home", err)
	}
}

// jog moves by x, y and z, or to them when abs=1. Missing axes are 0
// for relative moves and unchanged for absolute ones.
func (a *api) jog(w http.ResponseWriter, req *http.Request) {
	p := formParser{req: req}
	in := machine.Intent{Type: machine.IntentMove, Feed: p.Float("feed", 0)}
	if req.FormValue("abs") == "1" {
		in.Type = machine.IntentMoveTo
		in.Point = a.m.Position()
	}
	in.Point.X = p.Float("x", in.Point.X)
	in.Point.Y = p.Float("y", in.Point.Y)
	in.Point.Z = p.Float("z", in.Point.Z)
	if p.err != nil {
		http.Error(w, p.err.Error(), http.StatusBadRequest)
		return
	}
	a.intents <- in
	w.WriteHeader(http.StatusAccepted)
}

// origin sets the work position of the given axes.
func (a *api) origin(w http.ResponseWriter, req *http.Request) {
	p := formParser{req: req}
	in := machine.Intent{
		Type: machine.IntentHome,
		X:    p.Optional("x"),
		Y:    p.Optional("y"),
		Z:    p.Optional("z"),
	}
	if p.err != nil {
		http.Error(w, p.err.Error(), http.StatusBadRequest)
		return
	}
	a.intents <- in
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) probe(w http.ResponseWriter, req *http.Request) {
	opt := a.cfg.ProbeOptions()
	p := formParser{req: req}
	opt.ZeroZAxis = req.FormValue("zeroZAxis") == "1"
	opt.FeedRate = p.Float("feedRate", opt.FeedRate)
	opt.MaxTravel = p.Float("maxZTravel", opt.MaxTravel)
	opt.Retract = p.Float("retract", opt.Retract)
	opt.Offset = p.Float("offset", opt.Offset)
	if p.err != nil {
		http.Error(w, p.err.Error(), http.StatusBadRequest)
		return
	}

	z, err := a.m.ProbeZ(req.Context(), opt)
	if err != nil {
		fail(w, "probe", err)
		return
	}
	writeJSON(w, map[string]float64{"Z": z})
}

func (a *api) probeGrid(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, gridFile)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	opt := a.cfg.GridOptions()
	p := formParser{req: req}
	opt.Min.X = p.Float("x0", 0)
	opt.Min.Y = p.Float("y0", 0)
	opt.Max.X = p.Float("x1", 0)
	opt.Max.Y = p.Float("y1", 0)
	opt.Spacing = p.Float("spacing", opt.Spacing)
	opt.Clearance = p.Float("clearance", opt.Clearance)
	opt.FeedRate = p.Float("feedRate", opt.FeedRate)
	opt.MaxTravel = p.Float("maxZTravel", opt.MaxTravel)
	opt.Offset = p.Float("offset", opt.Offset)
	if p.err != nil {
		http.Error(w, p.err.Error(), http.StatusBadRequest)
		return
	}

	grid, err := a.m.ProbeGrid(req.Context(), opt)
	if err != nil {
		fail(w, "probe grid", err)
		return
	}

	out := io.Writer(w)
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Printf("ERROR: create '%s': %+v", name, err)
	} else {
		defer f.Close()
		out = io.MultiWriter(w, f)
	}
	w.Header().Set("Content-Type", "application/json")
	err = json.NewEncoder(out).Encode(grid)
	if err != nil {
		log.Println("ERROR: encode:", err)
	}
}

// loadCompensation installs a previously probed grid, or a point list,
// from the data directory.
func (a *api) loadCompensation(w http.ResponseWriter, req *http.Request) {
	file := req.FormValue("file")
	if file == "" {
		file = gridFile
	}
	ok, name := safePath(a.dataDir, file)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	data, err := os.ReadFile(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	h, err := a.heightMap(data, req.FormValue("relative") == "1")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.m.SetCompensation(h)
}

// heightMap decodes a saved grid, or a list of arbitrary probe points
// to triangulate. Relative point heights are taken from the first point.
func (a *api) heightMap(data []byte, relative bool) (meshlevel.HeightMap, error) {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		var points []coord.Point
		err := json.Unmarshal(data, &points)
		if err != nil {
			return nil, err
		}
		if relative && len(points) > 0 {
			points = meshlevel.OffsetFrom(points[0].Z, points)
		}
		return meshlevel.NewMesh(points, a.cfg.Probe.Spacing)
	}

	var grid meshlevel.Grid
	err := json.Unmarshal(data, &grid)
	if err != nil {
		return nil, err
	}
	if !grid.IsComplete() {
		return nil, meshlevel.ErrIncomplete
	}
	return &grid, nil
}

func (a *api) clearCompensation(w http.ResponseWriter, req *http.Request) {
	a.m.ClearCompensation()
}

func (a *api) putFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	os.MkdirAll(filepath.Dir(name), 0755)
	f, err := os.Create(name)
	if err != nil {
		log.Printf("ERROR: create '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
	defer f.Close()
	_, err = io.Copy(f, req.Body)
	if err != nil {
		log.Printf("ERROR: write '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}

func (a *api) deleteFile(w http.ResponseWriter, req *http.Request) {
	ok, name := safePath(a.dataDir, req.URL.Path)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	err := os.Remove(name)
	if err != nil {
		log.Printf("ERROR: delete '%s': %+v", name, err)
		http.Error(w, err.Error(), 500)
		return
	}
}
