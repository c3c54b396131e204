// Package mlflowtest provides an in-memory tracking server speaking the subset
// of the MLflow REST API used by package tracking.
package mlflowtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/thalesfsp/hoflow/tracking"
)

// Server is an in-memory tracking server. The zero value is not usable; call
// NewServer.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	experiments []*tracking.Experiment
	runs        []*tracking.Run
	models      map[string][]tracking.ModelVersion
	artifacts   map[string][]byte
	clock       int64
	requests    map[string]int
}

// NewServer starts a server. Close it when done.
func NewServer() *Server {
	s := &Server{
		models:    make(map[string][]tracking.ModelVersion),
		artifacts: make(map[string][]byte),
		requests:  make(map[string]int),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/2.0/mlflow").Subrouter()
	api.HandleFunc("/experiments/get-by-name", s.getExperimentByName).Methods(http.MethodGet)
	api.HandleFunc("/experiments/create", s.createExperiment).Methods(http.MethodPost)
	api.HandleFunc("/runs/create", s.createRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/get", s.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/log-parameter", s.logParam).Methods(http.MethodPost)
	api.HandleFunc("/runs/log-metric", s.logMetric).Methods(http.MethodPost)
	api.HandleFunc("/runs/log-batch", s.logBatch).Methods(http.MethodPost)
	api.HandleFunc("/runs/update", s.updateRun).Methods(http.MethodPost)
	api.HandleFunc("/runs/search", s.searchRuns).Methods(http.MethodPost)
	api.HandleFunc("/registered-models/create", s.createRegisteredModel).Methods(http.MethodPost)
	api.HandleFunc("/model-versions/create", s.createModelVersion).Methods(http.MethodPost)
	r.PathPrefix("/api/2.0/mlflow-artifacts/artifacts/").HandlerFunc(s.putArtifact).Methods(http.MethodPut)
	r.Use(s.count)

	s.Server = httptest.NewServer(r)
	return s
}

//////
// Inspection helpers for tests.
//////

// Experiment returns the named experiment.
func (s *Server) Experiment(name string) (tracking.Experiment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.experimentByName(name); e != nil {
		return *e, true
	}
	return tracking.Experiment{}, false
}

// Runs returns copies of the runs of the named experiment in creation order.
func (s *Server) Runs(experimentName string) []tracking.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.experimentByName(experimentName)
	if e == nil {
		return nil
	}
	var out []tracking.Run
	for _, r := range s.runs {
		if r.Info.ExperimentID == e.ExperimentID {
			out = append(out, *r)
		}
	}
	return out
}

// Artifact returns the bytes stored at the relative artifact location, e.g.
// "1/<run_id>/artifacts/model/model.json".
func (s *Server) Artifact(location string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.artifacts[location]
	return b, ok
}

// ArtifactPaths returns the artifact paths stored for a run, relative to the
// run's artifact root.
func (s *Server) ArtifactPaths(runID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k := range s.artifacts {
		parts := strings.SplitN(k, "/", 4)
		if len(parts) == 4 && parts[1] == runID && parts[2] == "artifacts" {
			out = append(out, parts[3])
		}
	}
	sort.Strings(out)
	return out
}

// ModelVersions returns the versions of a registered model in order.
func (s *Server) ModelVersions(name string) []tracking.ModelVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tracking.ModelVersion(nil), s.models[name]...)
}

// Requests returns how many requests hit the given path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// DeleteRun marks a run deleted so ACTIVE_ONLY searches skip it.
func (s *Server) DeleteRun(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.run(runID); r != nil {
		r.Info.LifecycleStage = tracking.StageDeleted
	}
}

//////
// Handlers.
//////

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[r.URL.Path]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getExperimentByName(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := r.URL.Query().Get("experiment_name")
	e := s.experimentByName(name)
	if e == nil {
		writeError(w, http.StatusNotFound, tracking.CodeResourceDoesNotExist, fmt.Sprintf("Could not find experiment with name '%s'", name))
		return
	}
	writeJSON(w, map[string]any{"experiment": e})
}

func (s *Server) createExperiment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, tracking.CodeInvalidParameterValue, "missing name")
		return
	}
	if s.experimentByName(req.Name) != nil {
		writeError(w, http.StatusBadRequest, tracking.CodeResourceAlreadyExists, fmt.Sprintf("Experiment '%s' already exists.", req.Name))
		return
	}
	id := strconv.Itoa(len(s.experiments) + 1)
	s.experiments = append(s.experiments, &tracking.Experiment{
		ExperimentID:     id,
		Name:             req.Name,
		ArtifactLocation: "mlflow-artifacts:/" + id,
		LifecycleStage:   tracking.StageActive,
	})
	writeJSON(w, map[string]string{"experiment_id": id})
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ExperimentID string            `json:"experiment_id"`
		StartTime    int64             `json:"start_time"`
		Tags         []tracking.RunTag `json:"tags"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var exp *tracking.Experiment
	for _, e := range s.experiments {
		if e.ExperimentID == req.ExperimentID {
			exp = e
		}
	}
	if exp == nil {
		writeError(w, http.StatusNotFound, tracking.CodeResourceDoesNotExist, "no experiment "+req.ExperimentID)
		return
	}
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	s.clock++
	run := &tracking.Run{
		Info: tracking.RunInfo{
			RunID:          id,
			ExperimentID:   exp.ExperimentID,
			Status:         tracking.StatusRunning,
			StartTime:      s.clock,
			ArtifactURI:    exp.ArtifactLocation + "/" + id + "/artifacts",
			LifecycleStage: tracking.StageActive,
		},
		Data: tracking.RunData{Tags: req.Tags},
	}
	s.runs = append(s.runs, run)
	writeJSON(w, map[string]any{"run": run})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.run(r.URL.Query().Get("run_id"))
	if run == nil {
		writeError(w, http.StatusNotFound, tracking.CodeResourceDoesNotExist, "no such run")
		return
	}
	writeJSON(w, map[string]any{"run": run})
}

func (s *Server) logParam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		tracking.Param
	}
	if !decode(w, r, &req) {
		return
	}
	s.withRun(w, req.RunID, func(run *tracking.Run) bool {
		return s.addParams(w, run, []tracking.Param{req.Param})
	})
}

func (s *Server) logMetric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID string `json:"run_id"`
		tracking.Metric
	}
	if !decode(w, r, &req) {
		return
	}
	s.withRun(w, req.RunID, func(run *tracking.Run) bool {
		run.Data.Metrics = append(run.Data.Metrics, req.Metric)
		return true
	})
}

func (s *Server) logBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string            `json:"run_id"`
		Params  []tracking.Param  `json:"params"`
		Metrics []tracking.Metric `json:"metrics"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.withRun(w, req.RunID, func(run *tracking.Run) bool {
		if !s.addParams(w, run, req.Params) {
			return false
		}
		run.Data.Metrics = append(run.Data.Metrics, req.Metrics...)
		return true
	})
}

func (s *Server) updateRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID   string             `json:"run_id"`
		Status  tracking.RunStatus `json:"status"`
		EndTime int64              `json:"end_time"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.withRun(w, req.RunID, func(run *tracking.Run) bool {
		run.Info.Status = req.Status
		run.Info.EndTime = req.EndTime
		return true
	})
}

var runIDFilter = regexp.MustCompile(`^\s*attributes\.run_id\s+IN\s+\((.*)\)\s*$`)

func (s *Server) searchRuns(w http.ResponseWriter, r *http.Request) {
	var req tracking.SearchRunsRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var allowed map[string]bool
	if req.Filter != "" {
		m := runIDFilter.FindStringSubmatch(req.Filter)
		if m == nil {
			writeError(w, http.StatusBadRequest, tracking.CodeInvalidParameterValue, "unsupported filter "+req.Filter)
			return
		}
		allowed = make(map[string]bool)
		for _, id := range strings.Split(m[1], ",") {
			allowed[strings.Trim(strings.TrimSpace(id), `'"`)] = true
		}
	}

	experiments := make(map[string]bool)
	for _, id := range req.ExperimentIDs {
		experiments[id] = true
	}

	var matched []*tracking.Run
	for _, run := range s.runs {
		if !experiments[run.Info.ExperimentID] {
			continue
		}
		if allowed != nil && !allowed[run.Info.RunID] {
			continue
		}
		deleted := run.Info.LifecycleStage == tracking.StageDeleted
		switch req.RunViewType {
		case tracking.DeletedOnly:
			if !deleted {
				continue
			}
		case tracking.AllRuns:
		default:
			if deleted {
				continue
			}
		}
		matched = append(matched, run)
	}

	if err := orderRuns(matched, req.OrderBy); err != nil {
		writeError(w, http.StatusBadRequest, tracking.CodeInvalidParameterValue, err.Error())
		return
	}

	if req.MaxResults > 0 && len(matched) > req.MaxResults {
		matched = matched[:req.MaxResults]
	}

	resp := tracking.SearchRunsResponse{Runs: []tracking.Run{}}
	for _, run := range matched {
		resp.Runs = append(resp.Runs, *run)
	}
	writeJSON(w, resp)
}

// orderRuns sorts by the first order_by clause. With no clause runs come
// newest first. Ties keep creation order and runs lacking the metric go last.
func orderRuns(runs []*tracking.Run, orderBy []string) error {
	if len(orderBy) == 0 {
		sort.SliceStable(runs, func(i, j int) bool { return runs[i].Info.StartTime > runs[j].Info.StartTime })
		return nil
	}
	fields := strings.Fields(orderBy[0])
	if len(fields) == 0 || len(fields) > 2 || !strings.HasPrefix(fields[0], "metrics.") {
		return fmt.Errorf("unsupported order_by %q", orderBy[0])
	}
	key := strings.TrimPrefix(fields[0], "metrics.")
	desc := len(fields) == 2 && strings.EqualFold(fields[1], "DESC")

	sort.SliceStable(runs, func(i, j int) bool {
		vi, oki := runs[i].Metric(key)
		vj, okj := runs[j].Metric(key)
		switch {
		case !oki || !okj:
			return oki && !okj
		case desc:
			return vi > vj
		default:
			return vi < vj
		}
	})
	return nil
}

func (s *Server) createRegisteredModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[req.Name]; ok {
		writeError(w, http.StatusBadRequest, tracking.CodeResourceAlreadyExists, fmt.Sprintf("Registered Model (name=%s) already exists.", req.Name))
		return
	}
	s.models[req.Name] = []tracking.ModelVersion{}
	writeJSON(w, map[string]any{"registered_model": tracking.RegisteredModel{Name: req.Name}})
}

func (s *Server) createModelVersion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string `json:"name"`
		Source string `json:"source"`
		RunID  string `json:"run_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.models[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, tracking.CodeResourceDoesNotExist, "no registered model "+req.Name)
		return
	}
	mv := tracking.ModelVersion{
		Name:    req.Name,
		Version: strconv.Itoa(len(versions) + 1),
		Source:  req.Source,
		RunID:   req.RunID,
		Status:  "READY",
	}
	s.models[req.Name] = append(versions, mv)
	writeJSON(w, map[string]any{"model_version": mv})
}

func (s *Server) putArtifact(w http.ResponseWriter, r *http.Request) {
	location := strings.TrimPrefix(r.URL.Path, "/api/2.0/mlflow-artifacts/artifacts/")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, tracking.CodeInvalidParameterValue, err.Error())
		return
	}
	s.mu.Lock()
	s.artifacts[location] = body
	s.mu.Unlock()
	writeJSON(w, map[string]string{})
}

//////
// Helpers. Callers of experimentByName and run hold s.mu.
//////

func (s *Server) experimentByName(name string) *tracking.Experiment {
	for _, e := range s.experiments {
		if e.Name == name {
			return e
		}
	}
	return nil
}

func (s *Server) run(id string) *tracking.Run {
	for _, r := range s.runs {
		if r.Info.RunID == id {
			return r
		}
	}
	return nil
}

func (s *Server) withRun(w http.ResponseWriter, id string, fn func(*tracking.Run) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := s.run(id)
	if run == nil {
		writeError(w, http.StatusNotFound, tracking.CodeResourceDoesNotExist, "no such run "+id)
		return
	}
	if fn(run) {
		writeJSON(w, map[string]string{})
	}
}

// addParams rejects changing an already logged value, like the real server.
func (s *Server) addParams(w http.ResponseWriter, run *tracking.Run, params []tracking.Param) bool {
	existing := run.ParamMap()
	for _, p := range params {
		if v, ok := existing[p.Key]; ok {
			if v != p.Value {
				writeError(w, http.StatusBadRequest, tracking.CodeInvalidParameterValue, "changing param values is not allowed: "+p.Key)
				return false
			}
			continue
		}
		run.Data.Params = append(run.Data.Params, p)
		existing[p.Key] = p.Value
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, tracking.CodeInvalidParameterValue, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(tracking.APIError{Code: code, Message: msg})
}
