// Package tracking is a client for an MLflow-compatible tracking server:
// experiments, runs with params/metrics/artifacts, run search and the model
// registry.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultTrackingURI is used when no tracking URI is configured.
const DefaultTrackingURI = "http://127.0.0.1:8080"

const (
	apiPrefix      = "/api/2.0/mlflow"
	artifactPrefix = "/api/2.0/mlflow-artifacts/artifacts"
)

// Client talks to one tracking server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
	// fs stores artifacts for runs whose artifact URI is a local path
	fs  afero.Fs
	now func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger. Requests are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithFs sets the filesystem used for local artifact locations.
func WithFs(fs afero.Fs) Option {
	return func(c *Client) { c.fs = fs }
}

// NewClient returns a client for the server at trackingURI. An empty URI
// selects DefaultTrackingURI.
func NewClient(trackingURI string, opts ...Option) *Client {
	if trackingURI == "" {
		trackingURI = DefaultTrackingURI
	}
	c := &Client{
		baseURL: strings.TrimRight(trackingURI, "/"),
		http:    &http.Client{},
		logger:  zap.NewNop(),
		fs:      afero.NewOsFs(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TrackingURI returns the server address.
func (c *Client) TrackingURI() string {
	return c.baseURL
}

func (c *Client) millis() int64 {
	return c.now().UnixNano() / int64(time.Millisecond)
}

// call performs a JSON API request. in is sent as the body for POST and as
// query values for GET; out, if non-nil, receives the decoded response.
func (c *Client) call(ctx context.Context, method, endpoint string, query url.Values, in, out any) error {
	u := c.baseURL + apiPrefix + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encoding %s request", endpoint)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Wrapf(err, "building %s request", endpoint)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, endpoint, out)
}

func (c *Client) send(req *http.Request, what string, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, what)
	}
	defer resp.Body.Close()

	c.logger.Debug("tracking request",
		zap.String("method", req.Method),
		zap.String("endpoint", what),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "reading %s response", what)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return errors.WithStack(apiErr)
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decoding %s response", what)
}

//////
// Experiments.
//////

// GetExperimentByName looks up an experiment. A missing experiment is an
// error matching IsNotFound.
func (c *Client) GetExperimentByName(ctx context.Context, name string) (*Experiment, error) {
	var resp struct {
		Experiment Experiment `json:"experiment"`
	}
	q := url.Values{"experiment_name": {name}}
	if err := c.call(ctx, http.MethodGet, "/experiments/get-by-name", q, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "getting experiment %q", name)
	}
	return &resp.Experiment, nil
}

// CreateExperiment creates an experiment and returns its ID.
func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp struct {
		ExperimentID string `json:"experiment_id"`
	}
	req := map[string]string{"name": name}
	if err := c.call(ctx, http.MethodPost, "/experiments/create", nil, req, &resp); err != nil {
		return "", errors.Wrapf(err, "creating experiment %q", name)
	}
	return resp.ExperimentID, nil
}

// SetExperiment returns the named experiment, creating it when missing.
func (c *Client) SetExperiment(ctx context.Context, name string) (*Experiment, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	if err == nil {
		return exp, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	id, err := c.CreateExperiment(ctx, name)
	if err != nil && !IsAlreadyExists(err) {
		return nil, err
	}
	if err == nil {
		c.logger.Info("created experiment", zap.String("name", name), zap.String("experiment_id", id))
	}
	return c.GetExperimentByName(ctx, name)
}

//////
// Runs.
//////

// CreateRun starts a new run in the experiment.
func (c *Client) CreateRun(ctx context.Context, experimentID string, tags map[string]string) (*Run, error) {
	req := struct {
		ExperimentID string   `json:"experiment_id"`
		StartTime    int64    `json:"start_time"`
		Tags         []RunTag `json:"tags,omitempty"`
	}{ExperimentID: experimentID, StartTime: c.millis()}
	for k, v := range tags {
		req.Tags = append(req.Tags, RunTag{Key: k, Value: v})
	}

	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.call(ctx, http.MethodPost, "/runs/create", nil, req, &resp); err != nil {
		return nil, errors.Wrapf(err, "creating run in experiment %s", experimentID)
	}
	return &resp.Run, nil
}

// GetRun fetches a run by ID.
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	var resp struct {
		Run Run `json:"run"`
	}
	if err := c.call(ctx, http.MethodGet, "/runs/get", url.Values{"run_id": {runID}}, nil, &resp); err != nil {
		return nil, errors.Wrapf(err, "getting run %s", runID)
	}
	return &resp.Run, nil
}

// LogParam logs a single parameter.
func (c *Client) LogParam(ctx context.Context, runID, key, value string) error {
	req := map[string]string{"run_id": runID, "key": key, "value": value}
	return errors.Wrapf(c.call(ctx, http.MethodPost, "/runs/log-parameter", nil, req, nil), "logging param %s", key)
}

// LogMetric logs a single metric at step 0.
func (c *Client) LogMetric(ctx context.Context, runID, key string, value float64) error {
	req := struct {
		RunID string `json:"run_id"`
		Metric
	}{RunID: runID, Metric: Metric{Key: key, Value: value, Timestamp: c.millis()}}
	return errors.Wrapf(c.call(ctx, http.MethodPost, "/runs/log-metric", nil, req, nil), "logging metric %s", key)
}

// LogBatch logs params and metrics in one request.
func (c *Client) LogBatch(ctx context.Context, runID string, params []Param, metrics []Metric) error {
	ts := c.millis()
	for i := range metrics {
		if metrics[i].Timestamp == 0 {
			metrics[i].Timestamp = ts
		}
	}
	req := struct {
		RunID   string   `json:"run_id"`
		Params  []Param  `json:"params,omitempty"`
		Metrics []Metric `json:"metrics,omitempty"`
	}{RunID: runID, Params: params, Metrics: metrics}
	return errors.Wrapf(c.call(ctx, http.MethodPost, "/runs/log-batch", nil, req, nil), "logging batch to run %s", runID)
}

// SetTerminated marks a run as ended with the given status.
func (c *Client) SetTerminated(ctx context.Context, runID string, status RunStatus) error {
	req := struct {
		RunID   string    `json:"run_id"`
		Status  RunStatus `json:"status"`
		EndTime int64     `json:"end_time"`
	}{RunID: runID, Status: status, EndTime: c.millis()}
	return errors.Wrapf(c.call(ctx, http.MethodPost, "/runs/update", nil, req, nil), "terminating run %s", runID)
}

// SearchRuns returns one page of runs matching req.
func (c *Client) SearchRuns(ctx context.Context, req SearchRunsRequest) (*SearchRunsResponse, error) {
	if req.RunViewType == "" {
		req.RunViewType = ActiveOnly
	}
	var resp SearchRunsResponse
	if err := c.call(ctx, http.MethodPost, "/runs/search", nil, req, &resp); err != nil {
		return nil, errors.Wrapf(err, "searching runs in %v", req.ExperimentIDs)
	}
	return &resp, nil
}

//////
// Registry.
//////

// CreateRegisteredModel creates a registry entry.
func (c *Client) CreateRegisteredModel(ctx context.Context, name string) error {
	req := map[string]string{"name": name}
	return errors.Wrapf(c.call(ctx, http.MethodPost, "/registered-models/create", nil, req, nil), "creating registered model %q", name)
}

// CreateModelVersion appends a version to a registered model.
func (c *Client) CreateModelVersion(ctx context.Context, name, source, runID string) (*ModelVersion, error) {
	req := map[string]string{"name": name, "source": source, "run_id": runID}
	var resp struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	if err := c.call(ctx, http.MethodPost, "/model-versions/create", nil, req, &resp); err != nil {
		return nil, errors.Wrapf(err, "creating version of %q", name)
	}
	return &resp.ModelVersion, nil
}

// RegisterModel registers the artifact at modelURI under name, creating the
// registry entry on first use. modelURI is either "runs:/<run_id>/<path>" or
// a plain artifact location. Every call appends a new version.
func (c *Client) RegisterModel(ctx context.Context, modelURI, name string) (*ModelVersion, error) {
	if err := c.CreateRegisteredModel(ctx, name); err != nil && !IsAlreadyExists(err) {
		return nil, err
	}

	source, runID := modelURI, ""
	if id, path, ok := ParseRunsURI(modelURI); ok {
		run, err := c.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		runID = id
		source = joinArtifactPath(run.Info.ArtifactURI, path)
	}

	mv, err := c.CreateModelVersion(ctx, name, source, runID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("registered model version",
		zap.String("name", mv.Name),
		zap.String("version", mv.Version),
		zap.String("run_id", mv.RunID))
	return mv, nil
}

// RunsURI builds a "runs:/" model URI.
func RunsURI(runID, path string) string {
	return "runs:/" + runID + "/" + strings.TrimLeft(path, "/")
}

// ParseRunsURI splits a "runs:/<run_id>/<path>" URI.
func ParseRunsURI(uri string) (runID, path string, ok bool) {
	rest := strings.TrimPrefix(uri, "runs:/")
	if rest == uri {
		return "", "", false
	}
	rest = strings.TrimLeft(rest, "/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", false
	}
	if len(parts) == 2 {
		path = parts[1]
	}
	return parts[0], path, true
}

func joinArtifactPath(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
