package tracking

import (
	"fmt"

	"github.com/pkg/errors"
)

// ViewType filters runs by lifecycle stage in SearchRuns.
type ViewType string

const (
	// ActiveOnly returns only runs that were not deleted.
	ActiveOnly ViewType = "ACTIVE_ONLY"
	// DeletedOnly returns only deleted runs.
	DeletedOnly ViewType = "DELETED_ONLY"
	// AllRuns returns runs regardless of lifecycle stage.
	AllRuns ViewType = "ALL"
)

// RunStatus is the execution status of a run.
type RunStatus string

const (
	// StatusRunning is set when a run is created.
	StatusRunning RunStatus = "RUNNING"
	// StatusFinished is set when a run ends successfully.
	StatusFinished RunStatus = "FINISHED"
	// StatusFailed is set when a run ends with an error.
	StatusFailed RunStatus = "FAILED"
)

// Lifecycle stages.
const (
	StageActive  = "active"
	StageDeleted = "deleted"
)

// Experiment is a named collection of runs.
type Experiment struct {
	ExperimentID     string `json:"experiment_id"`
	Name             string `json:"name"`
	ArtifactLocation string `json:"artifact_location,omitempty"`
	LifecycleStage   string `json:"lifecycle_stage,omitempty"`
}

// RunInfo holds the metadata of a run.
type RunInfo struct {
	RunID          string    `json:"run_id"`
	ExperimentID   string    `json:"experiment_id"`
	Status         RunStatus `json:"status,omitempty"`
	StartTime      int64     `json:"start_time,omitempty"`
	EndTime        int64     `json:"end_time,omitempty"`
	ArtifactURI    string    `json:"artifact_uri,omitempty"`
	LifecycleStage string    `json:"lifecycle_stage,omitempty"`
}

// Metric is a logged numeric value.
type Metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// Param is a logged string parameter.
type Param struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunTag is a string tag on a run.
type RunTag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RunData holds what was logged to a run.
type RunData struct {
	Metrics []Metric `json:"metrics,omitempty"`
	Params  []Param  `json:"params,omitempty"`
	Tags    []RunTag `json:"tags,omitempty"`
}

// Run is a recorded execution unit.
type Run struct {
	Info RunInfo `json:"info"`
	Data RunData `json:"data"`
}

// ParamMap returns the logged parameters keyed by name.
func (r Run) ParamMap() map[string]string {
	out := make(map[string]string, len(r.Data.Params))
	for _, p := range r.Data.Params {
		out[p.Key] = p.Value
	}
	return out
}

// TagMap returns the run tags keyed by name.
func (r Run) TagMap() map[string]string {
	out := make(map[string]string, len(r.Data.Tags))
	for _, t := range r.Data.Tags {
		out[t.Key] = t.Value
	}
	return out
}

// Metric returns the latest logged value of key.
func (r Run) Metric(key string) (float64, bool) {
	var (
		value float64
		found bool
		at    int64
	)
	for _, m := range r.Data.Metrics {
		if m.Key != key {
			continue
		}
		if !found || m.Timestamp >= at {
			value, at, found = m.Value, m.Timestamp, true
		}
	}
	return value, found
}

// ModelVersion is one version of a registered model.
type ModelVersion struct {
	Name              string `json:"name"`
	Version           string `json:"version"`
	Source            string `json:"source,omitempty"`
	RunID             string `json:"run_id,omitempty"`
	Status            string `json:"status,omitempty"`
	CreationTimestamp int64  `json:"creation_timestamp,omitempty"`
}

// RegisteredModel is a named, versioned registry entry.
type RegisteredModel struct {
	Name              string `json:"name"`
	CreationTimestamp int64  `json:"creation_timestamp,omitempty"`
}

// SearchRunsRequest selects runs for SearchRuns.
type SearchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	Filter        string   `json:"filter,omitempty"`
	RunViewType   ViewType `json:"run_view_type,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	OrderBy       []string `json:"order_by,omitempty"`
	PageToken     string   `json:"page_token,omitempty"`
}

// SearchRunsResponse is one page of SearchRuns results.
type SearchRunsResponse struct {
	Runs          []Run  `json:"runs"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// Error codes returned by the tracking server.
const (
	CodeResourceDoesNotExist  = "RESOURCE_DOES_NOT_EXIST"
	CodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	CodeInvalidParameterValue = "INVALID_PARAMETER_VALUE"
)

// APIError is an error response from the tracking server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("tracking server returned %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func hasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsNotFound reports whether err is a RESOURCE_DOES_NOT_EXIST response.
func IsNotFound(err error) bool {
	return hasCode(err, CodeResourceDoesNotExist)
}

// IsAlreadyExists reports whether err is a RESOURCE_ALREADY_EXISTS response.
func IsAlreadyExists(err error) bool {
	return hasCode(err, CodeResourceAlreadyExists)
}
