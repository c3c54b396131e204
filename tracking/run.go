package tracking

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ActiveRun is a run opened by StartRun that has to be closed with End.
type ActiveRun struct {
	client *Client
	info   RunInfo
	ended  bool
}

// StartRun creates a run in the experiment and returns a handle to it.
func (c *Client) StartRun(ctx context.Context, experimentID string, tags map[string]string) (*ActiveRun, error) {
	run, err := c.CreateRun(ctx, experimentID, tags)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("started run", zap.String("run_id", run.Info.RunID), zap.String("experiment_id", experimentID))
	return &ActiveRun{client: c, info: run.Info}, nil
}

// ID returns the run ID.
func (r *ActiveRun) ID() string {
	return r.info.RunID
}

// Info returns the run metadata as returned at creation.
func (r *ActiveRun) Info() RunInfo {
	return r.info
}

// LogParams logs every entry of params in a single batch, in key order.
func (r *ActiveRun) LogParams(ctx context.Context, params map[string]string) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := make([]Param, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, Param{Key: k, Value: params[k]})
	}
	return r.client.LogBatch(ctx, r.info.RunID, batch, nil)
}

// LogMetrics logs every entry of metrics in a single batch, in key order.
func (r *ActiveRun) LogMetrics(ctx context.Context, metrics map[string]float64) error {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := make([]Metric, 0, len(keys))
	for _, k := range keys {
		batch = append(batch, Metric{Key: k, Value: metrics[k]})
	}
	return r.client.LogBatch(ctx, r.info.RunID, nil, batch)
}

// LogMetric logs one metric value.
func (r *ActiveRun) LogMetric(ctx context.Context, key string, value float64) error {
	return r.client.LogMetric(ctx, r.info.RunID, key, value)
}

// LogArtifact stores body under artifactPath in the run's artifact root.
func (r *ActiveRun) LogArtifact(ctx context.Context, artifactPath string, body []byte) error {
	return r.client.LogArtifact(ctx, r.info, artifactPath, body)
}

// End closes the run: FINISHED when runErr is nil, FAILED otherwise. It
// returns runErr, or the termination error when runErr is nil. Calling End
// again is a no-op returning runErr.
//
//	run, err := client.StartRun(ctx, expID, nil)
//	if err != nil {
//	    return err
//	}
//	defer func() { err = run.End(ctx, err) }()
func (r *ActiveRun) End(ctx context.Context, runErr error) error {
	if r.ended {
		return runErr
	}
	r.ended = true

	status := StatusFinished
	if runErr != nil {
		status = StatusFailed
	}

	if err := r.client.SetTerminated(ctx, r.info.RunID, status); err != nil {
		if runErr != nil {
			r.client.logger.Error("could not mark run failed", zap.String("run_id", r.info.RunID), zap.Error(err))
			return runErr
		}
		return errors.Wrap(err, "ending run")
	}
	return runErr
}
