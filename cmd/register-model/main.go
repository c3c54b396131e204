package main

import (
	"context"

	arg "github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thalesfsp/hoflow/internal/logging"
	"github.com/thalesfsp/hoflow/internal/register"
	"github.com/thalesfsp/hoflow/tracking"
)

type args struct {
	DataPath    string `arg:"--data_path" default:"./output" help:"location where the processed data was saved"`
	TopN        int    `arg:"--top_n" default:"5" help:"number of top models that need to be evaluated to decide which one to promote"`
	TrackingURI string `arg:"--tracking_uri,env:MLFLOW_TRACKING_URI" default:"http://127.0.0.1:8080" help:"tracking server address"`
	Debug       bool   `arg:"--debug" help:"log tracking requests"`
}

func (args) Description() string {
	return "Retrains the best search runs and registers the one with the lowest test RMSE."
}

func main() {
	// a missing .env file is fine
	_ = godotenv.Load()

	var a args
	p := arg.MustParse(&a)
	if a.TopN < 1 {
		p.Fail("--top_n must be >= 1")
	}

	logger := logging.New(a.Debug)
	defer logger.Sync()

	client := tracking.NewClient(a.TrackingURI, tracking.WithLogger(logger))

	res, err := register.Run(context.Background(), client, register.Config{
		DataPath: a.DataPath,
		TopN:     a.TopN,
	}, logger)
	if err != nil {
		logger.Fatal("promotion failed", zap.Error(err))
	}
	logger.Info("promotion complete",
		zap.String("run_id", res.RunID),
		zap.String("version", res.Version.Version),
		zap.Float64("test_rmse", res.TestRMSE))
}
