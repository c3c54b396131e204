package main

import (
	"context"

	arg "github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/thalesfsp/hoflow/internal/hpo"
	"github.com/thalesfsp/hoflow/internal/logging"
	"github.com/thalesfsp/hoflow/tracking"
)

type args struct {
	DataPath    string `arg:"--data_path" default:"./output" help:"location where the processed data was saved"`
	NumTrials   int    `arg:"--num_trials" default:"15" help:"number of parameter evaluations for the optimizer to explore"`
	TrackingURI string `arg:"--tracking_uri,env:MLFLOW_TRACKING_URI" default:"http://127.0.0.1:8080" help:"tracking server address"`
	Seed        int64  `arg:"--seed" default:"42" help:"seed of the optimizer random state"`
	Algo        string `arg:"--algo" default:"tpe" help:"search strategy: tpe, rand or gp"`
	Output      string `arg:"--output" default:"best_params.json" help:"file receiving the best parameters"`
	Debug       bool   `arg:"--debug" help:"log tracking requests"`
}

func (args) Description() string {
	return "Searches random forest hyperparameters and logs every trial to the tracking server."
}

func main() {
	// a missing .env file is fine
	_ = godotenv.Load()

	var a args
	p := arg.MustParse(&a)
	if a.NumTrials < 1 {
		p.Fail("--num_trials must be >= 1")
	}

	logger := logging.New(a.Debug)
	defer logger.Sync()

	algo, err := hpo.AlgorithmByName(a.Algo)
	if err != nil {
		p.Fail(err.Error())
	}

	client := tracking.NewClient(a.TrackingURI, tracking.WithLogger(logger))

	_, err = hpo.Run(context.Background(), client, hpo.Config{
		DataPath:  a.DataPath,
		NumTrials: a.NumTrials,
		Seed:      a.Seed,
		Algorithm: algo,
		Output:    a.Output,
	}, logger)
	if err != nil {
		logger.Fatal("search failed", zap.Error(err))
	}
}
