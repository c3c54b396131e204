package main

import (
	"math/rand"
	"os"
	"path/filepath"

	arg "github.com/alexflint/go-arg"
	"go.uber.org/zap"

	"github.com/thalesfsp/hoflow/dataset"
	"github.com/thalesfsp/hoflow/internal/logging"
)

type args struct {
	Out   string  `arg:"--out" default:"./output" help:"directory receiving train.pkl, val.pkl and test.pkl"`
	Train int     `arg:"--train" default:"2000"`
	Val   int     `arg:"--val" default:"500"`
	Test  int     `arg:"--test" default:"500"`
	Noise float64 `arg:"--noise" default:"1.0" help:"stddev of the gaussian noise added to the target"`
	Seed  int64   `arg:"--seed" default:"1"`
	// Compress writes gzip-compressed *.pkl.gz splits.
	Compress bool `arg:"--compress" help:"write gzip-compressed splits (train.pkl.gz, ...)"`
}

func (args) Description() string {
	return "Writes Friedman #1 regression splits for the search and promotion programs."
}

func main() {
	var a args
	arg.MustParse(&a)

	logger := logging.New(false)
	defer logger.Sync()

	if err := os.MkdirAll(a.Out, 0o755); err != nil {
		logger.Fatal("creating output directory", zap.Error(err))
	}

	rng := rand.New(rand.NewSource(a.Seed))
	for _, split := range []struct {
		name string
		rows int
	}{
		{dataset.TrainFile, a.Train},
		{dataset.ValFile, a.Val},
		{dataset.TestFile, a.Test},
	} {
		path := filepath.Join(a.Out, split.name)
		if a.Compress {
			path += ".gz"
		}
		if err := dataset.Save(path, dataset.Friedman1(split.rows, a.Noise, rng)); err != nil {
			logger.Fatal("writing split", zap.String("path", path), zap.Error(err))
		}
		logger.Info("wrote split", zap.String("path", path), zap.Int("rows", split.rows))
	}
}
