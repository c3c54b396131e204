package dataset

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := Friedman1(20, 1, rand.New(rand.NewSource(1)))

	for _, name := range []string{"plain.pkl", "packed.pkl.gz"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, s))

		got, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, s, got, name)
	}
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(2))
	require.NoError(t, Save(filepath.Join(dir, TrainFile), Friedman1(30, 0, rng)))
	require.NoError(t, Save(filepath.Join(dir, ValFile), Friedman1(10, 0, rng)))

	splits, err := LoadFiles(dir, TrainFile, ValFile)
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, 30, splits[0].Len())
	assert.Equal(t, 10, splits[1].Len())

	_, err = LoadFiles(dir, TrainFile, TestFile)
	assert.Error(t, err)
}

func TestLoadFilesFallsBackToCompressed(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(4))
	train := Friedman1(25, 0, rng)
	val := Friedman1(8, 0, rng)
	require.NoError(t, Save(filepath.Join(dir, TrainFile+".gz"), train))
	require.NoError(t, Save(filepath.Join(dir, ValFile), val))

	splits, err := LoadFiles(dir, TrainFile, ValFile)
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, train, splits[0])
	assert.Equal(t, val, splits[1])

	// the plain file wins when both exist
	require.NoError(t, Save(filepath.Join(dir, TrainFile), val))
	splits, err = LoadFiles(dir, TrainFile)
	require.NoError(t, err)
	assert.Equal(t, val, splits[0])

	_, err = LoadFiles(dir, TestFile)
	assert.ErrorContains(t, err, TestFile)
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pkl")
	require.NoError(t, os.WriteFile(path, []byte("not a split"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFriedman1Shape(t *testing.T) {
	s := Friedman1(5, 0, rand.New(rand.NewSource(3)))
	assert.Equal(t, 5, s.Len())
	assert.Len(t, s.X[0], 10)
}
