package main

import(
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestsNamesTheFlag(t *testing.T) {
	dir := t.TempDir()
	calFile := filepath.Join(dir, "intrinsic.json")
	cameras := `{"cameras": {"front": {"intrinsic": [40, 0, 16, 0, 40, 12, 0, 0, 1], "dist_coeffs": [], "dims": [32, 24]}}}`
	require.NoError(t, os.WriteFile(calFile, []byte(cameras), 0644))
	dsFile := filepath.Join(dir, "dataset.json")
	require.NoError(t, os.WriteFile(dsFile, []byte(`{"front": []}`), 0644))

	_, _, err := loadManifests(filepath.Join(dir, "nope.json"), dsFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--calibration_path")

	_, _, err = loadManifests(calFile, filepath.Join(dir, "nope.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dataset_path")

	cal, ds, err := loadManifests(calFile, dsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"front"}, cal.Names())
	assert.Contains(t, ds, "front")
}
