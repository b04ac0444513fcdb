package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	t.Parallel()

	c := EmptyTuningConfig()
	assert.Equal(t, 2, c.GetNumCameras())
	assert.Equal(t, 0, c.GetNumMasks())
	assert.Equal(t, 5*time.Millisecond, c.GetMatchingThreshold())
	assert.Equal(t, 2, c.GetMinRequiredStreams(), "every camera by default")
	assert.Equal(t, 100, c.GetImageBufferSize())
	assert.Equal(t, 200, c.GetImuBufferSize())
	assert.Equal(t, 30, c.GetPoseHistorySize())
	assert.Equal(t, 10, c.GetCovarianceMinSamples())
	assert.False(t, c.GetEnableMapping())
	assert.Equal(t, "tcp://localhost:1883", c.GetMQTTBroker())
	assert.Equal(t, ":8080", c.GetListenAddr())
}

func TestPartialConfigOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
		"num_cameras": 4,
		"num_masks": 4,
		"matching_threshold": "2ms",
		"min_required_streams": 4,
		"pose_history_size": 50
	}`)
	c, err := LoadTuningConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4, c.GetNumCameras())
	assert.Equal(t, 4, c.GetNumMasks())
	assert.Equal(t, 2*time.Millisecond, c.GetMatchingThreshold())
	assert.Equal(t, 4, c.GetMinRequiredStreams())
	assert.Equal(t, 50, c.GetPoseHistorySize())

	// Untouched fields keep their defaults.
	assert.Equal(t, 200, c.GetImuBufferSize())
	assert.Equal(t, "fusiontrack", c.GetMQTTTopic())
}

func TestMinRequiredStreamsFollowsCameraCount(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"num_cameras": 3, "num_masks": 3}`)
	c, err := LoadTuningConfig(path)
	require.NoError(t, err)

	// Mask streams never raise the group minimum.
	assert.Equal(t, 3, c.GetMinRequiredStreams())
}

func TestValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"zero cameras", `{"num_cameras": 0}`},
		{"negative masks", `{"num_masks": -1}`},
		{"masks exceed cameras", `{"num_cameras": 2, "num_masks": 3}`},
		{"bad duration", `{"matching_threshold": "fast"}`},
		{"tiny history", `{"pose_history_size": 1}`},
		{"mapping without folder", `{"enable_mapping": true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadTuningConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := LoadTuningConfig(path)
	assert.Error(t, err)
}

func TestMappingConfigComplete(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"enable_mapping": true, "map_folder_path": "/maps/site"}`)
	c, err := LoadTuningConfig(path)
	require.NoError(t, err)
	assert.True(t, c.GetEnableMapping())
	assert.Equal(t, "/maps/site", c.GetMapFolderPath())
}
