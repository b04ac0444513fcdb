package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig is the root configuration for the tracking pipeline.
// All fields are pointers so a partial JSON file only overrides what it
// names; the Get* accessors supply defaults for the rest.
type TuningConfig struct {
	// Stream layout
	NumCameras *int `json:"num_cameras,omitempty"`
	NumMasks   *int `json:"num_masks,omitempty"`

	// Synchronizer params
	MatchingThreshold  *string `json:"matching_threshold,omitempty"` // duration string like "5ms"
	MinRequiredStreams *int    `json:"min_required_streams,omitempty"`
	ImageBufferSize    *int    `json:"image_buffer_size,omitempty"`

	// Sequencer params
	ImuBufferSize      *int    `json:"imu_buffer_size,omitempty"`
	ImuJitterThreshold *string `json:"imu_jitter_threshold,omitempty"`

	// Tick params
	ImageJitterThreshold *string `json:"image_jitter_threshold,omitempty"`
	PoseHistorySize      *int    `json:"pose_history_size,omitempty"`
	CovarianceMinSamples *int    `json:"covariance_min_samples,omitempty"`

	// Map maintenance params
	EnableMapping     *bool   `json:"enable_mapping,omitempty"`
	MapFolderPath     *string `json:"map_folder_path,omitempty"`
	LocalizeOnStartup *bool   `json:"localize_on_startup,omitempty"`

	// Ingress and egress
	MQTTBroker *string `json:"mqtt_broker,omitempty"`
	MQTTTopic  *string `json:"mqtt_topic_prefix,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields nil, so
// every accessor reports its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file. Fields
// omitted from the file keep their defaults, so partial configs are
// safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *TuningConfig) Validate() error {
	if c.NumCameras != nil && *c.NumCameras < 1 {
		return fmt.Errorf("num_cameras must be at least 1, got %d", *c.NumCameras)
	}
	if c.NumMasks != nil {
		if *c.NumMasks < 0 {
			return fmt.Errorf("num_masks must be non-negative, got %d", *c.NumMasks)
		}
		cameras := 2
		if c.NumCameras != nil {
			cameras = *c.NumCameras
		}
		if *c.NumMasks > cameras {
			return fmt.Errorf("num_masks %d exceeds num_cameras %d", *c.NumMasks, cameras)
		}
	}
	for name, v := range map[string]*string{
		"matching_threshold":     c.MatchingThreshold,
		"imu_jitter_threshold":   c.ImuJitterThreshold,
		"image_jitter_threshold": c.ImageJitterThreshold,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}
	if c.MinRequiredStreams != nil && *c.MinRequiredStreams < 1 {
		return fmt.Errorf("min_required_streams must be at least 1, got %d", *c.MinRequiredStreams)
	}
	if c.PoseHistorySize != nil && *c.PoseHistorySize < 2 {
		return fmt.Errorf("pose_history_size must be at least 2, got %d", *c.PoseHistorySize)
	}
	if c.EnableMapping != nil && *c.EnableMapping {
		if c.MapFolderPath == nil || *c.MapFolderPath == "" {
			return fmt.Errorf("map_folder_path is required when enable_mapping is set")
		}
	}
	return nil
}

// GetNumCameras returns the num_cameras value or the default.
func (c *TuningConfig) GetNumCameras() int {
	if c.NumCameras == nil {
		return 2 // stereo
	}
	return *c.NumCameras
}

// GetNumMasks returns the num_masks value or the default.
func (c *TuningConfig) GetNumMasks() int {
	if c.NumMasks == nil {
		return 0
	}
	return *c.NumMasks
}

// GetMatchingThreshold parses the matching_threshold duration.
func (c *TuningConfig) GetMatchingThreshold() time.Duration {
	return durationOr(c.MatchingThreshold, 5*time.Millisecond)
}

// GetMinRequiredStreams returns min_required_streams, defaulting to
// every camera stream. Masks never count toward the minimum.
func (c *TuningConfig) GetMinRequiredStreams() int {
	if c.MinRequiredStreams == nil {
		return c.GetNumCameras()
	}
	return *c.MinRequiredStreams
}

// GetImageBufferSize returns the image_buffer_size value or the default.
func (c *TuningConfig) GetImageBufferSize() int {
	if c.ImageBufferSize == nil {
		return 100
	}
	return *c.ImageBufferSize
}

// GetImuBufferSize returns the imu_buffer_size value or the default.
func (c *TuningConfig) GetImuBufferSize() int {
	if c.ImuBufferSize == nil {
		return 200
	}
	return *c.ImuBufferSize
}

// GetImuJitterThreshold parses the imu_jitter_threshold duration.
func (c *TuningConfig) GetImuJitterThreshold() time.Duration {
	return durationOr(c.ImuJitterThreshold, 10*time.Millisecond)
}

// GetImageJitterThreshold parses the image_jitter_threshold duration.
// Zero disables the inter-batch gap warning.
func (c *TuningConfig) GetImageJitterThreshold() time.Duration {
	return durationOr(c.ImageJitterThreshold, 34*time.Millisecond)
}

// GetPoseHistorySize returns the pose_history_size value or the default.
func (c *TuningConfig) GetPoseHistorySize() int {
	if c.PoseHistorySize == nil {
		return 30
	}
	return *c.PoseHistorySize
}

// GetCovarianceMinSamples returns the covariance_min_samples value or
// the default.
func (c *TuningConfig) GetCovarianceMinSamples() int {
	if c.CovarianceMinSamples == nil {
		return 10
	}
	return *c.CovarianceMinSamples
}

// GetEnableMapping returns the enable_mapping value or the default.
func (c *TuningConfig) GetEnableMapping() bool {
	if c.EnableMapping == nil {
		return false
	}
	return *c.EnableMapping
}

// GetMapFolderPath returns the map_folder_path value or the default.
func (c *TuningConfig) GetMapFolderPath() string {
	if c.MapFolderPath == nil {
		return ""
	}
	return *c.MapFolderPath
}

// GetLocalizeOnStartup returns the localize_on_startup value or the default.
func (c *TuningConfig) GetLocalizeOnStartup() bool {
	if c.LocalizeOnStartup == nil {
		return false
	}
	return *c.LocalizeOnStartup
}

// GetMQTTBroker returns the mqtt_broker value or the default.
func (c *TuningConfig) GetMQTTBroker() string {
	if c.MQTTBroker == nil {
		return "tcp://localhost:1883"
	}
	return *c.MQTTBroker
}

// GetMQTTTopic returns the mqtt_topic_prefix value or the default.
func (c *TuningConfig) GetMQTTTopic() string {
	if c.MQTTTopic == nil {
		return "fusiontrack"
	}
	return *c.MQTTTopic
}

// GetListenAddr returns the listen_addr value or the default.
func (c *TuningConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetDBPath returns the db_path value or the default.
func (c *TuningConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "fusiontrack.db"
	}
	return *c.DBPath
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
