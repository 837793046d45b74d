package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

var v *viper.Viper

func init() {
	v = viper.New()

	// Set default values
	v.SetDefault("recbox.home", filepath.Join(xdg.Home, ".recbox"))
	v.SetDefault("output.dir", "")
	v.SetDefault("output.format", "webm")

	// Video track defaults
	v.SetDefault("video.width", 1920)
	v.SetDefault("video.height", 1080)
	v.SetDefault("video.bits_per_pixel", 2)
	v.SetDefault("video.max_keyframe_interval", 60)

	// Audio track defaults (shared by app and mic tracks)
	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.bitrate_per_channel", 32000)

	// Timeline synthesis
	v.SetDefault("record.stall_threshold", "100ms")

	// Extra run time requested when the host signals an imminent suspend
	v.SetDefault("suspend.grace", "5s")

	// Environment variables
	v.AutomaticEnv()
	v.BindEnv("recbox.home", "RECBOX_HOME")
	v.BindEnv("output.dir", "RECBOX_OUTPUT_DIR")
	v.BindEnv("output.format", "RECBOX_OUTPUT_FORMAT")
	v.BindEnv("record.stall_threshold", "RECBOX_STALL_THRESHOLD")
	v.BindEnv("suspend.grace", "RECBOX_SUSPEND_GRACE")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Look for config in the following paths
	configPaths := []string{
		".",
		"$HOME/.recbox",
		"/etc/recbox",
	}

	for _, path := range configPaths {
		expandedPath := os.ExpandEnv(path)
		v.AddConfigPath(expandedPath)
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			panic(fmt.Sprintf("Fatal error reading config file: %s", err))
		}
		// Config file not found; ignore error and use defaults
	}
}

// GetHome returns the recbox home directory
func GetHome() string {
	return v.GetString("recbox.home")
}

// GetOutputDir returns the directory for generated recordings.
// Falls back to <home>/recordings when unset.
func GetOutputDir() string {
	if dir := v.GetString("output.dir"); dir != "" {
		return dir
	}
	return filepath.Join(GetHome(), "recordings")
}

// GetOutputFormat returns the default container format ("webm" or "mp4")
func GetOutputFormat() string {
	return v.GetString("output.format")
}

// GetVideoWidth returns the default video width in pixels
func GetVideoWidth() int {
	return v.GetInt("video.width")
}

// GetVideoHeight returns the default video height in pixels
func GetVideoHeight() int {
	return v.GetInt("video.height")
}

// GetVideoBitsPerPixel returns the bits-per-pixel factor used to derive the
// average video bitrate (width * height * bits_per_pixel)
func GetVideoBitsPerPixel() int {
	return v.GetInt("video.bits_per_pixel")
}

// GetVideoMaxKeyFrameInterval returns the maximum keyframe interval in frames
func GetVideoMaxKeyFrameInterval() int {
	return v.GetInt("video.max_keyframe_interval")
}

// GetAudioSampleRate returns the default audio sample rate in Hz
func GetAudioSampleRate() int {
	return v.GetInt("audio.sample_rate")
}

// GetAudioChannels returns the default audio channel count
func GetAudioChannels() int {
	return v.GetInt("audio.channels")
}

// GetAudioBitRatePerChannel returns the default audio bitrate per channel
func GetAudioBitRatePerChannel() int {
	return v.GetInt("audio.bitrate_per_channel")
}

// GetStallThreshold returns the wall-clock gap above which the timeline
// substitutes the previous interval instead of the raw elapsed time
func GetStallThreshold() time.Duration {
	return v.GetDuration("record.stall_threshold")
}

// GetSuspendGrace returns the grant duration requested on suspend
func GetSuspendGrace() time.Duration {
	return v.GetDuration("suspend.grace")
}
