// conf/config.go
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/pointaudio/pointaudio/internal/errors"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings contains all configuration options for pointaudio.
type Settings struct {
	Debug bool // true to enable debug mode, turns stale handle access into errors

	Main struct {
		Name string    // name of the running host, used in log and metric labels
		Log  LogConfig // file log settings
	}

	Audio       AudioSettings
	Metrics     MetricsSettings
	Diagnostics DiagnosticsSettings
	Telemetry   TelemetrySettings
}

// AudioSettings holds the middleware and handle pool settings.
type AudioSettings struct {
	Backend          string   // middleware implementation: "sim" or "malgo"
	BankPath         string   // directory holding bank manifests
	Banks            []string // banks loaded at startup
	LoadSamples      bool     // decode sample data when a bank is loaded
	RuntimeVariables string   // path to the runtime variables file, empty disables it
	TickRate         int      // fixed update rate in Hz
	Handlers         HandlerSettings
	Output           OutputSettings
}

// HandlerSettings configures the handle slot pool and its maintenance jobs.
type HandlerSettings struct {
	Capacity  int // initial slot count
	BatchSize int // slots per parallel-for batch
	Workers   int // concurrent batches, 0 uses the detected core count
}

// OutputSettings configures the playback device used by the malgo backend.
type OutputSettings struct {
	SampleRate   int
	Channels     int
	BufferFrames int
}

// MetricsSettings controls prometheus collection.
type MetricsSettings struct {
	Enabled bool
}

// DiagnosticsSettings controls the diagnostics HTTP server.
type DiagnosticsSettings struct {
	Enabled bool
	Listen  string // host:port
}

// TelemetrySettings controls sentry error reporting. Opt-in.
type TelemetrySettings struct {
	Enabled bool
	DSN     string
	Debug   bool
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled  bool         // true to enable this log
	Path     string       // Path to the log file
	Rotation RotationType // Type of log rotation
	MaxSize  int64        // Max size in bytes for RotationSize
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

const (
	BackendSim   = "sim"
	BackendMalgo = "malgo"
)

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
// An empty configFile searches the default config paths.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings, err := unmarshal()
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// Reload re-reads the already located configuration file, validating before
// replacing the current settings.
func Reload() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "reload-config").
			Build()
	}

	settings, err := unmarshal()
	if err != nil {
		return nil, err
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func unmarshal() (*Settings, error) {
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	settings.Audio.BankPath = ResolvePath(settings.Audio.BankPath, configFile)
	settings.Audio.RuntimeVariables = ResolvePath(settings.Audio.RuntimeVariables, configFile)
	settings.Main.Log.Path = ResolvePath(settings.Main.Log.Path, configFile)
	return settings, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("POINTAUDIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaultConfig()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Context("operation", "read-config").
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance, nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
