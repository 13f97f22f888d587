package conf

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch reloads settings whenever the config file is written and passes the
// new settings to onChange. Invalid edits are logged and the previous settings kept.
func Watch(logger *slog.Logger, onChange func(*Settings)) {
	if logger == nil {
		logger = slog.Default()
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		settings, err := Reload()
		if err != nil {
			logger.Warn("config reload rejected", "file", e.Name, "error", err)
			return
		}

		logger.Info("config reloaded", "file", e.Name)
		onChange(settings)
	})
	viper.WatchConfig()
}

// ConfigFileUsed returns the path of the loaded config file.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
