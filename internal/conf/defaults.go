// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Default handle pool sizing.
const (
	DefaultHandlerCapacity = 128
	DefaultBatchSize       = 64
	DefaultTickRate        = 50
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "pointaudio")
	viper.SetDefault("main.log.enabled", false)
	viper.SetDefault("main.log.path", "logs/pointaudio.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 10485760)

	viper.SetDefault("audio.backend", BackendSim)
	viper.SetDefault("audio.bankpath", "banks")
	viper.SetDefault("audio.banks", []string{})
	viper.SetDefault("audio.loadsamples", true)
	viper.SetDefault("audio.runtimevariables", "")
	viper.SetDefault("audio.tickrate", DefaultTickRate)

	viper.SetDefault("audio.handlers.capacity", DefaultHandlerCapacity)
	viper.SetDefault("audio.handlers.batchsize", DefaultBatchSize)
	viper.SetDefault("audio.handlers.workers", 0)

	viper.SetDefault("audio.output.samplerate", 48000)
	viper.SetDefault("audio.output.channels", 2)
	viper.SetDefault("audio.output.bufferframes", 512)

	viper.SetDefault("metrics.enabled", true)

	viper.SetDefault("diagnostics.enabled", false)
	viper.SetDefault("diagnostics.listen", "127.0.0.1:8089")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
	viper.SetDefault("telemetry.debug", false)
}
