package audiocore

import "time"

// Pool and tick defaults
const (
	// DefaultInitialCapacity is the number of slots allocated up front
	DefaultInitialCapacity = 128

	// DefaultBatchSize is the number of slots one job batch visits
	DefaultBatchSize = 64

	// DefaultTickRate is the fixed-update frequency in Hz
	DefaultTickRate = 50

	// DefaultManagerID labels metrics for a manager created without an ID
	DefaultManagerID = "main"

	// descriptionCacheTTL bounds how long a resolved event description is reused
	descriptionCacheTTL = 5 * time.Minute

	// staleLogInterval throttles repeated stale-handle errors
	staleLogInterval = time.Second
)

// Distance overrides below zero mean "use the event's own attenuation".
const unsetDistance float32 = -1

// Operation names used in logs and the stale-access metric.
const (
	opPlay           = "play"
	opStop           = "stop"
	opCreateInstance = "create_instance"
	opSetVolume      = "set_volume"
	opSetParameter   = "set_parameter"
)
