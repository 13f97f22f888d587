// Package buildinfo holds build-time metadata injected at startup, kept
// apart from user configuration.
package buildinfo

import (
	"fmt"

	"github.com/google/uuid"
)

// UnknownValue stands in for metadata the build did not provide.
const UnknownValue = "unknown"

// Context describes the running binary.
type Context struct {
	version   string
	buildDate string
	// SystemID distinguishes one process from another in telemetry
	systemID string
}

// NewContext creates build metadata. An empty systemID is replaced by a
// random one.
func NewContext(version, buildDate, systemID string) *Context {
	if systemID == "" {
		systemID = uuid.NewString()
	}
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

// Version returns the build version, UnknownValue when unset.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build date, UnknownValue when unset.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// SystemID returns the process identifier.
func (c *Context) SystemID() string {
	if c == nil {
		return UnknownValue
	}
	return c.systemID
}

// String formats the metadata for --version output.
func (c *Context) String() string {
	return fmt.Sprintf("%s (built %s)", c.Version(), c.BuildDate())
}
