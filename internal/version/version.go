// Package version exposes build metadata for the tracker service.
// The variables are populated with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

var (
	// Version is the release tag or short commit hash.
	// Set via: -ldflags "-X tracker/internal/version.Version=..."
	Version = "dev"

	// BuildDate is the UTC build timestamp.
	// Set via: -ldflags "-X tracker/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// GitCommit is the commit the binary was built from.
	// Set via: -ldflags "-X tracker/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info holds build metadata plus per-process identity.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns build metadata. The instance ID and hostname are computed
// on first call and cached for the life of the process.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

// String formats version info for the -version flag.
func (i Info) String() string {
	return fmt.Sprintf("tracker %s (commit: %s, built: %s)", i.Version, i.GitCommit, i.BuildDate)
}
