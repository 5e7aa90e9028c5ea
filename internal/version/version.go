// Package version carries build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X github.com/banshee-data/kinetic/internal/version.Version=1.2.0"
package version

import "fmt"

var (
	// Version is the release of the kinetic controller.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info is the build metadata as served over the API.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the stamped build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

func (i Info) String() string {
	sha := i.GitSHA
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return fmt.Sprintf("kinetic %s (%s, built %s)", i.Version, sha, i.BuildTime)
}
