package version

import (
	"fmt"
	"runtime/debug"
)

// AppName is the service name reported in logs, metrics and traces
const AppName = "diary"

// set via -ldflags "-X github.com/keithlinneman/diary/internal/version.Version=..."
var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	GoVersion  string
	VCSDirty   *bool
)

type Info struct {
	App        string `json:"app"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date,omitempty"`
	BuildDate  string `json:"build_date,omitempty"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

// String renders a one-line banner, used by -version
func (i Info) String() string {
	s := fmt.Sprintf("%s %s (commit %s", i.App, i.Version, ShortCommit(i.Commit))
	if i.BuildDate != "" {
		s += ", built " + i.BuildDate
	}
	if i.VCSDirty != nil && *i.VCSDirty {
		s += ", dirty"
	}
	return s + ", " + i.GoVersion + ")"
}

// ShortCommit trims a full sha to 12 characters
func ShortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}

// Get merges ldflags values with whatever the toolchain stamped into the binary.
// ldflags win for commit and build date; VCSDirty from the build info wins when present.
func Get() Info {
	out := Info{
		App:        AppName,
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		GoVersion:  GoVersion,
		VCSDirty:   VCSDirty,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	out.GoVersion = bi.GoVersion
	if out.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		out.Version = bi.Main.Version
	}

	var dirty *bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if out.Commit == "none" && s.Value != "" {
				out.Commit = s.Value
			}
		case "vcs.time":
			if out.BuildDate == "" && s.Value != "" {
				out.BuildDate = s.Value
			}
			if out.CommitDate == "" {
				out.CommitDate = s.Value
			}
		case "vcs.modified":
			b := s.Value == "true"
			if s.Value == "true" || s.Value == "false" {
				dirty = &b
			}
		}
	}
	if dirty != nil {
		out.VCSDirty = dirty
	}
	return out
}
