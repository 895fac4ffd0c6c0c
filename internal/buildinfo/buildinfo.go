package buildinfo

import "runtime"

// Injectées à la compilation:
//
//	-X github.com/Guilhem-Bonnet/streamhub/internal/buildinfo.Version=v0.1.0
//	-X github.com/Guilhem-Bonnet/streamhub/internal/buildinfo.Commit=abcdef
//	-X github.com/Guilhem-Bonnet/streamhub/internal/buildinfo.Date=2026-10-15
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Date      string `json:"date,omitempty"`
	GoVersion string `json:"goVersion"`
}

func Current() Info {
	return Info{Version: Version, Commit: Commit, Date: Date, GoVersion: runtime.Version()}
}
