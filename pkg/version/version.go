// Package version derives the running build's identity from embedded build
// metadata. An -ldflags override wins, then the VCS revision the toolchain
// stamps into the binary, then "dev".
package version

import "runtime/debug"

// AppName prefixes every version string reported in logs and on /status.
const AppName = "agentdeck"

// gitCommitOverride can be injected at build time (-ldflags "-X ...") for
// builds done outside a git checkout, such as container images.
var gitCommitOverride string

// GitCommit holds the short commit hash, or "dev" when none is available
// (go test binaries, builds from exported source trees).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full renders the combined identity, e.g. "agentdeck/1a2b3c4d".
func Full() string {
	return AppName + "/" + GitCommit
}
