package update

import (
	"net/url"
	"strings"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
)

// ChangelogFile is where the downloaded changelog is written.
const ChangelogFile = "Changelog.txt"

// Artifact is one file fetched by an update.
type Artifact struct {
	// Name is the live file name in the work directory.
	Name string
	URL  string
	// Swap artifacts are binaries promoted through staged -> live. The changelog is not swapped.
	Swap bool
}

// StagedName is the file an artifact downloads to before promotion.
func (a Artifact) StagedName() string {
	if !a.Swap {
		return a.Name
	}
	return a.Name + ".update"
}

// PreviousName is the backup the live file is moved to during promotion.
func (a Artifact) PreviousName() string { return "prev_" + a.Name }

// Channel returns the release channel name.
func Channel(release bool) string {
	if release {
		return "release"
	}
	return "latest"
}

// ArtifactBase expands {channel} and {platform} in the configured artifact URL.
func ArtifactBase(cfg config.UpdateConfig, release bool) string {
	base := strings.NewReplacer("{channel}", Channel(release), "{platform}", cfg.Platform).Replace(cfg.ArtifactBaseURL)
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base
}

// Plan lists the artifacts of an update: the server binary, each launcher, then the changelog.
func Plan(cfg config.UpdateConfig, binary string, release bool) []Artifact {
	base := ArtifactBase(cfg, release)
	out := []Artifact{{Name: binary, URL: base + url.PathEscape(binary), Swap: true}}
	for _, l := range cfg.Launchers {
		if l == "" || l == binary {
			continue
		}
		out = append(out, Artifact{Name: l, URL: base + url.PathEscape(l), Swap: true})
	}
	if cfg.ChangelogURL != "" {
		out = append(out, Artifact{Name: ChangelogFile, URL: cfg.ChangelogURL})
	}
	return out
}
