package update

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/RandomStrangers/MCGalaxy-Extended/internal/config"
)

func TestPlan(t *testing.T) {
	cfg := config.UpdateConfig{
		Platform:        "linux-amd64",
		ArtifactBaseURL: "https://cdn.example/mcg/{channel}/{platform}",
		ChangelogURL:    "https://cdn.example/Changelog.txt",
		Launchers:       []string{"MCGalaxyCLI", "MCGalaxy", ""},
	}
	got := Plan(cfg, "MCGalaxy", false)
	assert.Equal(t, []Artifact{
		{Name: "MCGalaxy", URL: "https://cdn.example/mcg/latest/linux-amd64/MCGalaxy", Swap: true},
		{Name: "MCGalaxyCLI", URL: "https://cdn.example/mcg/latest/linux-amd64/MCGalaxyCLI", Swap: true},
		{Name: ChangelogFile, URL: "https://cdn.example/Changelog.txt"},
	}, got)
}

func TestArtifactNames(t *testing.T) {
	bin := Artifact{Name: "MCGalaxy", Swap: true}
	assert.Equal(t, "MCGalaxy.update", bin.StagedName())
	assert.Equal(t, "prev_MCGalaxy", bin.PreviousName())

	log := Artifact{Name: ChangelogFile}
	assert.Equal(t, ChangelogFile, log.StagedName())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "restart_pending", StateRestartPending.String())
	assert.Equal(t, "idle", StateIdle.String())
}
