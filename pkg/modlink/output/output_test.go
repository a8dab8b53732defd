package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/modlink/pkg/modlink/history"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

func sampleState() *types.State {
	st := types.NewState()
	st.InstanceID = "me"
	st.ActiveGameID = "g"
	st.StagingRoot = "/staging"
	st.Discovered["g"] = "/games/g"
	st.Activators["g"] = "symlink"
	st.DeploymentNecessary["g"] = true
	st.Mods["g"] = map[string]types.Mod{
		"a": {ID: "a", State: types.StateInstalled, Attributes: map[string]string{"name": "Alpha"}},
		"b": {ID: "b", State: types.StateInstalling},
	}
	st.Profiles["p"] = types.Profile{
		ID: "p", GameID: "g",
		ModState:  map[string]types.ProfileMod{"a": {Enabled: true}},
		LoadOrder: []string{"b", "a"},
	}
	st.LastActiveProfile["g"] = "p"
	return st
}

func sampleManifests() []*types.Manifest {
	now := time.Now()
	return []*types.Manifest{
		{
			InstanceID: "me", Method: "symlink", ModType: "", DataPath: "/games/g/Data", GameID: "g",
			Entries: []types.Entry{
				{RelPath: "a.esp", Source: "a", Time: now},
				{RelPath: "textures/x.dds", Source: "a", Time: now},
			},
			UpdatedAt: now,
		},
		{InstanceID: "other", Method: "copy", ModType: "enb", DataPath: "/games/g", GameID: "g"},
		{InstanceID: "me", Method: "copy", DataPath: "/elsewhere", GameID: "h"},
	}
}

func TestNewReport(t *testing.T) {
	r := NewReport(sampleState(), "g", sampleManifests(), BuildOptions{
		GameName: "Game",
		Blocked:  func(modType, _ string) bool { return modType == "enb" },
	})

	assert.Equal(t, "Game", r.GameName)
	assert.Equal(t, "symlink", r.Method)
	assert.Equal(t, "/staging/g", r.StagingPath)
	assert.True(t, r.Necessary)

	require.Len(t, r.Directories, 2, "manifests of other games are skipped")
	assert.Equal(t, "", r.Directories[0].ModType)
	assert.Equal(t, 2, r.Directories[0].Files)
	assert.Empty(t, r.Directories[0].Entries)
	assert.True(t, r.Directories[1].Foreign)
	assert.True(t, r.Directories[1].Blocked)
	assert.Equal(t, "never", r.Directories[1].Updated)
	assert.Len(t, r.Warnings, 1)
	assert.Equal(t, 2, r.TotalFiles())

	require.Len(t, r.Mods, 2)
	assert.Equal(t, "b", r.Mods[0].ID, "mods are ordered by priority")
	assert.Equal(t, "Alpha", r.Mods[1].Name)
	assert.True(t, r.Mods[1].Enabled)
	assert.Equal(t, 2, r.Mods[1].Deployed)
}

func TestNewReportEntries(t *testing.T) {
	r := NewReport(sampleState(), "g", sampleManifests(), BuildOptions{Entries: true})
	assert.Equal(t, "g", r.GameName)
	require.Len(t, r.Directories[0].Entries, 2)
	assert.Equal(t, "textures/x.dds", r.Directories[0].Entries[1].RelPath)
}

func TestAddHistory(t *testing.T) {
	r := &Report{}
	r.AddHistory([]history.Record{{ID: "1", Operation: history.OpPurge, Timestamp: time.Now(), Removed: 3, Error: "boom"}})
	require.Len(t, r.History, 1)
	assert.Equal(t, "purge", r.History[0].Operation)
	assert.Equal(t, "boom", r.History[0].Error)
	assert.NotEmpty(t, r.History[0].Age)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "pretty", "tsv", "yaml"}, Available())

	_, err := Get("xml")
	assert.Error(t, err)

	reg := NewRegistry()
	reg.Register("x", func() Formatter { return &JSONFormatter{} })
	f, err := reg.Get("x")
	require.NoError(t, err)
	assert.IsType(t, &JSONFormatter{}, f)
}

func TestTSVFormatter(t *testing.T) {
	r := NewReport(sampleState(), "g", sampleManifests(), BuildOptions{})
	var buf bytes.Buffer
	require.NoError(t, (&TSVFormatter{}).Format(&buf, r))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "MOD_TYPE\tMETHOD\tFILES\tDATA_PATH", lines[0])
	assert.Equal(t, "\tsymlink\t2\t/games/g/Data", lines[1])

	verbose := NewReport(sampleState(), "g", sampleManifests(), BuildOptions{Entries: true})
	buf.Reset()
	require.NoError(t, (&TSVFormatter{}).Format(&buf, verbose))
	assert.Contains(t, buf.String(), "/games/g/Data\ttextures/x.dds\ta\n")
}

func TestJSONFormatter(t *testing.T) {
	r := NewReport(sampleState(), "g", sampleManifests(), BuildOptions{})
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, r))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "g", decoded["game_id"])
	assert.Equal(t, true, decoded["deployment_necessary"])
	assert.Len(t, decoded["directories"], 2)
}

func TestYAMLFormatter(t *testing.T) {
	r := NewReport(sampleState(), "g", sampleManifests(), BuildOptions{})
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Format(&buf, r))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "symlink", decoded["method"])
	assert.Contains(t, buf.String(), "data_path: /games/g/Data")
}

func TestPrettyFormatter(t *testing.T) {
	r := NewReport(sampleState(), "g", sampleManifests(), BuildOptions{GameName: "Game"})
	r.AddHistory([]history.Record{{Operation: history.OpDeploy, DataPath: "/games/g/Data", Added: 2, Timestamp: time.Now()}})
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, r))

	out := buf.String()
	for _, want := range []string{"Game", "symlink", "deployment necessary", "/games/g/Data", "Alpha", "+2 -0", "another installation"} {
		assert.Contains(t, out, want)
	}

	buf.Reset()
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Report{GameName: "Empty"}))
	assert.Contains(t, buf.String(), "Nothing deployed")
	assert.Contains(t, buf.String(), "none")
}

func TestPad(t *testing.T) {
	assert.Equal(t, "  ab", padLeft("ab", 4))
	assert.Equal(t, "ab  ", padRight("ab", 4))
	assert.Equal(t, "abcdef", padLeft("abcdef", 4))
}
