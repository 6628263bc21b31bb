package contributions

import (
	"path/filepath"
	"testing"

	"github.com/lattice-editor/exthost/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateTagsOwnership(t *testing.T) {
	extensions := []*types.ExtensionMetadata{
		{
			ID:   "acme.foo",
			Path: "/ext/acme.foo",
			Contributes: &types.Contributions{
				Commands: []types.ContributedCommand{
					{Command: "foo.hello", Title: "Hello"},
				},
			},
		},
		{
			ID:   "acme.bar",
			Path: "/ext/acme.bar",
			Contributes: &types.Contributions{
				Commands: []types.ContributedCommand{
					{Command: "bar.world", Title: "World"},
				},
			},
		},
	}

	agg := Aggregate(extensions)
	require.Len(t, agg.Commands, 2)

	owners := make(map[string]string)
	for _, cmd := range agg.Commands {
		owners[cmd.Command] = cmd.ExtensionID
	}
	// Neither extension's ownership tag is lost in the merge.
	assert.Equal(t, "acme.foo", owners["foo.hello"])
	assert.Equal(t, "acme.bar", owners["bar.world"])
}

func TestAggregateCoversAllContributionPoints(t *testing.T) {
	extensions := []*types.ExtensionMetadata{
		{
			ID:   "acme.kitchen",
			Path: "/ext/acme.kitchen",
			Contributes: &types.Contributions{
				Commands: []types.ContributedCommand{{Command: "k.go", Title: "Go"}},
				Menus: map[string][]types.MenuItem{
					"editor/context": {{Command: "k.go"}},
				},
				Keybindings: []types.Keybinding{{Key: "ctrl+k", Command: "k.go"}},
				Views: map[string][]types.View{
					"sidebar": {{ID: "k.view", Name: "Kitchen"}},
				},
				Configuration: &types.ConfigurationSchema{Title: "Kitchen"},
				Themes:        []types.Theme{{Label: "Dark Kitchen", Path: "themes/dark.json"}},
			},
		},
	}

	agg := Aggregate(extensions)

	require.Len(t, agg.Commands, 1)
	require.Len(t, agg.Menus["editor/context"], 1)
	assert.Equal(t, "acme.kitchen", agg.Menus["editor/context"][0].ExtensionID)
	require.Len(t, agg.Keybindings, 1)
	require.Len(t, agg.Views["sidebar"], 1)
	require.Len(t, agg.Configuration, 1)

	require.Len(t, agg.Themes, 1)
	assert.Equal(t, "acme.kitchen", agg.Themes[0].ExtensionID)
	assert.Equal(t, filepath.Join("/ext/acme.kitchen", "themes/dark.json"), agg.Themes[0].SourcePath)
}

func TestAggregateSkipsNilContributions(t *testing.T) {
	agg := Aggregate([]*types.ExtensionMetadata{{ID: "acme.plain"}})
	assert.Empty(t, agg.Commands)
	assert.Empty(t, agg.Themes)
	assert.NotNil(t, agg.Menus)
}
