// Package contributions merges declarative contribution points across
// all known extensions into one structure for UI consumption.
package contributions

import (
	"path/filepath"
	"sort"

	"github.com/lattice-editor/exthost/internal/shared/types"
)

// Aggregate collects contribution points from every extension in the
// list, active or not, tagging each item with its source extension id.
// Theme entries additionally resolve the theme file path against the
// extension's install directory.
func Aggregate(extensions []*types.ExtensionMetadata) *types.AggregateContributions {
	agg := &types.AggregateContributions{
		Commands:      []types.TaggedCommand{},
		Menus:         make(map[string][]types.TaggedMenuItem),
		Keybindings:   []types.TaggedKeybinding{},
		Views:         make(map[string][]types.TaggedView),
		Configuration: []types.TaggedConfiguration{},
		Themes:        []types.TaggedTheme{},
	}

	sorted := make([]*types.ExtensionMetadata, len(extensions))
	copy(sorted, extensions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for _, meta := range sorted {
		contrib := meta.Contributes
		if contrib == nil {
			continue
		}

		for _, cmd := range contrib.Commands {
			agg.Commands = append(agg.Commands, types.TaggedCommand{
				ContributedCommand: cmd,
				ExtensionID:        meta.ID,
			})
		}

		for menu, items := range contrib.Menus {
			for _, item := range items {
				agg.Menus[menu] = append(agg.Menus[menu], types.TaggedMenuItem{
					MenuItem:    item,
					ExtensionID: meta.ID,
				})
			}
		}

		for _, binding := range contrib.Keybindings {
			agg.Keybindings = append(agg.Keybindings, types.TaggedKeybinding{
				Keybinding:  binding,
				ExtensionID: meta.ID,
			})
		}

		for container, views := range contrib.Views {
			for _, view := range views {
				agg.Views[container] = append(agg.Views[container], types.TaggedView{
					View:        view,
					ExtensionID: meta.ID,
				})
			}
		}

		if contrib.Configuration != nil {
			agg.Configuration = append(agg.Configuration, types.TaggedConfiguration{
				ConfigurationSchema: *contrib.Configuration,
				ExtensionID:         meta.ID,
			})
		}

		for _, theme := range contrib.Themes {
			agg.Themes = append(agg.Themes, types.TaggedTheme{
				Theme:       theme,
				ExtensionID: meta.ID,
				SourcePath:  filepath.Join(meta.Path, theme.Path),
			})
		}
	}

	return agg
}
