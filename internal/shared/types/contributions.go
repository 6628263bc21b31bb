package types

// Contributions is the declarative contribution block of a manifest.
type Contributions struct {
	Commands      []ContributedCommand    `json:"commands,omitempty"`
	Menus         map[string][]MenuItem   `json:"menus,omitempty"`
	Keybindings   []Keybinding            `json:"keybindings,omitempty"`
	Views         map[string][]View       `json:"views,omitempty"`
	Configuration *ConfigurationSchema    `json:"configuration,omitempty"`
	Themes        []Theme                 `json:"themes,omitempty"`
}

// ContributedCommand is a command declared (not yet registered) by a manifest.
type ContributedCommand struct {
	Command  string `json:"command"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// MenuItem places a command in a named menu.
type MenuItem struct {
	Command string `json:"command"`
	When    string `json:"when,omitempty"`
	Group   string `json:"group,omitempty"`
}

// Keybinding binds a chord to a command.
type Keybinding struct {
	Key     string `json:"key"`
	Command string `json:"command"`
	When    string `json:"when,omitempty"`
	Mac     string `json:"mac,omitempty"`
}

// View is a contributed UI panel.
type View struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConfigurationSchema declares settings an extension understands.
type ConfigurationSchema struct {
	Title      string                            `json:"title,omitempty"`
	Properties map[string]map[string]interface{} `json:"properties,omitempty"`
}

// Theme is a contributed color theme.
type Theme struct {
	Label   string `json:"label"`
	UITheme string `json:"uiTheme,omitempty"`
	Path    string `json:"path"`
}

// Tagged variants carry the owning extension id for the aggregate view.

// TaggedCommand is a contributed command tagged with its source extension.
type TaggedCommand struct {
	ContributedCommand
	ExtensionID string `json:"extension_id"`
}

// TaggedMenuItem is a menu entry tagged with its source extension.
type TaggedMenuItem struct {
	MenuItem
	ExtensionID string `json:"extension_id"`
}

// TaggedKeybinding is a keybinding tagged with its source extension.
type TaggedKeybinding struct {
	Keybinding
	ExtensionID string `json:"extension_id"`
}

// TaggedView is a view tagged with its source extension.
type TaggedView struct {
	View
	ExtensionID string `json:"extension_id"`
}

// TaggedConfiguration is a configuration schema tagged with its source extension.
type TaggedConfiguration struct {
	ConfigurationSchema
	ExtensionID string `json:"extension_id"`
}

// TaggedTheme is a theme tagged with its source extension and on-disk path.
type TaggedTheme struct {
	Theme
	ExtensionID string `json:"extension_id"`
	SourcePath  string `json:"source_path"`
}

// AggregateContributions merges contribution points across all known extensions.
type AggregateContributions struct {
	Commands      []TaggedCommand             `json:"commands"`
	Menus         map[string][]TaggedMenuItem `json:"menus"`
	Keybindings   []TaggedKeybinding          `json:"keybindings"`
	Views         map[string][]TaggedView     `json:"views"`
	Configuration []TaggedConfiguration       `json:"configuration"`
	Themes        []TaggedTheme               `json:"themes"`
}
