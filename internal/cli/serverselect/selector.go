// Package serverselect picks the profile, and so the server, a command runs against.
package serverselect

import (
	"fmt"

	"github.com/manifoldco/promptui"

	"github.com/flock-dev/flock/internal/cli/userconfig"
)

// Prompter asks the user to choose one of the profiles
type Prompter func(profiles []userconfig.Profile) (int, error)

// ResolveProfile determines which profile to use based on the following priority:
// 1. The profile named by the --profile flag
// 2. The current profile from the user config
// 3. The only profile, if there is exactly one
// 4. Otherwise, ask the user
//
// Choices made in steps 3 and 4 become the current profile. The caller saves cfg.
func ResolveProfile(cfg *userconfig.UserConfig, name string, prompt Prompter) (*userconfig.Profile, error) {
	if name != "" {
		return cfg.Profile(name)
	}

	if cfg.Current != "" {
		if p, err := cfg.Profile(cfg.Current); err == nil {
			return p, nil
		}
		// Current profile was removed from the file
		cfg.Current = ""
	}

	switch len(cfg.Profiles) {
	case 0:
		return nil, fmt.Errorf("no profiles configured, run 'flock login --server <url>' first")
	case 1:
		cfg.Current = cfg.Profiles[0].Name
		return &cfg.Profiles[0], nil
	}

	if prompt == nil {
		prompt = PromptProfileSelection
	}
	index, err := prompt(cfg.Profiles)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(cfg.Profiles) {
		return nil, fmt.Errorf("invalid profile selection %d", index)
	}
	cfg.Current = cfg.Profiles[index].Name
	return &cfg.Profiles[index], nil
}

// PromptProfileSelection shows an interactive prompt for the user to select a profile
func PromptProfileSelection(profiles []userconfig.Profile) (int, error) {
	type option struct {
		Label string
	}
	options := make([]option, len(profiles))
	for i, p := range profiles {
		options[i] = option{Label: fmt.Sprintf("%s (%s)", p.Name, p.Server)}
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Select a profile",
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return 0, fmt.Errorf("profile selection cancelled: %w", err)
	}
	return index, nil
}
