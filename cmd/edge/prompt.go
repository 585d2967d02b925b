package main

import (
	"context"

	"github.com/charmbracelet/huh"
)

// huhPrompter implements connection.KeyPrompter using an interactive huh
// form, invoked only when attached to a TTY. When re-prompting is
// disabled the precheck fails outright instead.
type huhPrompter struct{}

func (huhPrompter) PromptForKey(ctx context.Context) (string, error) {
	var key string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Your API key was rejected. Enter a new todoforai API key:").
				Password(true).
				Value(&key),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", err
	}
	return key, nil
}
