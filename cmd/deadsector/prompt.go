package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/jamesainslie/deadsector/pkg/deadsector/quarantine"
)

// ErrAborted is returned when the user presses Ctrl+C at a prompt.
var ErrAborted = errors.New("aborted by user")

// confirm prompts the user for yes/no confirmation.
func confirm(label string, defaultYes bool) (bool, error) {
	defaultStr := "y/N"
	if defaultYes {
		defaultStr = "Y/n"
	}

	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("%s [%s]", label, defaultStr),
		IsConfirm: true,
	}

	result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		// promptui returns ErrAbort for "n"
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if result == "" {
			return defaultYes, nil
		}
		return false, err
	}

	answer := strings.ToLower(result)
	return answer == "y" || answer == "yes", nil
}

// confirmer returns the quarantine.Confirmer for a command. --yes answers
// every prompt; without a terminal there is nobody to ask, so it returns
// nil and the quarantine manager refuses to delete.
func confirmer(assumeYes bool) quarantine.Confirmer {
	if assumeYes {
		return func(string) (bool, error) { return true, nil }
	}
	if !isTerminal(os.Stdin) {
		return nil
	}
	return func(label string) (bool, error) {
		return confirm(label, false)
	}
}
