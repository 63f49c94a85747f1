// Package cliprompt provides interactive terminal prompts for dvaultctl.
package cliprompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// ErrPasswordMismatch indicates a password and its confirmation differ.
var ErrPasswordMismatch = errors.New("passwords do not match")

// IsAborted reports whether err indicates the user aborted a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, promptui.ErrInterrupt) {
		return ErrAborted
	}
	return err
}

// Password prompts for a masked password.
func Password(label string) (string, error) {
	prompt := promptui.Prompt{Label: label, Mask: '*'}
	result, err := prompt.Run()
	return result, wrapError(err)
}

// NewPassword prompts for a new vault password with confirmation,
// requiring at least 8 characters.
func NewPassword() (string, error) {
	prompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}
			return nil
		},
	}
	password, err := prompt.Run()
	if err != nil {
		return "", wrapError(err)
	}

	confirm, err := Password("Confirm password")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", ErrPasswordMismatch
	}
	return password, nil
}

// ConfirmWithForce returns true immediately if force is true, otherwise
// prompts label as a yes/no question defaulting to no.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("%s [y/N]", label),
		IsConfirm: true,
	}
	result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, wrapError(err)
	}
	return strings.EqualFold(result, "y") || strings.EqualFold(result, "yes"), nil
}
