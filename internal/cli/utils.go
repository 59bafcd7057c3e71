package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
)

// errSetupCanceled is returned when the user interrupts a prompt
var errSetupCanceled = errors.New("setup canceled")

// stringValidator adapts a string check to survey's validator signature
func stringValidator(check func(string) error) survey.Validator {
	return func(ans interface{}) error {
		s, ok := ans.(string)
		if !ok {
			return fmt.Errorf("unexpected answer type %T", ans)
		}
		return check(strings.TrimSpace(s))
	}
}

// promptInput asks for a line of text, retrying until check accepts it
func promptInput(message, defaultValue string, check func(string) error) (string, error) {
	var out string
	prompt := &survey.Input{
		Message: message,
		Default: defaultValue,
	}
	var opts []survey.AskOpt
	if check != nil {
		opts = append(opts, survey.WithValidator(stringValidator(check)))
	}
	if err := survey.AskOne(prompt, &out, opts...); err != nil {
		return "", translatePromptErr(err)
	}
	return strings.TrimSpace(out), nil
}

// promptRequired asks for a value that may not be empty
func promptRequired(message, defaultValue string) (string, error) {
	return promptInput(message, defaultValue, func(s string) error {
		if s == "" {
			return fmt.Errorf("this field is required")
		}
		return nil
	})
}

// promptYesNo asks a yes/no question
func promptYesNo(message string, defaultValue bool) (bool, error) {
	var out bool
	prompt := &survey.Confirm{
		Message: message,
		Default: defaultValue,
	}
	if err := survey.AskOne(prompt, &out); err != nil {
		return false, translatePromptErr(err)
	}
	return out, nil
}

// promptSelect asks the user to pick one of options
func promptSelect(message string, options []string, defaultValue string) (string, error) {
	var out string
	prompt := &survey.Select{
		Message: message,
		Options: options,
	}
	if defaultValue != "" {
		prompt.Default = defaultValue
	}
	if err := survey.AskOne(prompt, &out); err != nil {
		return "", translatePromptErr(err)
	}
	return out, nil
}

func translatePromptErr(err error) error {
	if errors.Is(err, terminal.InterruptErr) {
		return errSetupCanceled
	}
	return err
}
