package cmd

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nextlevelbuilder/walink/internal/errs"
	"github.com/nextlevelbuilder/walink/internal/jid"
	"github.com/nextlevelbuilder/walink/internal/pairing"
)

// SelectOption is one choice of promptSelect.
type SelectOption[T any] struct {
	Label string
	Value T
}

// selectFilterAbove turns on type-to-filter for longer lists.
const selectFilterAbove = 5

func runForm(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptString asks for one line of text. An empty answer returns
// defaultVal; validate (may be nil) runs on the final value.
func promptString(title, description, defaultVal string, validate func(string) error) (string, error) {
	var value string
	inp := huh.NewInput().Title(title).Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}
	if validate != nil {
		inp = inp.Validate(func(s string) error {
			if strings.TrimSpace(s) == "" && defaultVal != "" {
				return validate(defaultVal)
			}
			return validate(strings.TrimSpace(s))
		})
	}
	if err := runForm(inp); err != nil {
		return "", err
	}
	if value = strings.TrimSpace(value); value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptSecret asks for a token or DSN without echoing it.
func promptSecret(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().Title(title).EchoMode(huh.EchoModePassword).Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if err := runForm(inp); err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// promptPhone asks for a phone number in international format.
func promptPhone(title string) (string, error) {
	return promptString(title, "International format, e.g. +15551234567", "", func(s string) error {
		if !jid.IsUserJID(jid.FormatPhoneNumber(s, "", true)) {
			return fmt.Errorf("not a phone number")
		}
		return nil
	})
}

// promptPairingCode asks for the code shown on the phone and returns it normalised.
func promptPairingCode() (string, error) {
	code, err := promptString("Pairing code", "As shown on the phone (hyphen optional)", "", func(s string) error {
		_, err := pairing.NormalizeCode(s)
		return err
	})
	if err != nil {
		return "", err
	}
	return pairing.NormalizeCode(code)
}

// promptBridgeURL asks for the websocket endpoint of the bridge.
func promptBridgeURL(defaultVal string) (string, error) {
	return promptString("Bridge URL", "Websocket endpoint of the WhatsApp bridge", defaultVal, validateBridgeURL)
}

func validateBridgeURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: %q is not a ws:// or wss:// URL", errs.ErrInvalidInput, s)
	}
	return nil
}

// promptSelect shows a single-choice list with defaultIdx preselected.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value).Selected(i == defaultIdx)
	}
	sel := huh.NewSelect[T]().Title(title).Options(opts...).Value(&value)
	if len(options) > selectFilterAbove {
		sel = sel.Filtering(true)
	}
	if err := runForm(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes
	c := huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&value)
	if err := runForm(c); err != nil {
		return false, err
	}
	return value, nil
}
