package datadir

import (
	"errors"

	"github.com/matheus3301/sigstate/internal/config"
)

// ErrNoAccount is returned when neither the flag nor the config names an account.
var ErrNoAccount = errors.New("no account given: pass --account or set default_account in config.toml")

// Resolve determines the active account using precedence:
// 1. flagOverride (--account flag)
// 2. config.toml default_account
// The result is validated.
func Resolve(flagOverride string) (string, error) {
	handle := flagOverride
	if handle == "" {
		if cfg, err := config.Load(ConfigPath()); err == nil {
			handle = cfg.DefaultAccount
		}
	}
	if handle == "" {
		return "", ErrNoAccount
	}
	if err := ValidateHandle(handle); err != nil {
		return "", err
	}
	return handle, nil
}
