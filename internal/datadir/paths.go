// Package datadir lays out the on-disk tree: one directory per account under
// ~/.sigstate holding the settings database, the lock, the control socket and
// the logs.
package datadir

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "SIGSTATE_HOME"

// BaseDir returns $SIGSTATE_HOME, or ~/.sigstate.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".sigstate")
}

// AccountDir returns the directory of one account.
func AccountDir(handle string) string {
	return filepath.Join(BaseDir(), "accounts", handle)
}

// SocketPath returns the control socket path for an account.
func SocketPath(handle string) string {
	return filepath.Join(AccountDir(handle), "daemon.sock")
}

// DBPath returns the settings database path.
func DBPath(handle string) string {
	return filepath.Join(AccountDir(handle), "state.db")
}

// LogDir returns the log directory for an account.
func LogDir(handle string) string {
	return filepath.Join(AccountDir(handle), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(handle string) string {
	return filepath.Join(LogDir(handle), "sigstated.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the account directory tree with owner-only permissions.
func EnsureDir(handle string) error {
	for _, d := range []string{AccountDir(handle), LogDir(handle)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
