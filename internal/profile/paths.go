package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatrelay, or $CHATRELAY_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("CHATRELAY_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatrelay")
}

// ProfilesDir holds one directory per profile.
func ProfilesDir() string {
	return filepath.Join(BaseDir(), "profiles")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(ProfilesDir(), name)
}

// SocketPath returns the health socket of a running client.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "client.sock")
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the message cache database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "chat.db")
}

// TokenPath returns the default bearer token file.
func TokenPath(name string) string {
	return filepath.Join(Dir(name), "token")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the client log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chat.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with owner-only permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// List returns the names of profiles that have a directory on disk.
func List() ([]string, error) {
	entries, err := os.ReadDir(ProfilesDir())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
