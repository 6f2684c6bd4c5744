package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// The file may hold API keys, so it is held to the same rules as an SSH key.
const maxFileSize = 1 << 20

var (
	// ErrConfigPath is returned for a config file outside the config dirs.
	ErrConfigPath = errors.New("config file must be in ~/.config/ragd/ or /etc/ragd/")
	// ErrInsecureFile is returned for a config file readable by others.
	ErrInsecureFile = errors.New("insecure config file permissions")
	// ErrFileTooLarge is returned for a config file over 1 MiB.
	ErrFileTooLarge = errors.New("config file too large")
)

// DefaultPath returns ~/.config/ragd/config.yaml.
func DefaultPath() (string, error) {
	dir, err := userDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func userDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ragd"), nil
}

// checkPath rejects paths that do not resolve, after following symlinks,
// to somewhere below an allowed config directory. The file need not exist.
func checkPath(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", path, err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}

	user, err := userDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{user, "/etc/ragd"} {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return ErrConfigPath
}

// readFile returns the contents of the config file at path, or nil when it
// does not exist. Permissions and size are checked on the open descriptor.
func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if perm := info.Mode().Perm(); runtime.GOOS != "windows" && perm&0o077 != 0 {
		return nil, fmt.Errorf("%w: %s is %v, want 0600 or 0400", ErrInsecureFile, path, perm)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, info.Size(), maxFileSize)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, maxFileSize)
	}
	return data, nil
}
