package queue

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrInvalidMask    = errors.New("queue: invalid send mask")
	ErrInvalidPattern = errors.New("queue: receive name pattern needs exactly one integer verb")
	ErrInvalidConfig  = errors.New("queue: invalid config")
)

// Config names the directory set one queue operates on.
type Config struct {
	SendDir     string
	Mask        string
	BackupDir   string
	ReceiveDir  string
	NamePattern string
	// CounterFile is resolved against ReceiveDir when relative.
	CounterFile string
	// Capacity bounds the largest file sent or received.
	Capacity int
}

func DefaultConfig() Config {
	return Config{
		SendDir:     ".",
		Mask:        "*_2_send.txt",
		BackupDir:   "sent",
		ReceiveDir:  ".",
		NamePattern: "msg_received_%05d.txt",
		CounterFile: ".counter",
		Capacity:    100000,
	}
}

// WithDefaults fills empty fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.SendDir) == "" {
		c.SendDir = def.SendDir
	}
	if strings.TrimSpace(c.Mask) == "" {
		c.Mask = def.Mask
	}
	if strings.TrimSpace(c.BackupDir) == "" {
		c.BackupDir = def.BackupDir
	}
	if strings.TrimSpace(c.ReceiveDir) == "" {
		c.ReceiveDir = def.ReceiveDir
	}
	if strings.TrimSpace(c.NamePattern) == "" {
		c.NamePattern = def.NamePattern
	}
	if strings.TrimSpace(c.CounterFile) == "" {
		c.CounterFile = def.CounterFile
	}
	if c.Capacity <= 0 {
		c.Capacity = def.Capacity
	}
	return c
}

var integerVerb = regexp.MustCompile(`%[-+# 0]*[0-9]*[dxXob]`)

func (c Config) Validate() error {
	if _, err := filepath.Match(c.Mask, ""); err != nil || strings.ContainsRune(c.Mask, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidMask, c.Mask)
	}
	verbs := strings.Count(strings.ReplaceAll(c.NamePattern, "%%", ""), "%")
	if verbs != 1 || !integerVerb.MatchString(strings.ReplaceAll(c.NamePattern, "%%", "")) {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, c.NamePattern)
	}
	if strings.ContainsRune(c.NamePattern, filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, c.NamePattern)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	}
	for name, dir := range map[string]string{"send dir": c.SendDir, "backup dir": c.BackupDir, "receive dir": c.ReceiveDir} {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidConfig, name)
		}
	}
	return nil
}

func (c Config) counterPath() string {
	if filepath.IsAbs(c.CounterFile) {
		return c.CounterFile
	}
	return filepath.Join(c.ReceiveDir, c.CounterFile)
}
