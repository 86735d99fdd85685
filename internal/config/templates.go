package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// TemplatePort is the example port written into new config files.
const TemplatePort = 4001

const templateHeader = `# enqlink configuration.
# Keys left out keep their defaults; command-line flags override this file.
# loglevel accepts trace|debug|info|warn|error|off and the older
# severe|warning|config|fine|finer|finest names.

`

// Template renders the defaults as a TOML document.
func Template() (string, error) {
	def := Default()
	raw := fileConfig{
		LogFile:          def.LogFile,
		LogLevel:         def.LogLevel,
		LogMaxMB:         def.LogMaxMB,
		LogBackups:       def.LogBackups,
		Host:             def.Host,
		Port:             TemplatePort,
		Simul:            def.Simul,
		InDir:            def.Queue.SendDir,
		InMask:           def.Queue.Mask,
		InBackup:         def.Queue.BackupDir,
		OutDir:           def.Queue.ReceiveDir,
		OutName:          def.Queue.NamePattern,
		CounterFile:      def.Queue.CounterFile,
		BufferCapacity:   def.Queue.Capacity,
		SerialBaud:       def.SerialBaud,
		VerifyChecksum:   def.Session.VerifyChecksum,
		IdlePoll:         def.Session.IdlePoll.String(),
		ReplyTimeout:     def.Session.ReplyTimeout.String(),
		BusyAfterNak:     def.Session.BusyAfterNak.String(),
		BusyAfterSilence: def.Session.BusyAfterSilence.String(),
		Contention:       def.Session.Contention.String(),
		FastContention:   def.Session.FastContention.String(),
		MaxAttempts:      def.Session.MaxAttempts,
	}
	// an explicit empty list keeps the key in the rendered file
	raw.StatusCORSOrigins = []string{}
	body, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return templateHeader + string(body), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
