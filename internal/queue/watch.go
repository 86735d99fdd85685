package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch follows changes in sendDir until ctx ends. While it runs, queues on
// that directory skip rescans of a directory that was empty and has not
// changed since, up to RescanInterval.
func Watch(ctx context.Context, sendDir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("queue: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(sendDir); err != nil {
		return fmt.Errorf("queue: watch %s: %w", sendDir, err)
	}

	s := sendSetFor(sendDir)
	s.watching.Add(1)
	defer s.watching.Add(-1)
	// anything that changed before the watch was armed must be seen
	s.gen.Add(1)

	log.Info().Str("dir", sendDir).Msg("queue.Watch started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("dir", sendDir).Msg("queue.Watch stopped")
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}
			s.gen.Add(1)
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("queue.Watch event")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			// an overflow may have hidden events
			s.gen.Add(1)
			log.Warn().Err(err).Str("dir", sendDir).Msg("queue.Watch error")
		}
	}
}
