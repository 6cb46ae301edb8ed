package serve

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchDebounce coalesces bursts of file events (editors write datasets
// in several operations) into a single reload.
const watchDebounce = 500 * time.Millisecond

// WatchDatasets reloads the rule set whenever a YAML file under dir
// changes. Blocks until ctx is canceled.
func (s *Server) WatchDatasets(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	s.log.Info("watching datasets", zap.String("dir", dir))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("dataset watch error", zap.Error(err))
		case <-timerC:
			timer = nil
			timerC = nil
			report, err := s.core.Reload()
			if err != nil {
				s.metrics.DatasetReloadFailures.Inc()
				s.log.Error("watch-triggered reload failed", zap.Error(err))
				continue
			}
			s.log.Info("datasets reloaded on change",
				zap.String("version", report.RuleSetVersion),
				zap.Int("rules", report.TotalRules))
		}
	}
}
