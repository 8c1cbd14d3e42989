package pipeline

import (
	"context"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// Scheduler owns the periodic trigger and the optional drop-folder
// watcher. At most one run per data type is in flight at a time; the
// runner's guard refuses overlaps.
type Scheduler struct {
	Runner   *Runner
	DataType string
	CronSpec string

	// WatchDir, when non-empty, is watched for dropped workbook/CSV
	// copies; each triggers a backfill run from the local file.
	WatchDir string

	cronSched *cron.Cron
	watcher   *fsnotify.Watcher
	cancel    context.CancelFunc
}

// Start wires up cron and the drop-folder watcher. It returns after
// scheduling; runs happen on background goroutines.
func (s *Scheduler) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.CronSpec != "" {
		c := cron.New()
		_, err := c.AddFunc(s.CronSpec, func() {
			log.Printf("scheduler: cron run for %s", s.DataType)
			if _, err := s.Runner.Run(watchCtx, s.DataType); err != nil {
				log.Printf("scheduler: run failed for %s: %v", s.DataType, err)
			}
		})
		if err != nil {
			cancel()
			return err
		}
		c.Start()
		s.cronSched = c
		log.Printf("scheduler: cron %q scheduled for %s", s.CronSpec, s.DataType)
	}

	if s.WatchDir != "" {
		if err := s.startWatcher(watchCtx); err != nil {
			log.Printf("scheduler: drop-folder watcher disabled: %v", err)
		}
	}
	return nil
}

func (s *Scheduler) startWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.WatchDir); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		// Debounce per path: editors and copies fire several writes.
		timers := make(map[string]*time.Timer)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				ext := strings.ToLower(filepath.Ext(event.Name))
				if ext != ".xlsx" && ext != ".csv" {
					continue
				}
				path := event.Name
				if t, exists := timers[path]; exists {
					t.Stop()
				}
				timers[path] = time.AfterFunc(2*time.Second, func() {
					log.Printf("scheduler: drop-folder file %q, running backfill", path)
					if _, err := s.Runner.RunFromFile(ctx, s.DataType, path); err != nil {
						log.Printf("scheduler: backfill failed for %q: %v", path, err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("scheduler: watcher error: %v", err)
			}
		}
	}()

	log.Printf("scheduler: watching drop folder %q", s.WatchDir)
	return nil
}

// Stop tears down cron and the watcher. In-flight runs keep going; use
// Runner.WaitRunning to drain them.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.cronSched != nil {
		s.cronSched.Stop()
		s.cronSched = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}
