package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/thetooth/hopwatch/collect"
	"github.com/thetooth/hopwatch/config"
	"github.com/thetooth/hopwatch/store"
)

type Options struct {
	Collector *collect.Collector

	// PopularSites and Sites are the site list files, reloaded on change
	PopularSites string
	Sites        string

	Every time.Duration
}

// Monitor collects both site lists on an interval
type Monitor struct {
	opts Options

	mu      sync.RWMutex
	popular []string
	sites   []string
}

// Run collects immediately and then every opts.Every until ctx is done.
func Run(ctx context.Context, opts Options) error {
	m, err := New(opts)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

// New loads both site lists
func New(opts Options) (m *Monitor, err error) {
	if opts.Every <= 0 {
		return nil, fmt.Errorf("invalid interval %v", opts.Every)
	}
	if opts.PopularSites, err = filepath.Abs(opts.PopularSites); err != nil {
		return nil, err
	}
	if opts.Sites, err = filepath.Abs(opts.Sites); err != nil {
		return nil, err
	}

	m = &Monitor{opts: opts}
	if m.popular, err = loadSites(opts.PopularSites); err != nil {
		return nil, err
	}
	if m.sites, err = loadSites(opts.Sites); err != nil {
		return nil, err
	}
	return m, nil
}

// Sites returns the lists currently in use
func (m *Monitor) Sites() (popular, sites []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.popular...), append([]string(nil), m.sites...)
}

func (m *Monitor) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range uniqueDirs(m.opts.PopularSites, m.opts.Sites) {
		if err = watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %v: %w", dir, err)
		}
	}

	ticker := time.NewTicker(m.opts.Every)
	defer ticker.Stop()

	logrus.Info("[ MONITOR_START ] every: ", m.opts.Every)
	m.collect(ctx)

	for {
		select {
		case <-ctx.Done():
			logrus.Info("[ MONITOR_STOP ]")
			return nil
		case <-ticker.C:
			m.collect(ctx)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				m.reload(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logrus.Warn("[ WATCH_FAIL ] ", err)
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	popular, sites := m.Sites()
	for _, job := range []struct {
		p       store.Partition
		targets []string
	}{
		{store.Popular, popular},
		{store.Frequent, sites},
	} {
		if err := m.opts.Collector.Run(ctx, job.p, job.targets); err != nil {
			if ctx.Err() != nil {
				return
			}
			logrus.Error("[ COLLECT_FAIL ] dataset: ", job.p, " error: ", err)
		}
	}
}

// reload replaces the list stored at path. A list that fails to load keeps
// the previous one in place.
func (m *Monitor) reload(path string) {
	path = filepath.Clean(path)

	var target *[]string
	switch path {
	case m.opts.PopularSites:
		target = &m.popular
	case m.opts.Sites:
		target = &m.sites
	default:
		return
	}

	list, err := loadSites(path)
	if err != nil {
		logrus.Warn("[ RELOAD_FAIL ] ", path, ": ", err)
		return
	}

	m.mu.Lock()
	*target = list
	m.mu.Unlock()
	logrus.Info("[ RELOAD ] ", path, " sites: ", len(list))
}

func loadSites(path string) ([]string, error) {
	list, err := config.LoadSites(path)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("no sites listed")
	}
	return list, nil
}

func uniqueDirs(paths ...string) (dirs []string) {
	seen := map[string]bool{}
	for _, p := range paths {
		dir := filepath.Dir(p)
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return
}
