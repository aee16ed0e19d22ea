package config

import (
	"context"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"
)

const pollFallbackInterval = 30 * time.Second

// StartWatcher monitors the config file and calls onReload with the freshly
// parsed config on every change. Falls back to polling when fsnotify cannot
// watch the path (e.g. file not created yet).
func StartWatcher(ctx context.Context, path string, onReload func(*Config)) {
	watcher, err := fsnotify.NewWatcher()
	usePolling := false

	if err != nil {
		log.Printf("Config Watcher: fsnotify failed (%v), falling back to polling", err)
		usePolling = true
	} else {
		if err := watcher.Add(path); err != nil {
			log.Printf("Config Watcher: failed to watch %s (%v), falling back to polling", path, err)
			usePolling = true
			watcher.Close()
		}
	}

	reload := func() {
		c, err := Load(path)
		if err != nil {
			log.Printf("Config Watcher: reload failed: %v", err)
			return
		}
		onReload(c)
	}

	go func() {
		if !usePolling {
			defer watcher.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
						log.Println("Config Watcher: file changed, reloading")
						// Debounce: editors often fire several writes in a row.
						time.Sleep(100 * time.Millisecond)
						reload()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					log.Printf("Config Watcher Error: %v", err)
				}
			}
		}

		ticker := time.NewTicker(pollFallbackInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reload()
			}
		}
	}()
}
