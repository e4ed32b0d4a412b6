package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

type fileStamp struct {
	size    int64
	modTime time.Time
}

// watchDir uploads each *.json file created or rewritten in dir until ctx is
// done. A file is uploaded again only when its size or mtime changes, so
// several write events for one save do not repeat the upload.
func watchDir(ctx context.Context, dir string, up *uploader) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}
	up.logger.InfoContext(ctx, "Watching for payload files", "event", "watch.start", "dir", dir)

	seen := map[string]fileStamp{}
	for {
		select {
		case <-ctx.Done():
			up.logger.InfoContext(ctx, "Stopped watching", "event", "watch.stop", "dir", dir)
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
				continue
			}
			stat, err := os.Stat(event.Name)
			if err != nil || stat.IsDir() || stat.Size() == 0 {
				continue
			}
			stamp := fileStamp{size: stat.Size(), modTime: stat.ModTime()}
			if prev, ok := seen[event.Name]; ok && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime) {
				continue
			}
			// A half-written file fails to decode; its next write event retries.
			if err := up.uploadFile(ctx, event.Name); err == nil {
				seen[event.Name] = stamp
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			up.logger.WarnContext(ctx, "File watcher error", "event", "watch.error", "dir", dir, "error", err.Error())
		}
	}
}
