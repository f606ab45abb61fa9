package page

import (
	"context"
	"path/filepath"

	uerrors "github.com/conneroisu/unifee/internal/errors"
	"github.com/conneroisu/unifee/internal/reload"
	"github.com/conneroisu/unifee/internal/watcher"
)

// Watch starts watching the page directory. Every relevant change is
// published on the page's reload topic; the builder's own subscription
// turns each signal into a rebuild and announces successful rebuilds on
// the global topic. Watch returns once watching has started; it stops when
// ctx is done or Close is called.
func (b *Builder) Watch(ctx context.Context) error {
	if b.bus == nil {
		return uerrors.NewConfigError("watching requires a reload bus")
	}

	b.watchMu.Lock()
	defer b.watchMu.Unlock()
	if b.watching {
		return nil
	}

	fw, err := watcher.NewFileWatcher(b.logger, b.skipDirs...)
	if err != nil {
		return err
	}
	fw.AddFilter(watcher.ExtensionFilter(watcher.WatchedExtensions...))
	fw.AddFilter(watcher.ExcludeFilter(b.ignorePaths...))
	for _, dir := range b.skipDirs {
		fw.AddFilter(watcher.NoDirFilter(dir))
	}
	if err := fw.AddRecursive(b.dir); err != nil {
		_ = fw.Stop()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	topic := reload.AssetsTopic(b.id)
	signals, unsubscribe := b.bus.Subscribe(topic, 16)

	fw.AddHandler(func(event watcher.ChangeEvent) error {
		b.logger.Debug(ctx, "Watched file changed",
			"path", event.Path,
			"event", event.Type.String(),
		)
		if err := b.bus.Publish(ctx, topic); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	// requests holds at most one pending rebuild; further signals arriving
	// while one is queued coalesce into it.
	requests := make(chan struct{}, 1)

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		defer close(requests)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-signals:
				if !ok {
					return
				}
				select {
				case requests <- struct{}{}:
				default:
				}
			}
		}
	}()
	go func() {
		defer b.wg.Done()
		for range requests {
			if ctx.Err() != nil {
				return
			}
			b.rebuild(ctx)
		}
	}()

	if err := fw.Start(ctx); err != nil {
		cancel()
		unsubscribe()
		_ = fw.Stop()
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		<-ctx.Done()
		_ = fw.Stop()
		unsubscribe()
	}()

	b.cancel = cancel
	b.watching = true
	b.logger.Info(ctx, "Watching page directory", "dir", b.dir)
	return nil
}

// rebuild runs one watch-triggered build. Failures are logged and leave the
// previous result published.
func (b *Builder) rebuild(ctx context.Context) {
	b.logger.Info(ctx, "Related asset of "+filepath.Base(b.source)+" changed, rebuilding")

	if err := b.Build(ctx); err != nil {
		b.logger.Warn(ctx, err, "Rebuild failed, keeping previous result")
		return
	}
	if err := b.bus.Publish(ctx, reload.GlobalTopic); err != nil && ctx.Err() == nil {
		b.logger.Warn(ctx, err, "Failed to publish reload")
	}
}

// Close stops watching and waits for an in-flight rebuild to finish.
func (b *Builder) Close() {
	b.watchMu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.watching = false
	b.watchMu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}
