// =============================================================================
// 👀 GateFlow 配置文件监听器
// =============================================================================
// 基于 fsnotify 监听配置文件变更，防抖后触发重载回调。监听的是文件所在
// 目录而非文件本身：编辑器与配置管理工具普遍用 rename+create 原子替换，
// 只盯 inode 会在第一次替换后失联。
// =============================================================================
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounceDelay 事件防抖间隔，合并编辑器的连续写入。
const DefaultDebounceDelay = 200 * time.Millisecond

// Watcher 监听单个配置文件的变更
type Watcher struct {
	mu sync.Mutex

	path          string
	debounceDelay time.Duration

	fw        *fsnotify.Watcher
	callbacks []func()
	timer     *time.Timer

	running  bool
	stopOnce sync.Once
	stopChan chan struct{}

	logger *zap.Logger
}

// WatcherOption 配置 Watcher
type WatcherOption func(*Watcher)

// WithDebounceDelay 设置防抖间隔
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// NewWatcher 创建配置文件监听器
func NewWatcher(path string, logger *zap.Logger, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:          abs,
		debounceDelay: DefaultDebounceDelay,
		fw:            fw,
		stopChan:      make(chan struct{}),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnChange 注册变更回调，必须在 Start 之前调用
func (w *Watcher) OnChange(callback func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start 开始监听，非阻塞
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.mu.Unlock()

	if err := w.fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	go w.loop(ctx)

	w.logger.Info("config watcher started",
		zap.String("path", w.path),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop 停止监听，幂等
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	return w.fw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("config file event",
				zap.String("path", event.Name),
				zap.String("op", event.Op.String()))
			w.scheduleReload()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// scheduleReload 防抖调度：窗口内的多次事件只触发一次回调
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounceDelay, func() {
		w.mu.Lock()
		callbacks := make([]func(), len(w.callbacks))
		copy(callbacks, w.callbacks)
		w.mu.Unlock()

		for _, cb := range callbacks {
			cb()
		}
	})
}
