package device

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RemovalCallback はデバイスノード削除時に呼び出されるコールバック関数の型
type RemovalCallback func(path string)

// Watcher はデバイスノードの削除を監視する構造体
type Watcher struct {
	watcher   *fsnotify.Watcher
	logger    *slog.Logger
	mutex     sync.RWMutex
	paths     map[string]bool // 監視対象のデバイスパス
	dirs      map[string]int  // 監視中のディレクトリと参照数
	callbacks []RemovalCallback
	stopChan  chan struct{}
	done      chan struct{}
	isRunning bool
	stopped   bool
}

// NewWatcher は新しいWatcherを作成する
func NewWatcher(logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		watcher:  watcher,
		logger:   logger,
		paths:    make(map[string]bool),
		dirs:     make(map[string]int),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Add はデバイスパスを監視対象に追加する
func (w *Watcher) Add(path string) error {
	path = filepath.Clean(path)

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.paths[path] {
		return nil
	}
	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.logger.Debug("ディレクトリ監視を開始", "dir", dir)
	}
	w.dirs[dir]++
	w.paths[path] = true
	return nil
}

// Remove はデバイスパスを監視対象から外す
func (w *Watcher) Remove(path string) {
	path = filepath.Clean(path)

	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.paths[path] {
		return
	}
	delete(w.paths, path)
	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		_ = w.watcher.Remove(dir)
	}
}

// RegisterCallback は削除イベントのコールバック関数を登録する
func (w *Watcher) RegisterCallback(callback RemovalCallback) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.callbacks = append(w.callbacks, callback)
}

// Start は監視を開始する
func (w *Watcher) Start() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.isRunning || w.stopped {
		return
	}
	w.isRunning = true
	go w.watchEvents()
}

// Stop は監視を停止し、fsnotify のウォッチャーを閉じる。再開はできない
func (w *Watcher) Stop() {
	w.mutex.Lock()
	running := w.isRunning
	stopped := w.stopped
	w.isRunning = false
	w.stopped = true
	w.mutex.Unlock()

	if stopped {
		return
	}
	if running {
		close(w.stopChan)
		<-w.done
	}
	w.watcher.Close()
}

// watchEvents はfsnotifyのイベントを監視する
func (w *Watcher) watchEvents() {
	defer close(w.done)

	for {
		select {
		case <-w.stopChan:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			path := filepath.Clean(event.Name)
			w.mutex.RLock()
			watched := w.paths[path]
			callbacks := append([]RemovalCallback(nil), w.callbacks...)
			w.mutex.RUnlock()
			if !watched {
				continue
			}

			w.logger.Warn("デバイスノードが削除されました", "path", path)
			for _, cb := range callbacks {
				cb(path)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("ファイルシステム監視エラー", "error", err)
		}
	}
}
