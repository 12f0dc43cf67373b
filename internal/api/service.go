package api

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/char5742/kbqueue/internal/config"
	"github.com/char5742/kbqueue/internal/device"
	"github.com/char5742/kbqueue/internal/kbqueue"
	"github.com/char5742/kbqueue/internal/keymap"
	"github.com/char5742/kbqueue/internal/poller"
	"github.com/char5742/kbqueue/internal/registry"
	"github.com/char5742/kbqueue/internal/types"
)

// QueueService は設定に従ってキューエンジンとデバイス監視を管理する構造体
type QueueService struct {
	cfg         *config.Config
	engine      *kbqueue.Engine
	watcher     *device.Watcher
	logger      *slog.Logger
	statusMutex sync.RWMutex
	running     bool
	opener      func(backend device.Backend, path string) (device.Sampler, error)
}

// ServiceOption は QueueService の生成オプション
type ServiceOption func(*QueueService)

// WithOpener はデバイスを開く関数を差し替える
func WithOpener(open func(backend device.Backend, path string) (device.Sampler, error)) ServiceOption {
	return func(s *QueueService) {
		s.opener = open
	}
}

// WithoutWatcher はデバイスノードの監視を無効にする
func WithoutWatcher() ServiceOption {
	return func(s *QueueService) {
		s.watcher = nil
	}
}

// NewQueueService は新しいキューサービスを作成する
func NewQueueService(cfg *config.Config, logger *slog.Logger, opts ...ServiceOption) (*QueueService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	mapper, err := keymap.ByName(cfg.Queue.Layout)
	if err != nil {
		return nil, err
	}

	s := &QueueService{
		cfg:    cfg,
		logger: logger,
		opener: device.Open,
	}
	watcher, err := device.NewWatcher(logger)
	if err != nil {
		logger.Warn("デバイス監視を初期化できませんでした", "error", err)
	} else {
		s.watcher = watcher
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.watcher == nil && watcher != nil {
		watcher.Stop()
	}

	reg := registry.New(registry.Options{
		DefaultIndex: cfg.Queue.DefaultDevice,
		Capacity:     cfg.Queue.Capacity,
		Factory:      s.openDevice,
		Poller: poller.Options{
			Interval:   cfg.Queue.PollInterval.Duration,
			MaxRetries: cfg.Queue.MaxRetries,
			Mapper:     mapper,
			Logger:     logger,
		},
		Logger: logger,
	})
	s.engine = kbqueue.New(reg)

	if s.watcher != nil {
		s.watcher.RegisterCallback(s.handleRemoval)
	}
	return s, nil
}

// Engine はキューエンジンを返す
func (s *QueueService) Engine() *kbqueue.Engine {
	return s.engine
}

// Config は現在の設定を返す
func (s *QueueService) Config() *config.Config {
	return s.cfg
}

// Start は auto_start のデバイスのキューを作成して記録を開始する
func (s *QueueService) Start() error {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	if s.running {
		return fmt.Errorf("サービスは既に実行中です")
	}
	if s.watcher != nil {
		s.watcher.Start()
	}

	var errs []error
	for _, d := range s.cfg.Devices {
		if !d.AutoStart {
			continue
		}
		if err := s.engine.Create(d.Index); err != nil && !errors.Is(err, types.ErrAlreadyExists) {
			errs = append(errs, err)
			continue
		}
		if err := s.engine.Start(d.Index); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("キューの記録を開始しました", "device", d.Index, "path", d.Path)
	}

	s.running = true
	return errors.Join(errs...)
}

// Stop は全キューを解放し、デバイス監視を停止する
func (s *QueueService) Stop() error {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	if !s.running {
		return fmt.Errorf("サービスは実行されていません")
	}
	s.engine.Close()
	if s.watcher != nil {
		s.watcher.Stop()
	}
	s.running = false
	s.logger.Info("キューサービスを停止しました")
	return nil
}

// IsRunning はサービスが実行中かどうかを返す
func (s *QueueService) IsRunning() bool {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.running
}

// openDevice はデバイス番号に対応するデバイスを開く
func (s *QueueService) openDevice(index int) (device.Sampler, error) {
	d, ok := s.cfg.Device(index)
	if !ok {
		return nil, fmt.Errorf("device %d is not configured", index)
	}
	backend, err := device.ParseBackend(d.Backend)
	if err != nil {
		return nil, err
	}

	sampler, err := s.opener(backend, d.Path)
	if err != nil {
		return nil, err
	}
	if s.watcher != nil {
		if err := s.watcher.Add(d.Path); err != nil {
			s.logger.Warn("デバイスノードを監視できません", "path", d.Path, "error", err)
		}
	}
	s.logger.Info("デバイスを開きました", "device", index, "name", sampler.Name(), "backend", backend)
	return sampler, nil
}

// handleRemoval はデバイスノード削除時に該当キューの記録を止める
func (s *QueueService) handleRemoval(path string) {
	for _, d := range s.cfg.Devices {
		if filepath.Clean(d.Path) == path {
			s.engine.Registry().MarkUnavailable(d.Index, fmt.Errorf("device node %s removed", path))
		}
	}
}
