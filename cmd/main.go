package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/browser"

	"github.com/char5742/kbqueue/internal/api"
	"github.com/char5742/kbqueue/internal/config"
	"github.com/char5742/kbqueue/internal/kbqueue"
	"github.com/char5742/kbqueue/internal/logging"
	"github.com/char5742/kbqueue/internal/monitor"
)

func main() {
	// コマンドライン引数の解析
	useApi := flag.Bool("api", false, "APIサーバーモードで起動します")
	configPath := flag.String("config", "", "設定ファイルのパス (指定しない場合はデフォルトパスを使用)")
	port := flag.Int("port", 0, "APIサーバーのポート番号 (0なら設定ファイルの値)")
	openBrowser := flag.Bool("open", false, "APIサーバー起動後にブラウザでキュー一覧を開きます")
	watch := flag.Bool("watch", false, "端末にイベントを表示します")
	beepOnPress := flag.Bool("beep", false, "表示モードで押下時に音を鳴らします")
	deviceIndex := flag.Int("device", kbqueue.DefaultDevice, "表示するデバイス番号 (-1は既定デバイス)")
	flag.Parse()

	// デフォルト設定ファイルパスの設定
	defaultConfigPath := ""
	configDir, err := config.GetDefaultConfigDir()
	if err == nil {
		defaultConfigPath = filepath.Join(configDir, "config.toml")
	}

	// 設定ファイルパスの決定
	cfgPath := defaultConfigPath
	if *configPath != "" {
		cfgPath = *configPath
	}

	// 設定ファイルの読み込み
	var cfg *config.Config
	var cfgErr error
	if cfgPath != "" {
		cfg, cfgErr = config.LoadConfig(cfgPath)
		if cfgErr != nil {
			cfg = config.DefaultConfig()
		}
	} else {
		cfg = config.DefaultConfig()
	}

	// 表示モードではログを端末に出さない
	logger, err := newLogger(cfg, *watch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの初期化に失敗しました: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if cfgErr != nil {
		logger.Warn("設定ファイルの読み込みに失敗しました。デフォルト設定を使用します", "path", cfgPath, "error", cfgErr)
	} else if cfgPath != "" {
		logger.Info("設定ファイルを読み込みました", "path", cfgPath)
	}

	// サービスの作成と開始
	service, err := api.NewQueueService(cfg, logger)
	if err != nil {
		logger.Error("キューサービスの作成に失敗しました", "error", err)
		os.Exit(1)
	}
	if err := service.Start(); err != nil {
		logger.Warn("一部のキューを開始できませんでした", "error", err)
	}
	defer service.Stop()

	// シグナルハンドラの設定
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *watch:
		runMonitor(ctx, service, *deviceIndex, *beepOnPress, logger)
	case *useApi:
		if *port == 0 {
			*port = cfg.API.Port
		}
		runApiServer(ctx, service, *port, *openBrowser, logger)
	default:
		runCLI(ctx, service, *deviceIndex, logger)
	}
	logger.Info("シャットダウンします...")
}

func newLogger(cfg *config.Config, quiet bool) (*slog.Logger, error) {
	if quiet {
		// tcell の画面を崩さないようにログファイルへ出力する
		f, err := os.CreateTemp("", "kbqueue-*.log")
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "ログ出力先: %s\n", f.Name())
		return logging.New(cfg.Log, f)
	}
	return logging.New(cfg.Log, os.Stderr)
}

// APIサーバーモードでの実行
func runApiServer(ctx context.Context, service *api.QueueService, port int, open bool, logger *slog.Logger) {
	server := api.NewServer(service, port, logger)

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	if open {
		url := fmt.Sprintf("http://localhost:%d/api/queues", port)
		if err := browser.OpenURL(url); err != nil {
			logger.Warn("ブラウザを開けませんでした", "url", url, "error", err)
		}
	}

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("APIサーバーの起動に失敗しました", "error", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("APIサーバーの停止に失敗しました", "error", err)
		}
	}
}

// 表示モードでの実行
func runMonitor(ctx context.Context, service *api.QueueService, index int, beepOnPress bool, logger *slog.Logger) {
	m := monitor.New(service.Engine(), monitor.Options{
		Index:  index,
		Beep:   beepOnPress,
		Logger: logger,
	})
	if err := m.Run(ctx); err != nil {
		logger.Error("表示モードの起動に失敗しました", "error", err)
	}
}

// CLIモードでの実行。イベントを標準出力に書き出す
func runCLI(ctx context.Context, service *api.QueueService, index int, logger *slog.Logger) {
	engine := service.Engine()
	if _, err := engine.Check(index); err != nil {
		logger.Error("キューがありません。設定ファイルで auto_start を指定してください", "device", index, "error", err)
		return
	}

	for ctx.Err() == nil {
		res, err := engine.GetEvent(index, 0.2)
		if err != nil {
			logger.Error("イベントの取得に失敗しました", "error", err)
			return
		}
		if res.Event != nil {
			fmt.Printf("%s navail=%d\n", res.Event, res.Navail)
			continue
		}
		if res.DeviceErr != nil {
			// 残りのイベントを出し終えたら終了する
			logger.Error("デバイスが利用できません", "device", index, "error", res.DeviceErr)
			return
		}
	}
}
