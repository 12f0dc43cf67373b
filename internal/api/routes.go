package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/char5742/kbqueue/internal/config"
	"github.com/char5742/kbqueue/internal/types"
)

// ルートの設定
func (s *Server) setupRoutes(router *http.ServeMux) {
	// 設定関連のエンドポイント
	router.HandleFunc("GET /api/config", s.handleGetConfig)
	router.HandleFunc("POST /api/config/save", s.handleSaveConfig)

	// キュー関連のエンドポイント
	router.HandleFunc("GET /api/queues", s.handleListQueues)
	router.HandleFunc("POST /api/queues/{index}", s.handleCreateQueue)
	router.HandleFunc("DELETE /api/queues/{index}", s.handleReleaseQueue)
	router.HandleFunc("POST /api/queues/{index}/start", s.handleStartQueue)
	router.HandleFunc("POST /api/queues/{index}/stop", s.handleStopQueue)
	router.HandleFunc("POST /api/queues/{index}/flush", s.handleFlushQueue)
	router.HandleFunc("GET /api/queues/{index}/check", s.handleCheck)
	router.HandleFunc("GET /api/queues/{index}/event", s.handleGetEvent)

	// ヘルスチェック用エンドポイント
	router.HandleFunc("GET /api/health", s.handleHealthCheck)
}

// deviceIndex はパスからデバイス番号を取り出す
func deviceIndex(r *http.Request) (int, error) {
	raw := r.PathValue("index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: device index %q", types.ErrInvalidArgument, raw)
	}
	return index, nil
}

// 設定取得ハンドラ
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.GetConfig())
}

// 設定保存ハンドラ
func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var saveRequest struct {
		Path string `json:"path"`
	}

	if err := json.NewDecoder(r.Body).Decode(&saveRequest); err != nil {
		s.writeError(w, fmt.Errorf("%w: リクエストの解析に失敗しました", types.ErrInvalidArgument))
		return
	}

	configPath := saveRequest.Path
	if configPath == "" {
		// デフォルトパスを使用
		userConfigDir, err := config.GetDefaultConfigDir()
		if err != nil {
			s.writeError(w, fmt.Errorf("デフォルト設定ディレクトリの取得に失敗しました: %w", err))
			return
		}
		configPath = filepath.Join(userConfigDir, "config.toml")
	}

	if err := config.SaveConfig(configPath, s.GetConfig()); err != nil {
		s.writeError(w, fmt.Errorf("設定の保存に失敗しました: %w", err))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"path":   configPath,
	})
}

// キュー一覧取得ハンドラ
func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Engine().List())
}

// キュー作成ハンドラ
func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	index, err := deviceIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.Engine().Create(index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// キュー解放ハンドラ
func (s *Server) handleReleaseQueue(w http.ResponseWriter, r *http.Request) {
	index, err := deviceIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.Engine().Release(index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

// 記録開始ハンドラ
func (s *Server) handleStartQueue(w http.ResponseWriter, r *http.Request) {
	index, err := deviceIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.Engine().Start(index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

// 記録停止ハンドラ
func (s *Server) handleStopQueue(w http.ResponseWriter, r *http.Request) {
	index, err := deviceIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.service.Engine().Stop(index); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// キュー破棄ハンドラ
func (s *Server) handleFlushQueue(w http.ResponseWriter, r *http.Request) {
	index, err := deviceIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.service.Engine().Flush(index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"flushed": n})
}

// 状態確認ハンドラ
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	index, err := deviceIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	st, err := s.service.Engine().Check(index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// イベント取得ハンドラ
// wait クエリは秒単位の最大待ち時間。省略時は0
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	index, err := deviceIndex(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	wait := 0.0
	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: wait %q", types.ErrInvalidArgument, raw))
			return
		}
	}

	res, err := s.service.Engine().GetEvent(index, wait)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// ヘルスチェックハンドラ
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "stopped"
	if s.service.IsRunning() {
		status = "running"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": status})
}
