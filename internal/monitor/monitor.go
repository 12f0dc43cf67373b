// Package monitor はキューに届いたイベントを端末に表示する
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/generators"
	"github.com/gopxl/beep/speaker"

	"github.com/char5742/kbqueue/internal/kbqueue"
	"github.com/char5742/kbqueue/internal/keymap"
	"github.com/char5742/kbqueue/internal/types"
)

const (
	maxLog     = 200
	sampleRate = beep.SampleRate(44100)
	frameTime  = 33 * time.Millisecond
	fetchWait  = 0.05 // GetEvent の最大待ち時間（秒）
)

// Options はモニターの設定
type Options struct {
	Index  int  // 表示するデバイス番号
	Beep   bool // 押下時にクリック音を鳴らす
	Screen tcell.Screen
	Logger *slog.Logger
}

// Monitor はイベントを一覧表示する端末UI
type Monitor struct {
	engine    *kbqueue.Engine
	opts      Options
	screen    tcell.Screen
	events    []types.Event
	status    kbqueue.Status
	statusErr error
	audioInit bool
}

// New は新しいモニターを作成する
func New(engine *kbqueue.Engine, opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Monitor{engine: engine, opts: opts}
}

// Run は ctx が終わるか Esc / q が押されるまで表示を続ける
func (m *Monitor) Run(ctx context.Context) error {
	screen := m.opts.Screen
	if screen == nil {
		var err error
		screen, err = tcell.NewScreen()
		if err != nil {
			return err
		}
	}
	if err := screen.Init(); err != nil {
		return err
	}
	m.screen = screen
	defer screen.Fini()

	if m.opts.Beep {
		if err := m.initAudio(); err != nil {
			// 音が出なくても表示は続ける
			m.opts.Logger.Warn("音声の初期化に失敗しました", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	keyChan := make(chan tcell.Event, 16)
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			select {
			case keyChan <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	eventChan := make(chan types.Event, 64)
	go m.fetch(ctx, eventChan)

	ticker := time.NewTicker(frameTime)
	defer ticker.Stop()

	m.refresh()
	m.draw()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-keyChan:
			if !m.handleInput(ev) {
				return nil
			}
		case ev := <-eventChan:
			m.addEvent(ev)
		case <-ticker.C:
			m.refresh()
			m.draw()
		}
	}
}

// fetch はキューからイベントを取り出して ch に送る
func (m *Monitor) fetch(ctx context.Context, ch chan<- types.Event) {
	for ctx.Err() == nil {
		res, err := m.engine.GetEvent(m.opts.Index, fetchWait)
		if err == nil && res.Event == nil && res.DeviceErr != nil {
			// デバイス喪失時は GetEvent が待たないので間隔を空ける
			err = res.DeviceErr
		}
		if err != nil {
			// キューが無い間は待って再試行する
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		if res.Event == nil {
			continue
		}
		select {
		case ch <- *res.Event:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) addEvent(ev types.Event) {
	if len(m.events) >= maxLog {
		copy(m.events, m.events[1:])
		m.events = m.events[:maxLog-1]
	}
	m.events = append(m.events, ev)
	if ev.Pressed {
		m.playClick()
	}
}

func (m *Monitor) refresh() {
	m.status, m.statusErr = m.engine.Check(m.opts.Index)
}

func (m *Monitor) handleInput(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC ||
			(ev.Key() == tcell.KeyRune && ev.Rune() == 'q') {
			return false
		}
		if ev.Key() == tcell.KeyRune && ev.Rune() == 'c' {
			m.events = m.events[:0]
		}
	case *tcell.EventResize:
		m.screen.Sync()
	}
	return true
}

func (m *Monitor) draw() {
	m.screen.Clear()
	width, height := m.screen.Size()

	header := tcell.StyleDefault.Foreground(tcell.ColorWhite).Reverse(true)
	var line string
	switch {
	case m.statusErr != nil:
		line = fmt.Sprintf(" device %d: %v", m.opts.Index, m.statusErr)
	default:
		state := "stopped"
		if m.status.Running {
			state = "running"
		}
		line = fmt.Sprintf(" device %d  %s  depth %d  overflow %d", m.status.Index, state, m.status.Depth, m.status.Overflow)
		if m.status.DeviceErr != nil {
			line += "  " + m.status.DeviceErr.Error()
		}
	}
	drawText(m.screen, 0, 0, width, header, padRight(line, width))

	rows := height - 2
	start := 0
	if len(m.events) > rows {
		start = len(m.events) - rows
	}
	for i, ev := range m.events[start:] {
		style := tcell.StyleDefault.Foreground(tcell.ColorGreen)
		if !ev.Pressed {
			style = tcell.StyleDefault.Foreground(tcell.ColorYellow)
		}
		drawText(m.screen, 0, i+1, width, style, formatEvent(ev))
	}

	footer := tcell.StyleDefault.Foreground(tcell.ColorGray)
	drawText(m.screen, 0, height-1, width, footer, " q/Esc: quit  c: clear")
	m.screen.Show()
}

func formatEvent(ev types.Event) string {
	state := "press  "
	if !ev.Pressed {
		state = "release"
	}
	cooked := ""
	switch {
	case ev.CookedKey == types.CookedUnsupported:
		cooked = "-"
	case ev.CookedKey > 0x20 && ev.CookedKey < 0x7f:
		cooked = fmt.Sprintf("%q", rune(ev.CookedKey))
	case ev.CookedKey != types.CookedNone:
		cooked = fmt.Sprintf("0x%02x", ev.CookedKey)
	}
	return fmt.Sprintf(" %14.6f  %s  %4d %-20s %s", ev.Time, state, ev.Keycode, keymap.Name(ev.Keycode), cooked)
}

func drawText(s tcell.Screen, x, y, maxWidth int, style tcell.Style, text string) {
	for _, r := range text {
		if x >= maxWidth {
			return
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

func padRight(s string, width int) string {
	for len(s) < width {
		s += " "
	}
	return s
}

func (m *Monitor) initAudio() error {
	err := speaker.Init(sampleRate, sampleRate.N(time.Second/10))
	if err == nil {
		m.audioInit = true
	}
	return err
}

func (m *Monitor) playClick() {
	if !m.audioInit {
		return
	}
	sine, err := generators.SineTone(sampleRate, 880)
	if err != nil {
		return
	}
	speaker.Play(beep.Take(sampleRate.N(20*time.Millisecond), sine))
}
