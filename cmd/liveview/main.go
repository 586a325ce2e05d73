package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/d60-Lab/livepost/internal/liveview"
	"github.com/d60-Lab/livepost/internal/tui"
	"github.com/d60-Lab/livepost/pkg/logger"
)

func main() {
	if err := mainInner(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mainInner() error {
	addr := flag.String("addr", "http://localhost:4000", "server base url")
	logPath := flag.String("log", "liveview.log", "log file (the terminal belongs to the UI)")
	level := flag.String("level", "info", "log level")
	flag.Parse()

	if err := logger.Init(logger.Options{Level: *level, OutputPaths: []string{*logPath}}); err != nil {
		return err
	}
	defer logger.Sync()

	s, err := liveview.NewSession(*addr, liveview.Options{ReconnectMaxElapsed: time.Hour})
	if err != nil {
		return err
	}
	defer s.Dispose()

	logger.Info("liveview starting", zap.String("addr", *addr))
	_, err = tea.NewProgram(tui.New(s), tea.WithAltScreen()).Run()
	return err
}
