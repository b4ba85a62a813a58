package main

import (
	"embed"
	"fmt"
	"os"

	"github.com/arch-linux-gui/alg-welcome/internal/config"
	"github.com/arch-linux-gui/alg-welcome/internal/desktop"
	"github.com/arch-linux-gui/alg-welcome/internal/logging"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"
)

//go:embed all:frontend/dist
var assets embed.FS

// Version is set for releases (e.g. via -ldflags "-X main.Version=0.1.0").
var Version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// runGUI opens the Welcome window and blocks until it is closed.
func runGUI(cfg *config.Config) error {
	log := logging.NewWithLevel("welcome", cfg.LogLevel)

	coord := newCoordinator(cfg, log)
	desk := desktop.New(desktop.Options{Logger: log.With("component", "desktop")})

	// Create the app
	app := NewApp(cfg, coord, desk, log)

	// Create application with options
	err := wails.Run(&options.App{
		Title:     "Welcome",
		Width:     1000,
		Height:    680,
		MinWidth:  800,
		MinHeight: 560,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		Logger:           logging.NewWailsLogger(log.With("component", "wails")),
		LogLevel:         logging.WailsLevel(cfg.LogLevel),
		OnStartup:        app.Startup,
		OnShutdown:       app.Shutdown,
		Bind: []interface{}{
			app,
		},
		Linux: &linux.Options{
			ProgramName:         "alg-welcome",
			WindowIsTranslucent: false,
		},
	})
	if err != nil {
		return fmt.Errorf("error starting app: %w", err)
	}
	return nil
}
