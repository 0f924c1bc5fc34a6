package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/taskbridge-ai/taskbridge/internal/bridge"
	"github.com/taskbridge-ai/taskbridge/internal/config"
	"github.com/taskbridge-ai/taskbridge/internal/engine"
	"github.com/taskbridge-ai/taskbridge/internal/journal"
	"github.com/taskbridge-ai/taskbridge/internal/logging"
)

var version = "dev"

// bootstrap holds the small amount of local configuration that does
// not come from the cloud document.
type bootstrap struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
}

func loadBootstrap(path string) (bootstrap, error) {
	var boot bootstrap
	boot.Log.Level = "info"
	boot.Log.Format = "text"
	if path == "" {
		return boot, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return boot, err
	}
	if err := yaml.Unmarshal(raw, &boot); err != nil {
		return boot, err
	}
	return boot, nil
}

func main() {
	configPath := flag.String("config", "", "path to local bootstrap config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("taskbridged", version)
		return
	}

	boot, err := loadBootstrap(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskbridged: bootstrap config:", err)
		os.Exit(1)
	}
	logger := logging.Setup(boot.Log.Level, boot.Log.Format)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("configuration load failed", "error", err)
		os.Exit(1)
	}

	br := bridge.New(cfg, logger)
	if err := br.Init(); err != nil {
		logger.Error("bridge init failed", "error", err)
		os.Exit(1)
	}

	if boot.Journal.Path != "" {
		j, err := journal.Open(boot.Journal.Path, logger)
		if err != nil {
			logger.Error("journal open failed", "error", err)
			os.Exit(1)
		}
		defer j.Close()
		br.SetRecorder(j)
	}

	eng := engine.NewLocal(logger)
	eng.SetStatusFunc(br.UpdateTaskStatus)
	br.RegisterCallbacks(eng.Create, eng.Delete)

	if err := br.Start(); err != nil {
		logger.Error("bridge start failed", "error", err)
		os.Exit(1)
	}
	logger.Info("taskbridged running", "version", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	if err := br.Stop(); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
