package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nrf24-gateway/internal/camera"
	"nrf24-gateway/internal/classifier"
	"nrf24-gateway/internal/config"
	"nrf24-gateway/internal/inference"
	"nrf24-gateway/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "configs/inference.ini", "path of the config file")
	flag.Parse()

	cfg, err := config.LoadInference(*cfgPath)
	if err != nil {
		panic(err)
	}
	logger, closeLogger, err := logging.NewLogger(logging.Options{
		File:       cfg.Logging.File,
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer closeLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	labels, err := classifier.LoadLabels(cfg.Model.LabelsFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.Model.LabelsFile).Msg("failed to load labels")
	}
	model, err := classifier.NewONNXModel(classifier.ONNXOptions{
		ModelPath:      cfg.Model.Path,
		RuntimeLibrary: cfg.Model.RuntimeLibrary,
		Labels:         labels,
		InputSize:      cfg.Model.InputSize,
		Softmax:        cfg.Model.Softmax,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("model", cfg.Model.Path).Msg("failed to load model")
	}
	defer model.Close()
	logger.Info().Str("model", cfg.Model.Path).Int("classes", len(labels)).Msg("model loaded")

	svc := &inference.Server{
		Camera: &camera.Fetcher{
			Client:       &http.Client{Timeout: time.Duration(cfg.Camera.TimeoutSeconds) * time.Second},
			CapturePath:  cfg.Camera.CapturePath,
			ScratchDir:   cfg.Camera.ScratchDir,
			MaxBytes:     cfg.Camera.MaxBytes,
			KeepCaptures: cfg.Camera.KeepCaptures,
			Logger:       logger,
		},
		Model:  model,
		Logger: logger,
	}
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Server.Listen).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
		return
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
		return
	}
	logger.Info().Msg("shutdown complete")
}
