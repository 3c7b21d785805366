package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/assets"
	"github.com/Brownie44l1/plate-ocr/internal/config"
	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/handlers"
	"github.com/Brownie44l1/plate-ocr/internal/pipeline"
	"github.com/Brownie44l1/plate-ocr/internal/telegram"
)

// maxTransportErrors ends a stream connection that keeps failing.
const maxTransportErrors = 10

// Run serves the configured mode until ctx is done. Shutdown through ctx is
// not an error.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting", zap.String("mode", string(a.cfg.Mode)))

	var err error
	switch a.cfg.Mode {
	case config.ModeTest:
		err = a.runTest(ctx)
	case config.ModeStream:
		err = a.runStream(ctx)
	case config.ModeHTTP:
		err = a.runHTTP(ctx)
	case config.ModeTelegram:
		err = a.runTelegram(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", a.cfg.Mode)
	}
	if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())) {
		a.logger.Info("shutting down")
		return nil
	}
	return err
}

func (a *App) runTest(ctx context.Context) error {
	var src frame.Source
	if a.cfg.TestGray >= 0 {
		src = frame.NewConstantGray(uint8(a.cfg.TestGray), a.cfg.TestInterval)
	} else {
		img, err := frame.NewConstantImage(assets.Image, a.cfg.TestInterval)
		if err != nil {
			return err
		}
		src = img
	}
	r := &pipeline.Runner{
		Source:           src,
		Classifier:       a.session,
		Sink:             pipeline.NewLogSink(a.logger, a.cfg.TestLogEvery),
		Logger:           a.logger,
		InvokeRetryDelay: a.cfg.InvokeRetryDelay,
	}
	return r.Run(ctx)
}

func (a *App) runStream(ctx context.Context) error {
	switch a.cfg.StreamDevice {
	case "":
		ln, err := net.Listen("tcp", a.cfg.StreamListen)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return a.serveStream(ctx, ln)
	case "-":
		return a.streamLoop(ctx, os.Stdin, os.Stdout)
	default:
		dev, err := os.OpenFile(a.cfg.StreamDevice, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("open stream device: %w", err)
		}
		defer dev.Close()
		return a.streamLoop(ctx, dev, dev)
	}
}

// serveStream handles one TCP connection at a time. Closing ln or cancelling
// ctx ends it; the active connection is closed to unblock its read.
func (a *App) serveStream(ctx context.Context, ln net.Listener) error {
	a.logger.Info("stream listening", zap.String("addr", ln.Addr().String()))
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		a.logger.Info("stream client connected", zap.String("remote", conn.RemoteAddr().String()))

		closeConn := context.AfterFunc(ctx, func() { conn.Close() })
		err = a.streamLoop(ctx, conn, conn)
		closeConn()
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Info("stream client disconnected", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
	}
}

func (a *App) streamLoop(ctx context.Context, r io.Reader, w io.Writer) error {
	opts := []frame.StreamOption{frame.WithReadTimeout(a.cfg.StreamReadTimeout)}
	if a.cfg.StreamRGB565Width > 0 {
		opts = append(opts, frame.WithRGB565(a.cfg.StreamRGB565Width, a.cfg.StreamRGB565Height))
	}
	runner := &pipeline.Runner{
		Source:             frame.NewStream(r, opts...),
		Classifier:         a.session,
		Sink:               pipeline.NewStreamSink(w),
		Logger:             a.logger,
		RetryDelay:         a.cfg.StreamRetryDelay,
		InvokeRetryDelay:   a.cfg.InvokeRetryDelay,
		MaxTransportErrors: maxTransportErrors,
	}
	return runner.Run(ctx)
}

func (a *App) runHTTP(ctx context.Context) error {
	h := handlers.NewHandler(a.session, a.info, a.logger)
	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("server starting",
			zap.String("port", a.cfg.Port),
			zap.Strings("endpoints", []string{"GET /health", "POST /predict", "POST /predict/image"}),
		)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return ctx.Err()
}

func (a *App) runTelegram(ctx context.Context) error {
	bot, err := telegram.NewBot(a.cfg.TelegramToken, a.session, a.logger)
	if err != nil {
		return err
	}
	return bot.Run(ctx)
}
