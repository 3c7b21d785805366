// Package app wires configuration, model runtime and transports together.
package app

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Brownie44l1/plate-ocr/internal/arena"
	"github.com/Brownie44l1/plate-ocr/internal/assets"
	"github.com/Brownie44l1/plate-ocr/internal/config"
	"github.com/Brownie44l1/plate-ocr/internal/handlers"
	"github.com/Brownie44l1/plate-ocr/internal/inference"
	"github.com/Brownie44l1/plate-ocr/internal/kernels"
	"github.com/Brownie44l1/plate-ocr/internal/micro"
	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/onnx"
)

// App owns the single inference session of the process.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *inference.Session
	info    handlers.Info
	onnx    bool
}

// New runs the startup sequence: model, operator registry, arena, tensor
// allocation. Any failure is fatal and nothing is left running.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}

	var err error
	switch cfg.Runtime {
	case config.RuntimeONNX:
		err = a.startONNX()
	default:
		err = a.startMicro()
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) startMicro() error {
	buf := assets.Model
	if a.cfg.ModelPath != "" {
		var err error
		if buf, err = os.ReadFile(a.cfg.ModelPath); err != nil {
			return fmt.Errorf("read model: %w", err)
		}
	}

	m, err := model.Load(buf)
	if err != nil {
		var se *model.SchemaError
		if errors.As(err, &se) {
			a.logger.Error("model schema version not supported",
				zap.Uint32("model", se.Model), zap.Uint32("supported", se.Runtime))
		}
		return fmt.Errorf("load model: %w", err)
	}
	a.logger.Info("model loaded",
		zap.String("name", m.Name()),
		zap.Int("bytes", m.Size()),
		zap.Int("tensors", len(m.Header.Tensors)),
		zap.Int("operators", len(m.Header.Operators)),
	)

	registry := kernels.Default()

	pool := arena.NewPool("psram", a.cfg.ArenaPoolSize)
	ar, err := pool.Alloc(a.cfg.ArenaSize)
	if err != nil {
		a.logger.Error("could not allocate tensor arena", zap.Int("bytes", a.cfg.ArenaSize), zap.Error(err))
		return fmt.Errorf("allocate arena: %w", err)
	}

	interp := micro.NewInterpreter(m, registry, ar, micro.WithLogger(a.logger))
	a.session = inference.NewSession(interp,
		inference.WithLogger(a.logger),
		inference.WithLabels(m.Labels()),
	)
	if err := a.session.Allocate(); err != nil {
		return err
	}
	a.info = handlers.Info{
		Model:     m.Name(),
		Runtime:   string(config.RuntimeMicro),
		ArenaUsed: interp.ArenaUsed(),
		ArenaSize: ar.Size(),
	}
	a.logger.Info("session ready", zap.String("runtime", a.info.Runtime), zap.Strings("labels", m.Labels()))
	return nil
}

func (a *App) startONNX() error {
	meta, err := onnx.LoadMetadata(a.cfg.MetadataPath)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if err := onnx.InitEnvironment(a.cfg.ONNXRuntimeLib); err != nil {
		return err
	}
	rt := onnx.NewRuntime(a.cfg.ModelPath, meta)
	a.session = inference.NewSession(rt,
		inference.WithLogger(a.logger),
		inference.WithLabels(meta.Classes),
	)
	if err := a.session.Allocate(); err != nil {
		return errors.Join(err, rt.Close(), onnx.DestroyEnvironment())
	}
	a.onnx = true
	a.info = handlers.Info{Model: a.cfg.ModelPath, Runtime: string(config.RuntimeONNX)}
	a.logger.Info("onnx session ready", zap.String("model", a.cfg.ModelPath))
	return nil
}

func (a *App) Session() *inference.Session {
	return a.session
}

func (a *App) Info() handlers.Info {
	return a.info
}

func (a *App) Close() error {
	err := a.session.Close()
	if a.onnx {
		err = errors.Join(err, onnx.DestroyEnvironment())
	}
	return err
}
