package app

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Brownie44l1/plate-ocr/internal/arena"
	"github.com/Brownie44l1/plate-ocr/internal/assets"
	"github.com/Brownie44l1/plate-ocr/internal/config"
	"github.com/Brownie44l1/plate-ocr/internal/frame"
	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

func newApp(t *testing.T, cfg *config.Config, logger *zap.Logger) *App {
	t.Helper()
	a, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestNewAbortsOnSchemaMismatch(t *testing.T) {
	q := tensor.QuantParams{Scale: 1}
	b := model.NewBuilder("old").WithSchemaVersion(2)
	in := b.AddTensor("in", tensor.Int8, []int{1, 64, 64, 1}, &q)
	out := b.AddTensor("out", tensor.Int8, []int{1, 64, 64, 1}, &q)
	b.AddOperator("RELU", []int{in}, []int{out}, model.Options{}).SetIO(in, out)
	buf, err := b.Bytes()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "old.qnnm")
	require.NoError(t, os.WriteFile(path, buf, 0o644))

	cfg := config.Default()
	cfg.ModelPath = path
	core, logs := observer.New(zap.ErrorLevel)
	_, err = New(cfg, zap.New(core))
	require.ErrorIs(t, err, model.ErrSchemaMismatch)
	require.Equal(t, 1, logs.FilterMessage("model schema version not supported").Len())
}

func TestNewAbortsOnArenaFailures(t *testing.T) {
	cfg := config.Default()
	cfg.ArenaSize = 256
	_, err := New(cfg, nil)
	require.ErrorIs(t, err, arena.ErrTooSmall)

	cfg = config.Default()
	cfg.ArenaPoolSize = 1024
	_, err = New(cfg, nil)
	require.ErrorIs(t, err, arena.ErrPoolExhausted)

	cfg = config.Default()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.qnnm")
	_, err = New(cfg, nil)
	require.Error(t, err)
}

func TestNewReportsArenaUsage(t *testing.T) {
	a := newApp(t, config.Default(), nil)
	info := a.Info()
	require.Equal(t, "placa_ref", info.Model)
	require.Equal(t, "micro", info.Runtime)
	require.Equal(t, 614400, info.ArenaSize)
	require.Positive(t, info.ArenaUsed)
	require.Less(t, info.ArenaUsed, info.ArenaSize)
}

func TestRunTestMode(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = config.ModeTest
	cfg.TestInterval = time.Millisecond
	cfg.TestLogEvery = 1

	core, logs := observer.New(zap.InfoLevel)
	a := newApp(t, cfg, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	const line = "Pred=10 score_q=127 score_f=0.99609375 (n=36)"
	require.Eventually(t, func() bool {
		return logs.FilterMessage(line).Len() >= 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestStreamLoopDropsTrailingPartialFrame(t *testing.T) {
	cfg := config.Default()
	cfg.StreamRetryDelay = time.Millisecond
	a := newApp(t, cfg, nil)

	in := append(bytes.Clone(assets.Image), bytes.Repeat([]byte{0}, frame.Size)...)
	in = append(in, make([]byte, 100)...)
	var out bytes.Buffer
	require.NoError(t, a.streamLoop(context.Background(), bytes.NewReader(in), &out))
	require.Equal(t, "RESULTADO_PREDICAO:10:127\nRESULTADO_PREDICAO:0:127\n", out.String())
}

func TestStreamLoopRGB565Captures(t *testing.T) {
	cfg := config.Default()
	cfg.StreamRGB565Width, cfg.StreamRGB565Height = 80, 60
	a := newApp(t, cfg, nil)

	in := bytes.Repeat([]byte{0xff, 0xff}, 80*60)
	var out bytes.Buffer
	require.NoError(t, a.streamLoop(context.Background(), bytes.NewReader(in), &out))
	require.Equal(t, "RESULTADO_PREDICAO:23:114\n", out.String())
}

func TestServeStreamOneConnectionAtATime(t *testing.T) {
	a := newApp(t, config.Default(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.serveStream(ctx, ln) }()

	exchange := func(payload []byte, want string) {
		conn, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
		_, err = conn.Write(payload)
		require.NoError(t, err)
		line, err := bufio.NewReader(conn).ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, want, line)
	}
	exchange(assets.Image, "RESULTADO_PREDICAO:10:127\n")
	exchange(bytes.Repeat([]byte{255}, frame.Size), "RESULTADO_PREDICAO:23:114\n")

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("serveStream did not stop")
	}
}
