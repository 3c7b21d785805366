package micro

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Brownie44l1/plate-ocr/internal/arena"
	"github.com/Brownie44l1/plate-ocr/internal/kernels"
	"github.com/Brownie44l1/plate-ocr/internal/model"
	"github.com/Brownie44l1/plate-ocr/internal/tensor"
)

// poolReshapeFC: [1,4,4,1] -avg 2x2-> [1,2,2,1] -reshape-> [1,4] -fc-> [1,2] -softmax-> [1,2]
func poolReshapeFC(t *testing.T) *model.Model {
	t.Helper()
	unit := tensor.QuantParams{Scale: 1}
	b := model.NewBuilder("small").WithLabels("left", "right")
	in := b.AddTensor("in", tensor.Int8, []int{1, 4, 4, 1}, &unit)
	pooled := b.AddTensor("pooled", tensor.Int8, []int{1, 2, 2, 1}, &unit)
	flat := b.AddTensor("flat", tensor.Int8, []int{1, 4}, &unit)
	w := b.AddConstInt8("w", []int{2, 4}, unit, []int8{1, 0, 1, 0, 0, 1, 0, 1})
	bias := b.AddConstInt32("bias", []int{2}, []int32{0, 3})
	logits := b.AddTensor("logits", tensor.Int8, []int{1, 2}, &unit)
	probs := b.AddTensor("probs", tensor.Int8, []int{1, 2}, &tensor.QuantParams{Scale: 1.0 / 256, ZeroPoint: -128})

	b.AddOperator("AVERAGE_POOL_2D", []int{in}, []int{pooled}, model.Options{
		Padding: model.PaddingValid, FilterH: 2, FilterW: 2, StrideH: 2, StrideW: 2,
	})
	b.AddOperator("RESHAPE", []int{pooled}, []int{flat}, model.Options{NewShape: []int{1, 4}})
	b.AddOperator("FULLY_CONNECTED", []int{flat, w, bias}, []int{logits}, model.Options{})
	b.AddOperator("SOFTMAX", []int{logits}, []int{probs}, model.Options{Beta: 1})
	b.SetIO(in, probs)

	buf, err := b.Bytes()
	require.NoError(t, err)
	m, err := model.Load(buf)
	require.NoError(t, err)
	return m
}

func TestInterpreterInvoke(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ip := NewInterpreter(poolReshapeFC(t), kernels.Default(), arena.New(4096), WithLogger(zap.New(core)))
	require.NoError(t, ip.AllocateTensors())
	require.Equal(t, 1, logs.FilterMessage("tensors allocated").Len())

	in := ip.Input()
	require.Equal(t, []int{1, 4, 4, 1}, in.Dims)
	// Left half 10, right half 20.
	for i := range in.Data {
		if i%4 < 2 {
			in.Data[i] = 10
		} else {
			in.Data[i] = 20
		}
	}
	require.NoError(t, ip.Invoke())

	// pooled = [10,20,10,20]; logits = [20, 43]; softmax saturates.
	out := ip.Output()
	require.Equal(t, []int8{-128, 127}, out.Int8())
	require.Greater(t, ip.ArenaUsed(), 0)
	require.NoError(t, ip.Close())
}

func TestInterpreterUnsupportedOp(t *testing.T) {
	reg, err := kernels.NewRegistry(kernels.AveragePool2D, kernels.Reshape, kernels.FullyConnected)
	require.NoError(t, err)

	ip := NewInterpreter(poolReshapeFC(t), reg, arena.New(4096))
	err = ip.AllocateTensors()
	require.ErrorIs(t, err, ErrUnsupportedOp)
	require.Contains(t, err.Error(), "SOFTMAX")
	require.ErrorIs(t, ip.Invoke(), ErrNotAllocated)
	require.Nil(t, ip.Input())
}

func TestInterpreterArenaTooSmall(t *testing.T) {
	ip := NewInterpreter(poolReshapeFC(t), kernels.Default(), arena.New(256))
	err := ip.AllocateTensors()
	require.ErrorIs(t, err, arena.ErrTooSmall)

	var alloc *arena.AllocationError
	require.True(t, errors.As(err, &alloc))
	require.Equal(t, 256, alloc.Available)
	require.Greater(t, alloc.Requested, 256)
}

func TestInterpreterAllocationFailureIsPermanent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ip := NewInterpreter(poolReshapeFC(t), kernels.Default(), arena.New(256), WithLogger(zap.New(core)))
	first := ip.AllocateTensors()
	require.ErrorIs(t, first, arena.ErrTooSmall)

	second := ip.AllocateTensors()
	require.Same(t, first, second)
	require.Nil(t, ip.Input())
	require.Nil(t, ip.Output())
	require.ErrorIs(t, ip.Invoke(), ErrNotAllocated)
	require.Zero(t, logs.FilterMessage("tensors allocated").Len())
}

func TestInterpreterPrepareFailure(t *testing.T) {
	unit := tensor.QuantParams{Scale: 1}
	b := model.NewBuilder("bad reshape")
	in := b.AddTensor("in", tensor.Int8, []int{1, 4}, &unit)
	out := b.AddTensor("out", tensor.Int8, []int{1, 3}, &unit)
	b.AddOperator("RESHAPE", []int{in}, []int{out}, model.Options{}).SetIO(in, out)
	buf, err := b.Bytes()
	require.NoError(t, err)
	m, err := model.Load(buf)
	require.NoError(t, err)

	err = NewInterpreter(m, kernels.Default(), arena.New(1024)).AllocateTensors()
	require.ErrorIs(t, err, kernels.ErrInvalidNode)
}

func TestZeroChannelModelFailsWithoutPanic(t *testing.T) {
	unit := tensor.QuantParams{Scale: 1}
	b := model.NewBuilder("zero channels")
	in := b.AddTensor("in", tensor.Int8, []int{1, 4, 4, 0}, &unit)
	w := b.AddConstInt8("w", []int{1, 1, 1, 2}, unit, []int8{1, 1})
	out := b.AddTensor("out", tensor.Int8, []int{1, 4, 4, 2}, &unit)
	b.AddOperator("DEPTHWISE_CONV_2D", []int{in, w}, []int{out}, model.Options{Padding: model.PaddingValid}).SetIO(in, out)
	buf, err := b.Bytes()
	require.NoError(t, err)

	require.NotPanics(t, func() {
		var m *model.Model
		m, err = model.Load(buf)
		if err == nil {
			err = NewInterpreter(m, kernels.Default(), arena.New(4096)).AllocateTensors()
		}
	})
	require.ErrorIs(t, err, model.ErrMalformed)
}
