package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingColorModel struct {
	calls int
	err   error
}

func (m *countingColorModel) ColorizeImage(ctx context.Context, image []byte) ([]byte, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]byte("color:"), image...), nil
}

func TestColorizeBytesCachesByKey(t *testing.T) {
	model := &countingColorModel{}
	svc := NewColorizeService(model, zap.NewNop())

	first, err := svc.ColorizeBytes(context.Background(), "https://archive/1.jpg", []byte("img"))
	require.NoError(t, err)
	second, err := svc.ColorizeBytes(context.Background(), "https://archive/1.jpg", []byte("img"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, model.calls)
}

func TestColorizeBytesHashesContentWithoutKey(t *testing.T) {
	model := &countingColorModel{}
	svc := NewColorizeService(model, zap.NewNop())

	_, err := svc.ColorizeBytes(context.Background(), "", []byte("same bytes"))
	require.NoError(t, err)
	_, err = svc.ColorizeBytes(context.Background(), "", []byte("same bytes"))
	require.NoError(t, err)
	_, err = svc.ColorizeBytes(context.Background(), "", []byte("other bytes"))
	require.NoError(t, err)

	assert.Equal(t, 2, model.calls)
}

func TestColorizeBytesDoesNotCacheFailures(t *testing.T) {
	model := &countingColorModel{err: errors.New("model down")}
	svc := NewColorizeService(model, zap.NewNop())

	_, err := svc.ColorizeBytes(context.Background(), "k", []byte("img"))
	require.Error(t, err)

	model.err = nil
	got, err := svc.ColorizeBytes(context.Background(), "k", []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, []byte("color:img"), got)
}
