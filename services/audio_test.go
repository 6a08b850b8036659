package services

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"time-capsule/providers/openai"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTTS struct {
	mu     sync.Mutex
	calls  int32
	data   []byte
	format string
	errs   []error // pro Aufruf konsumiert, danach Erfolg
	delay  time.Duration
}

func (f *fakeTTS) Speak(ctx context.Context, text string) ([]byte, string, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return nil, "", err
	}
	return f.data, f.format, nil
}

func TestGenerateCachesByText(t *testing.T) {
	tts := &fakeTTS{data: []byte("mp3data"), format: openai.FormatMP3}
	svc := NewAudioService(tts, zap.NewNop())

	data1, ct1, err := svc.Generate(context.Background(), "hello")
	require.NoError(t, err)
	data2, ct2, err := svc.Generate(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, data1, data2)
	assert.Equal(t, "audio/mpeg", ct1)
	assert.Equal(t, ct1, ct2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tts.calls))
}

func TestGenerateDeduplicatesConcurrentRequests(t *testing.T) {
	tts := &fakeTTS{data: []byte("mp3data"), format: openai.FormatMP3, delay: 50 * time.Millisecond}
	svc := NewAudioService(tts, zap.NewNop())

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, _, err := svc.Generate(context.Background(), "same text")
			assert.NoError(t, err)
			assert.Equal(t, []byte("mp3data"), data)
		}()
	}
	wg.Wait()

	// Alle Aufrufer teilen sich eine einzige Synthese
	assert.Equal(t, int32(1), atomic.LoadInt32(&tts.calls))
}

func TestGenerateRetriesOnceOnRateLimit(t *testing.T) {
	tts := &fakeTTS{data: []byte("ok"), format: openai.FormatMP3, errs: []error{openai.ErrRateLimited}}
	svc := NewAudioService(tts, zap.NewNop())
	svc.RetryBackoff = time.Millisecond

	data, _, err := svc.Generate(context.Background(), "rate limited once")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tts.calls))
}

func TestGenerateGivesUpAfterSecondRateLimit(t *testing.T) {
	tts := &fakeTTS{errs: []error{openai.ErrRateLimited, openai.ErrRateLimited}}
	svc := NewAudioService(tts, zap.NewNop())
	svc.RetryBackoff = time.Millisecond

	_, _, err := svc.Generate(context.Background(), "rate limited twice")
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tts.calls))
}

func TestGenerateDoesNotCacheFailures(t *testing.T) {
	tts := &fakeTTS{data: []byte("ok"), format: openai.FormatMP3, errs: []error{errors.New("boom")}}
	svc := NewAudioService(tts, zap.NewNop())
	svc.EvictAfter = time.Millisecond

	_, _, err := svc.Generate(context.Background(), "flaky")
	require.Error(t, err)

	// Pending-Eintrag abwarten, dann muss ein neuer Versuch durchgehen
	time.Sleep(20 * time.Millisecond)
	data, _, err := svc.Generate(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), data)
}

func TestGenerateWrapsPCMInWAV(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	tts := &fakeTTS{data: pcm, format: openai.FormatPCM}
	svc := NewAudioService(tts, zap.NewNop())

	data, contentType, err := svc.Generate(context.Background(), "pcm audio")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", contentType)
	require.Len(t, data, 44+len(pcm))

	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, "fmt ", string(data[12:16]))
	assert.Equal(t, "data", string(data[36:40]))
	assert.Equal(t, uint32(len(pcm)+36), binary.LittleEndian.Uint32(data[4:8]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]))          // mono
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(data[24:28]))      // sample rate
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(data[40:44]))   // data length
	assert.Equal(t, pcm, data[44:])
}
