package services

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"time-capsule/providers/openai"

	"go.uber.org/zap"
)

// TTSBackend synthetisiert Sprache. Das zweite Ergebnis nennt das Format
// der Rohdaten (openai.FormatMP3 oder openai.FormatPCM).
type TTSBackend interface {
	Speak(ctx context.Context, text string) ([]byte, string, error)
}

type audioResult struct {
	data        []byte
	contentType string
}

type pendingAudio struct {
	done   chan struct{}
	result *audioResult
	err    error
}

// AudioService erzeugt Audio-Erzählungen, content-adressiert gecacht und mit
// Deduplizierung gleichzeitiger identischer Anfragen: pro Text-Hash ist
// prozessweit höchstens eine Synthese in Flight, weitere Aufrufer warten auf
// deren Ergebnis.
type AudioService struct {
	TTS    TTSBackend
	Logger *zap.Logger

	// Eine begrenzte Wiederholung nach festem Backoff, nur bei Rate-Limits.
	RetryBackoff time.Duration
	// Pending-Einträge werden kurz nach Abschluss entfernt, damit die Map
	// klein bleibt, aber nahezu gleichzeitige Duplikate noch gefangen werden.
	EvictAfter time.Duration

	mu      sync.Mutex
	cache   map[string]*audioResult
	pending map[string]*pendingAudio
}

// NewAudioService erstellt einen neuen AudioService.
func NewAudioService(tts TTSBackend, logger *zap.Logger) *AudioService {
	return &AudioService{
		TTS:          tts,
		Logger:       logger,
		RetryBackoff: 2 * time.Second,
		EvictAfter:   2 * time.Second,
		cache:        make(map[string]*audioResult),
		pending:      make(map[string]*pendingAudio),
	}
}

// Generate synthetisiert Audio für den Text. Identische Texte treffen den
// Cache; läuft für denselben Text bereits eine Synthese, wird auf deren
// Ergebnis gewartet statt das Backend erneut aufzurufen.
func (s *AudioService) Generate(ctx context.Context, text string) ([]byte, string, error) {
	sum := md5.Sum([]byte(text))
	hash := hex.EncodeToString(sum[:])
	log := s.Logger.With(zap.String("hash", hash))

	s.mu.Lock()
	if cached, ok := s.cache[hash]; ok {
		s.mu.Unlock()
		log.Debug("Nutze gecachtes Audio.")
		return cached.data, cached.contentType, nil
	}
	if p, ok := s.pending[hash]; ok {
		s.mu.Unlock()
		log.Debug("Warte auf laufende Synthese für identischen Text.")
		select {
		case <-p.done:
			if p.err != nil {
				return nil, "", p.err
			}
			return p.result.data, p.result.contentType, nil
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	p := &pendingAudio{done: make(chan struct{})}
	s.pending[hash] = p
	s.mu.Unlock()

	result, err := s.synthesize(ctx, text, log)

	s.mu.Lock()
	p.result, p.err = result, err
	if err == nil {
		s.cache[hash] = result
	}
	close(p.done)
	time.AfterFunc(s.EvictAfter, func() {
		s.mu.Lock()
		delete(s.pending, hash)
		s.mu.Unlock()
	})
	s.mu.Unlock()

	if err != nil {
		return nil, "", err
	}
	return result.data, result.contentType, nil
}

func (s *AudioService) synthesize(ctx context.Context, text string, log *zap.Logger) (*audioResult, error) {
	data, format, err := s.TTS.Speak(ctx, text)
	if errors.Is(err, openai.ErrRateLimited) {
		log.Warn("TTS rate-limited, wiederhole nach Backoff.", zap.Duration("backoff", s.RetryBackoff))
		select {
		case <-time.After(s.RetryBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		data, format, err = s.TTS.Speak(ctx, text)
	}
	if err != nil {
		log.Error("Audio-Synthese fehlgeschlagen", zap.Error(err))
		return nil, err
	}

	if format == openai.FormatPCM {
		// Headerloses PCM in einen minimalen WAV-Container verpacken.
		data = wrapPCMInWAV(data, 24000, 1, 16)
		return &audioResult{data: data, contentType: "audio/wav"}, nil
	}
	return &audioResult{data: data, contentType: "audio/mpeg"}, nil
}

// wrapPCMInWAV stellt den 44-Byte-RIFF/WAVE-Header vor rohe PCM-Daten.
func wrapPCMInWAV(pcm []byte, sampleRate, numChannels, bitsPerSample int) []byte {
	dataLen := len(pcm)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(dataLen+36))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16) // PCM-Chunk-Länge
	binary.LittleEndian.PutUint16(header[20:22], 1)  // PCM-Format
	binary.LittleEndian.PutUint16(header[22:24], uint16(numChannels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bitsPerSample))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcm...)
}
