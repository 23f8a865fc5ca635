// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/pipeline"
	"ai-voice-dialogue-service/internal/service/vad"
)

// Provider names accepted per backend kind.
var (
	STTProviders = []string{"mock", "whisperkit", "google"}
	AIProviders  = []string{"mock", "claude", "openai", "gemini"}
	TTSProviders = []string{"mock", "google", "elevenlabs"}
	AudioSources = []string{"microphone", "wav", "none"}
)

// Config is the complete service configuration. It is built once at
// startup and not modified afterwards.
type Config struct {
	Service       ServiceConfig
	Audio         AudioConfig
	VAD           VADConfig
	Pipeline      PipelineConfig
	STT           STTConfig
	AI            AIConfig
	TTS           TTSConfig
	Storage       StorageConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and listener ports.
type ServiceConfig struct {
	Principal   string
	GRPCPort    string
	HTTPPort    string
	MetricsPort string
	// ProjectPath scopes persisted sessions; empty disables persistence.
	ProjectPath string
	// Interactive enables the space-bar barge-in key on the terminal.
	Interactive bool
}

// AudioConfig holds capture and playback settings.
type AudioConfig struct {
	Source          string // microphone, wav or none
	SampleRate      int
	FramesPerBuffer int
	RingSeconds     float64
	WAVPath         string
	WAVLoop         bool
	PlaybackBuffer  time.Duration
}

// VADConfig holds voice activity detector tuning.
type VADConfig struct {
	FrameDuration   time.Duration
	Aggressiveness  int
	ActivationRatio float64
	SilenceTimeout  time.Duration
	EnergyFloor     float64
}

// PipelineConfig holds queue, retry and shutdown settings.
type PipelineConfig struct {
	TranscriptQueueSize int
	ResponseQueueSize   int
	PollInterval        time.Duration
	MaxRetries          int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	JoinTimeout         time.Duration
}

// STTConfig holds speech recognition settings.
type STTConfig struct {
	Provider        string
	LanguageCode    string
	InterimResults  bool
	AudioEncoding   string
	Model           string
	CredentialsFile string
	WhisperKitPath  string
	WhisperKitModel string
	ComputeUnits    string
}

// AIConfig holds response generation settings.
type AIConfig struct {
	Provider          string
	SystemPrompt      string
	Timeout           time.Duration
	ClaudePath        string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	GoogleAPIKey      string
	GeminiModel       string
	GeminiTemperature float64
	MaxTokens         int
	MaxHistory        int
}

// TTSConfig holds speech synthesis settings.
type TTSConfig struct {
	Provider        string
	LanguageCode    string
	Voice           string
	AudioEncoding   string
	SampleRateHz    int
	SpeakingRate    float64
	Pitch           float64
	CredentialsFile string

	ElevenLabsAPIKey       string
	ElevenLabsBaseURL      string
	ElevenLabsVoiceID      string
	ElevenLabsModelID      string
	ElevenLabsOutputFormat string
	ElevenLabsStability    float64
	ElevenLabsSimilarity   float64
	ElevenLabsStyle        float64
	ElevenLabsSpeed        float64
	ElevenLabsSpeakerBoost bool
}

// StorageConfig holds where sessions and metrics are written.
type StorageConfig struct {
	BaseDir string
}

// SessionsDir returns the root of per-project session directories.
func (s StorageConfig) SessionsDir() string {
	return filepath.Join(s.BaseDir, "projects")
}

// MetricsDir returns the directory holding daily metrics files.
func (s StorageConfig) MetricsDir() string {
	return filepath.Join(s.BaseDir, "metrics")
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicTurns   string
	TopicControl string
	Principal    string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file (or the file
// named by ENV_FILE) is applied first when present; variables already set
// in the environment win.
func Load() *Config {
	envFile := envOrDefault("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", envFile).Msg("Failed to load env file")
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-voice-dialogue")
	defaults := pipeline.DefaultConfig()
	vadDefaults := vad.DefaultConfig()

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
			ProjectPath: envOrDefault("PROJECT_PATH", ""),
			Interactive: envOrDefaultBool("INTERACTIVE", false),
		},
		Audio: AudioConfig{
			Source:          strings.ToLower(envOrDefault("AUDIO_SOURCE", "microphone")),
			SampleRate:      envOrDefaultInt("AUDIO_SAMPLE_RATE", 16000),
			FramesPerBuffer: envOrDefaultInt("AUDIO_FRAMES_PER_BUFFER", 1024),
			RingSeconds:     envOrDefaultFloat("AUDIO_RING_SECONDS", defaults.RingSeconds),
			WAVPath:         envOrDefault("AUDIO_WAV_PATH", ""),
			WAVLoop:         envOrDefaultBool("AUDIO_WAV_LOOP", false),
			PlaybackBuffer:  envOrDefaultDuration("AUDIO_PLAYBACK_BUFFER", 100*time.Millisecond),
		},
		VAD: VADConfig{
			FrameDuration:   envOrDefaultDuration("VAD_FRAME_DURATION", vadDefaults.FrameDuration),
			Aggressiveness:  envOrDefaultInt("VAD_AGGRESSIVENESS", vadDefaults.Aggressiveness),
			ActivationRatio: envOrDefaultFloat("VAD_ACTIVATION_RATIO", vadDefaults.ActivationRatio),
			SilenceTimeout:  envOrDefaultDuration("VAD_SILENCE_TIMEOUT", vadDefaults.SilenceTimeout),
			EnergyFloor:     envOrDefaultFloat("VAD_ENERGY_FLOOR", vadDefaults.EnergyFloor),
		},
		Pipeline: PipelineConfig{
			TranscriptQueueSize: envOrDefaultInt("PIPELINE_TRANSCRIPT_QUEUE_SIZE", defaults.TranscriptQueueSize),
			ResponseQueueSize:   envOrDefaultInt("PIPELINE_RESPONSE_QUEUE_SIZE", defaults.ResponseQueueSize),
			PollInterval:        envOrDefaultDuration("PIPELINE_POLL_INTERVAL", defaults.PollInterval),
			MaxRetries:          envOrDefaultInt("PIPELINE_MAX_RETRIES", defaults.MaxRetries),
			BackoffBase:         envOrDefaultDuration("PIPELINE_BACKOFF_BASE", defaults.BackoffBase),
			BackoffCap:          envOrDefaultDuration("PIPELINE_BACKOFF_CAP", defaults.BackoffCap),
			JoinTimeout:         envOrDefaultDuration("PIPELINE_JOIN_TIMEOUT", defaults.JoinTimeout),
		},
		STT: STTConfig{
			Provider:        strings.ToLower(envOrDefault("STT_PROVIDER", "mock")),
			LanguageCode:    envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			InterimResults:  envOrDefaultBool("STT_INTERIM_RESULTS", true),
			AudioEncoding:   envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			Model:           envOrDefault("STT_MODEL", ""),
			CredentialsFile: envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", ""),
			WhisperKitPath:  envOrDefault("WHISPERKIT_PATH", "whisperkit-cli"),
			WhisperKitModel: envOrDefault("WHISPERKIT_MODEL", "large-v3_turbo"),
			ComputeUnits:    envOrDefault("WHISPERKIT_COMPUTE_UNITS", "cpuAndNeuralEngine"),
		},
		AI: AIConfig{
			Provider:          strings.ToLower(envOrDefault("AI_PROVIDER", "mock")),
			SystemPrompt:      envOrDefault("AI_SYSTEM_PROMPT", ""),
			Timeout:           envOrDefaultDuration("AI_RESPONSE_TIMEOUT", 30*time.Second),
			ClaudePath:        envOrDefault("CLAUDE_PATH", "claude"),
			OpenAIAPIKey:      envOrDefault("OPENAI_API_KEY", ""),
			OpenAIBaseURL:     envOrDefault("OPENAI_BASE_URL", ""),
			OpenAIModel:       envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
			GoogleAPIKey:      envOrDefault("GOOGLE_API_KEY", ""),
			GeminiModel:       envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
			GeminiTemperature: envOrDefaultFloat("GEMINI_TEMPERATURE", 0.7),
			MaxTokens:         envOrDefaultInt("AI_MAX_TOKENS", 300),
			MaxHistory:        envOrDefaultInt("AI_MAX_HISTORY", 20),
		},
		TTS: TTSConfig{
			Provider:        strings.ToLower(envOrDefault("TTS_PROVIDER", "mock")),
			LanguageCode:    envOrDefault("TTS_LANGUAGE_CODE", "en-US"),
			Voice:           envOrDefault("TTS_VOICE", "en-US-Casual-K"),
			AudioEncoding:   envOrDefault("TTS_AUDIO_ENCODING", "LINEAR16"),
			SampleRateHz:    envOrDefaultInt("TTS_SAMPLE_RATE_HZ", 24000),
			SpeakingRate:    envOrDefaultFloat("TTS_SPEAKING_RATE", 1.0),
			Pitch:           envOrDefaultFloat("TTS_PITCH", 0),
			CredentialsFile: envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", ""),

			ElevenLabsAPIKey:       envOrDefault("ELEVENLABS_API_KEY", ""),
			ElevenLabsBaseURL:      envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
			ElevenLabsVoiceID:      envOrDefault("ELEVENLABS_VOICE_ID", "pNInz6obpgDQGcFmaJgB"),
			ElevenLabsModelID:      envOrDefault("ELEVENLABS_MODEL_ID", "eleven_flash_v2_5"),
			ElevenLabsOutputFormat: envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "mp3_22050_32"),
			ElevenLabsStability:    envOrDefaultFloat("ELEVENLABS_STABILITY", 0.5),
			ElevenLabsSimilarity:   envOrDefaultFloat("ELEVENLABS_SIMILARITY_BOOST", 0.8),
			ElevenLabsStyle:        envOrDefaultFloat("ELEVENLABS_STYLE", 0),
			ElevenLabsSpeed:        envOrDefaultFloat("ELEVENLABS_SPEED", 1.0),
			ElevenLabsSpeakerBoost: envOrDefaultBool("ELEVENLABS_SPEAKER_BOOST", true),
		},
		Storage: StorageConfig{
			BaseDir: envOrDefault("STORAGE_DIR", defaultStorageDir()),
		},
		Kafka: KafkaConfig{
			Enabled:      envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:      envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTurns:   envOrDefault("KAFKA_TOPIC_TURNS", "dialogue.turns"),
			TopicControl: envOrDefault("KAFKA_TOPIC_CONTROL", "dialogue.control"),
			Principal:    envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

// Validate rejects configurations the pipeline cannot start with. Errors
// wrap backend.ErrConfiguration.
func (c *Config) Validate() error {
	if !slices.Contains(STTProviders, c.STT.Provider) {
		return backend.ConfigError("unknown STT provider %q (want one of %v)", c.STT.Provider, STTProviders)
	}
	if !slices.Contains(AIProviders, c.AI.Provider) {
		return backend.ConfigError("unknown AI provider %q (want one of %v)", c.AI.Provider, AIProviders)
	}
	if !slices.Contains(TTSProviders, c.TTS.Provider) {
		return backend.ConfigError("unknown TTS provider %q (want one of %v)", c.TTS.Provider, TTSProviders)
	}
	if !slices.Contains(AudioSources, c.Audio.Source) {
		return backend.ConfigError("unknown audio source %q (want one of %v)", c.Audio.Source, AudioSources)
	}
	if c.Audio.Source == "wav" && c.Audio.WAVPath == "" {
		return backend.ConfigError("AUDIO_WAV_PATH is required for the wav audio source")
	}
	if c.AI.Provider == "openai" && c.AI.OpenAIAPIKey == "" {
		return backend.ConfigError("OPENAI_API_KEY is required for the openai provider")
	}
	if c.AI.Provider == "gemini" && c.AI.GoogleAPIKey == "" {
		return backend.ConfigError("GOOGLE_API_KEY is required for the gemini provider")
	}
	if c.TTS.Provider == "elevenlabs" && c.TTS.ElevenLabsAPIKey == "" {
		return backend.ConfigError("ELEVENLABS_API_KEY is required for the elevenlabs provider")
	}
	if c.VAD.Aggressiveness < 0 || c.VAD.Aggressiveness > 3 {
		return backend.ConfigError("VAD aggressiveness must be 0-3, got %d", c.VAD.Aggressiveness)
	}
	if c.VAD.ActivationRatio <= 0 || c.VAD.ActivationRatio > 1 {
		return backend.ConfigError("VAD activation ratio must be in (0, 1], got %g", c.VAD.ActivationRatio)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return backend.ConfigError("KAFKA_BROKERS is required when Kafka is enabled")
	}
	return c.PipelineConfig().Validate()
}

// VADConfig derives the detector configuration.
func (c *Config) VADConfig() vad.Config {
	v := vad.DefaultConfig()
	v.SampleRate = c.Audio.SampleRate
	v.FrameDuration = c.VAD.FrameDuration
	v.Aggressiveness = c.VAD.Aggressiveness
	v.ActivationRatio = c.VAD.ActivationRatio
	v.SilenceTimeout = c.VAD.SilenceTimeout
	v.EnergyFloor = c.VAD.EnergyFloor
	return v
}

// PipelineConfig derives the orchestrator configuration.
func (c *Config) PipelineConfig() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.SampleRate = c.Audio.SampleRate
	p.VAD = c.VADConfig()
	p.RingSeconds = c.Audio.RingSeconds
	p.TranscriptQueueSize = c.Pipeline.TranscriptQueueSize
	p.ResponseQueueSize = c.Pipeline.ResponseQueueSize
	p.PollInterval = c.Pipeline.PollInterval
	p.MaxRetries = c.Pipeline.MaxRetries
	p.BackoffBase = c.Pipeline.BackoffBase
	p.BackoffCap = c.Pipeline.BackoffCap
	p.JoinTimeout = c.Pipeline.JoinTimeout
	return p
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voice-dialogue"
	}
	return filepath.Join(home, ".voice-dialogue")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
