package app

import (
	"ai-voice-dialogue-service/internal/config"
	"ai-voice-dialogue-service/internal/service/audio"
	"ai-voice-dialogue-service/internal/service/backend"
	"ai-voice-dialogue-service/internal/service/llm"
	"ai-voice-dialogue-service/internal/service/llm/claude"
	"ai-voice-dialogue-service/internal/service/llm/gemini"
	llmmock "ai-voice-dialogue-service/internal/service/llm/mock"
	"ai-voice-dialogue-service/internal/service/llm/openai"
	"ai-voice-dialogue-service/internal/service/stt"
	sttgoogle "ai-voice-dialogue-service/internal/service/stt/google"
	sttmock "ai-voice-dialogue-service/internal/service/stt/mock"
	"ai-voice-dialogue-service/internal/service/stt/whisperkit"
	"ai-voice-dialogue-service/internal/service/tts"
	"ai-voice-dialogue-service/internal/service/tts/elevenlabs"
	ttsgoogle "ai-voice-dialogue-service/internal/service/tts/google"
	ttsmock "ai-voice-dialogue-service/internal/service/tts/mock"
)

// ProviderInfo describes one selectable backend.
type ProviderInfo struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Requires    string `json:"requires,omitempty"`
}

// Providers lists every backend the service can be configured with.
func Providers() []ProviderInfo {
	return []ProviderInfo{
		{"stt", "mock", "Scripted transcripts for development", ""},
		{"stt", "whisperkit", "Local WhisperKit transcription per utterance", "whisperkit-cli on PATH"},
		{"stt", "google", "Google Cloud streaming speech recognition", "GOOGLE_APPLICATION_CREDENTIALS"},
		{"ai", "mock", "Canned or echoed replies", ""},
		{"ai", "claude", "Claude CLI in stream-json mode", "claude on PATH"},
		{"ai", "openai", "OpenAI streaming chat completions", "OPENAI_API_KEY"},
		{"ai", "gemini", "Google Gemini streaming content generation", "GOOGLE_API_KEY"},
		{"tts", "mock", "Silent audio with simulated playback time", ""},
		{"tts", "google", "Google Cloud text-to-speech with local playback", "GOOGLE_APPLICATION_CREDENTIALS, audio output device"},
		{"tts", "elevenlabs", "ElevenLabs streaming text-to-speech with local playback", "ELEVENLABS_API_KEY, audio output device"},
	}
}

func newSTT(cfg *config.Config) (stt.Backend, error) {
	switch cfg.STT.Provider {
	case "mock":
		c := sttmock.DefaultConfig()
		c.Utterances = sttmock.DefaultUtterances
		c.Loop = true
		return sttmock.New(c), nil
	case "whisperkit":
		c := whisperkit.DefaultConfig()
		c.Path = cfg.STT.WhisperKitPath
		c.Model = cfg.STT.WhisperKitModel
		c.ComputeUnits = cfg.STT.ComputeUnits
		c.SampleRate = cfg.Audio.SampleRate
		return whisperkit.New(c), nil
	case "google":
		c := sttgoogle.DefaultConfig()
		c.LanguageCode = cfg.STT.LanguageCode
		c.SampleRateHz = int32(cfg.Audio.SampleRate)
		c.InterimResults = cfg.STT.InterimResults
		c.AudioEncoding = cfg.STT.AudioEncoding
		c.Model = cfg.STT.Model
		c.CredentialsFile = cfg.STT.CredentialsFile
		return sttgoogle.New(c), nil
	}
	return nil, backend.ConfigError("unknown STT provider %q", cfg.STT.Provider)
}

func systemPrompt(cfg *config.Config) string {
	if cfg.AI.SystemPrompt != "" {
		return cfg.AI.SystemPrompt
	}
	return llm.DefaultSystemPrompt
}

func newGenerator(cfg *config.Config) (llm.Backend, error) {
	switch cfg.AI.Provider {
	case "mock":
		return llmmock.New(llmmock.DefaultConfig()), nil
	case "claude":
		c := claude.DefaultConfig()
		c.Path = cfg.AI.ClaudePath
		c.SystemPrompt = systemPrompt(cfg)
		c.Timeout = cfg.AI.Timeout
		return claude.New(c), nil
	case "openai":
		c := openai.DefaultConfig()
		c.APIKey = cfg.AI.OpenAIAPIKey
		c.BaseURL = cfg.AI.OpenAIBaseURL
		c.Model = cfg.AI.OpenAIModel
		c.SystemPrompt = systemPrompt(cfg)
		c.MaxTokens = cfg.AI.MaxTokens
		c.MaxHistory = cfg.AI.MaxHistory
		return openai.New(c), nil
	case "gemini":
		c := gemini.DefaultConfig()
		c.APIKey = cfg.AI.GoogleAPIKey
		c.Model = cfg.AI.GeminiModel
		c.Temperature = float32(cfg.AI.GeminiTemperature)
		c.SystemPrompt = systemPrompt(cfg)
		c.MaxTokens = cfg.AI.MaxTokens
		c.MaxHistory = cfg.AI.MaxHistory
		return gemini.New(c), nil
	}
	return nil, backend.ConfigError("unknown AI provider %q", cfg.AI.Provider)
}

func newSynthesizer(cfg *config.Config, player tts.Player) (tts.Backend, error) {
	switch cfg.TTS.Provider {
	case "mock":
		c := ttsmock.DefaultConfig()
		c.SampleRate = cfg.TTS.SampleRateHz
		return ttsmock.New(c), nil
	case "google":
		if player == nil {
			return nil, backend.ConfigError("the google TTS provider needs an audio output device")
		}
		c := ttsgoogle.DefaultConfig()
		c.LanguageCode = cfg.TTS.LanguageCode
		c.VoiceName = cfg.TTS.Voice
		c.AudioEncoding = cfg.TTS.AudioEncoding
		c.SampleRateHz = int32(cfg.TTS.SampleRateHz)
		c.SpeakingRate = cfg.TTS.SpeakingRate
		c.Pitch = cfg.TTS.Pitch
		c.CredentialsFile = cfg.TTS.CredentialsFile
		return ttsgoogle.New(c, player), nil
	case "elevenlabs":
		if player == nil {
			return nil, backend.ConfigError("the elevenlabs TTS provider needs an audio output device")
		}
		c := elevenlabs.DefaultConfig()
		c.APIKey = cfg.TTS.ElevenLabsAPIKey
		c.BaseURL = cfg.TTS.ElevenLabsBaseURL
		c.VoiceID = cfg.TTS.ElevenLabsVoiceID
		c.ModelID = cfg.TTS.ElevenLabsModelID
		c.OutputFormat = cfg.TTS.ElevenLabsOutputFormat
		c.Stability = cfg.TTS.ElevenLabsStability
		c.SimilarityBoost = cfg.TTS.ElevenLabsSimilarity
		c.Style = cfg.TTS.ElevenLabsStyle
		c.Speed = cfg.TTS.ElevenLabsSpeed
		c.SpeakerBoost = cfg.TTS.ElevenLabsSpeakerBoost
		return elevenlabs.New(c, player), nil
	}
	return nil, backend.ConfigError("unknown TTS provider %q", cfg.TTS.Provider)
}

func newSource(cfg *config.Config, microphone audio.Source) (audio.Source, error) {
	switch cfg.Audio.Source {
	case "microphone":
		if microphone == nil {
			return nil, backend.ConfigError("no microphone available for the microphone audio source")
		}
		return microphone, nil
	case "wav":
		return audio.NewWAVSource(cfg.Audio.WAVPath, cfg.Audio.WAVLoop), nil
	case "none":
		return nil, nil
	}
	return nil, backend.ConfigError("unknown audio source %q", cfg.Audio.Source)
}
