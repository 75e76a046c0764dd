package config

import "github.com/yungtweek/mock-openai/internal/logger"

// ApplyPresetOverrides replaces pacing and length knobs with a named serving profile.
// Pool size, ports and error injection are left alone.
func ApplyPresetOverrides(cfg *Config) {
	switch cfg.Preset {
	case "", "none":
		return
	}
	logger.Log.Infow("[config] apply preset overrides", "preset", cfg.Preset)

	switch cfg.Preset {
	case "openai":
		// OpenAI-like (general): moderate lengths, small smooth deltas
		cfg.TokenMean = 256
		cfg.TokenStddev = 96
		cfg.EventTokensMin = 1
		cfg.EventTokensMax = 4
		cfg.ResponseDelayMs = 25
		cfg.DelayFirstEvent = true

	case "vllm":
		// vLLM-like: fast, chunky streaming
		cfg.TokenMean = 384
		cfg.TokenStddev = 128
		cfg.EventTokensMin = 4
		cfg.EventTokensMax = 16
		cfg.ResponseDelayMs = 8
		cfg.DelayFirstEvent = false

	case "hybrid":
		// Hybrid: balanced, most realistic for production chat
		cfg.TokenMean = 320
		cfg.TokenStddev = 110
		cfg.EventTokensMin = 1
		cfg.EventTokensMax = 8
		cfg.ResponseDelayMs = 20
		cfg.DelayFirstEvent = true

	default:
		logger.Log.Warnw("[config] unknown preset, keeping explicit settings", "preset", cfg.Preset)
	}
}
