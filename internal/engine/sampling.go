package engine

import (
	"github.com/r3d91ll/llm-chat-simulator/internal/completion"
	"github.com/r3d91ll/llm-chat-simulator/internal/conversation"
)

// Retry adjustments and their ceilings.
const (
	retryTemperatureBoost = 0.15
	retryPenaltyBoost     = 0.3
	maxTemperature        = 1.5
	maxPenalty            = 2.0
)

// Bot A is the steadier voice, Bot B samples wider and is pushed harder
// away from repetition.
var profiles = map[conversation.Role]completion.Params{
	conversation.RoleBotA: {
		Temperature:      0.55,
		TopP:             0.9,
		TopK:             40,
		FrequencyPenalty: 0.3,
		PresencePenalty:  0.2,
	},
	conversation.RoleBotB: {
		Temperature:      0.85,
		TopP:             0.95,
		TopK:             50,
		FrequencyPenalty: 0.6,
		PresencePenalty:  0.5,
	},
}

// Profile returns the first-attempt sampling parameters for a bot.
// Non-bot roles get Bot A's profile.
func Profile(speaker conversation.Role) completion.Params {
	p, ok := profiles[speaker]
	if !ok {
		p = profiles[conversation.RoleBotA]
	}
	return p
}

// RetryProfile returns the hotter, more penalized parameters used after a
// reply came back too close to the speaker's previous one.
func RetryProfile(speaker conversation.Role) completion.Params {
	p := Profile(speaker)
	p.Temperature = min(p.Temperature+retryTemperatureBoost, maxTemperature)
	p.FrequencyPenalty = min(p.FrequencyPenalty+retryPenaltyBoost, maxPenalty)
	p.PresencePenalty = min(p.PresencePenalty+retryPenaltyBoost, maxPenalty)
	return p
}
