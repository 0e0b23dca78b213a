// Package secrets holds the provider credentials of the chat and speech
// services. Missing credentials disable a feature, they are never fatal.
package secrets

// Config holds provider credentials.
type Config struct {
	OpenAIKey    string
	OpenAIURL    string
	OpenAIAzure  bool
	AssistantID  string
	SpeechKey    string
	SpeechRegion string
}

// ChatAvailable reports whether the assistant can be called.
func (c Config) ChatAvailable() bool {
	return c.OpenAIKey != "" && c.AssistantID != ""
}

// HasValidKeys reports whether the voice simulator can run: it needs both
// the chat and the speech key.
func (c Config) HasValidKeys() bool {
	return c.OpenAIKey != "" && c.SpeechKey != ""
}

// SimulatorConfig is the credential set handed to a logged-in simulator
// session.
type SimulatorConfig struct {
	OpenAIAPIKey   string `json:"openAIApiKey"`
	OpenAIEndpoint string `json:"openAIEndpoint"`
	SpeechAPIKey   string `json:"speechApiKey"`
	SpeechRegion   string `json:"speechRegion"`
}

// Simulator returns the simulator credentials, or false when the keys
// are incomplete.
func (c Config) Simulator() (SimulatorConfig, bool) {
	if !c.HasValidKeys() {
		return SimulatorConfig{}, false
	}
	return SimulatorConfig{
		OpenAIAPIKey:   c.OpenAIKey,
		OpenAIEndpoint: c.OpenAIURL,
		SpeechAPIKey:   c.SpeechKey,
		SpeechRegion:   c.SpeechRegion,
	}, true
}
