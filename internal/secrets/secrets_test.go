package secrets

import "testing"

func TestAvailability(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		chat      bool
		simulator bool
	}{
		{"empty", Config{}, false, false},
		{"chat only", Config{OpenAIKey: "k", AssistantID: "a"}, true, false},
		{"speech and key", Config{OpenAIKey: "k", SpeechKey: "s", SpeechRegion: "eu"}, false, true},
		{"speech only", Config{SpeechKey: "s"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ChatAvailable(); got != tt.chat {
				t.Errorf("ChatAvailable() = %v, want %v", got, tt.chat)
			}
			sim, ok := tt.cfg.Simulator()
			if ok != tt.simulator {
				t.Errorf("Simulator() ok = %v, want %v", ok, tt.simulator)
			}
			if ok && (sim.SpeechAPIKey != tt.cfg.SpeechKey || sim.SpeechRegion != tt.cfg.SpeechRegion) {
				t.Errorf("Simulator() = %+v", sim)
			}
		})
	}
}
