package speech

import "testing"

func TestTTSRequestWithDefaults(t *testing.T) {
	cfg := &SpeechConfig{TTSLanguage: "ru", TTSVoice: "zh_female_qingxin", TTSSlow: true}

	got := TTSRequest{Text: "привет"}.WithDefaults(cfg)
	if got.Language != "ru" || got.Voice != "zh_female_qingxin" || !got.Slow || got.Format != DefaultFormat {
		t.Fatalf("defaults not applied: %+v", got)
	}

	explicit := TTSRequest{Text: "hi", Language: "en", Voice: "v2", Format: "wav"}.WithDefaults(cfg)
	if explicit.Language != "en" || explicit.Voice != "v2" || explicit.Format != "wav" {
		t.Fatalf("explicit values overwritten: %+v", explicit)
	}

	bare := TTSRequest{Text: "hi"}.WithDefaults(nil)
	if bare.Format != DefaultFormat || bare.Language != "" {
		t.Fatalf("unexpected result without config: %+v", bare)
	}
}
