package pipeline

import "encoding/json"

type alternatives struct {
	Alternatives []struct {
		Transcript *string `json:"transcript"`
	} `json:"alternatives"`
}

type callbackShape struct {
	Results *struct {
		Channels []alternatives `json:"channels"`
	} `json:"results"`
	Channel *alternatives `json:"channel"`
}

// ExtractTranscript pulls the first alternative's transcript out of a
// transcription callback body. The nested results form wins over the flattened
// channel form; anything else yields "".
func ExtractTranscript(payload []byte) string {
	text, _ := extract(payload)
	return text
}

// RecognizedShape reports whether payload carries a transcript in either
// accepted form.
func RecognizedShape(payload []byte) bool {
	_, ok := extract(payload)
	return ok
}

func extract(payload []byte) (string, bool) {
	var body callbackShape
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", false
	}
	if body.Results != nil && len(body.Results.Channels) > 0 {
		if text, ok := first(body.Results.Channels[0]); ok {
			return text, true
		}
	}
	if body.Channel != nil {
		if text, ok := first(*body.Channel); ok {
			return text, true
		}
	}
	return "", false
}

func first(a alternatives) (string, bool) {
	if len(a.Alternatives) == 0 || a.Alternatives[0].Transcript == nil {
		return "", false
	}
	return *a.Alternatives[0].Transcript, true
}
