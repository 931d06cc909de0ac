package speechkit

import (
	"strings"
	"time"
)

// RecognitionRequest represents request to start recognition
type RecognitionRequest struct {
	Config RecognitionConfig `json:"config"`
	Audio  AudioSource       `json:"audio"`
}

// RecognitionConfig holds recognition parameters
type RecognitionConfig struct {
	Specification Specification `json:"specification"`
}

// Specification defines audio and recognition parameters
type Specification struct {
	LanguageCode      string `json:"languageCode"`
	Model             string `json:"model"`
	AudioEncoding     string `json:"audioEncoding"`
	SampleRateHertz   int    `json:"sampleRateHertz,omitempty"`
	AudioChannelCount int    `json:"audioChannelCount,omitempty"`
	ProfanityFilter   bool   `json:"profanityFilter"`
	LiteratureText    bool   `json:"literatureText"`
	RawResults        bool   `json:"rawResults"`
}

// AudioSource specifies location of audio file
type AudioSource struct {
	URI string `json:"uri"`
}

// OperationResponse represents Yandex Cloud operation response
type OperationResponse struct {
	ID         string             `json:"id"`
	CreatedAt  string             `json:"createdAt,omitempty"`
	ModifiedAt string             `json:"modifiedAt,omitempty"`
	Done       bool               `json:"done"`
	Response   *RecognitionResult `json:"response,omitempty"`
	Error      *OperationError    `json:"error,omitempty"`
}

// OperationError represents error in operation
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RecognitionResult represents final recognition result
type RecognitionResult struct {
	Chunks []Chunk `json:"chunks"`
}

// Chunk represents one utterance of recognized text
type Chunk struct {
	Alternatives []Alternative `json:"alternatives"`
	ChannelTag   string        `json:"channelTag,omitempty"`
}

// Alternative represents one recognition variant
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Words      []Word  `json:"words,omitempty"`
}

// Word represents single word with timing. Times come as "1.200s".
type Word struct {
	StartTime  string  `json:"startTime"`
	EndTime    string  `json:"endTime"`
	Word       string  `json:"word"`
	Confidence float64 `json:"confidence"`
}

// Best returns the top alternative, if any
func (c Chunk) Best() (Alternative, bool) {
	if len(c.Alternatives) == 0 {
		return Alternative{}, false
	}
	return c.Alternatives[0], true
}

// Span returns the utterance bounds from its first and last word
func (a Alternative) Span() (start, end time.Duration, ok bool) {
	if len(a.Words) == 0 {
		return 0, 0, false
	}
	start, err := time.ParseDuration(a.Words[0].StartTime)
	if err != nil {
		return 0, 0, false
	}
	end, err = time.ParseDuration(a.Words[len(a.Words)-1].EndTime)
	if err != nil {
		return 0, 0, false
	}
	return start, end, true
}

// GetFullText joins the best alternative of every chunk
func (r *RecognitionResult) GetFullText() string {
	parts := make([]string, 0, len(r.Chunks))
	for _, chunk := range r.Chunks {
		if alt, ok := chunk.Best(); ok && strings.TrimSpace(alt.Text) != "" {
			parts = append(parts, strings.TrimSpace(alt.Text))
		}
	}
	return strings.Join(parts, " ")
}
