package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultSpeakerID is preferred when the configured speaker is not offered.
const DefaultSpeakerID = "HN-Nu-2-BL"

type Speaker struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listSpeakersResponse struct {
	ListSpeakers []Speaker `json:"list_speakers"`
}

// SpeakerClient lists the voices offered by the synthesis service.
type SpeakerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewSpeakerClient(baseURL string) *SpeakerClient {
	return &SpeakerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// List fetches {base}/tts/list-speaker-ids.
func (c *SpeakerClient) List(ctx context.Context) ([]Speaker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tts/list-speaker-ids", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list speakers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to list speakers: status %d", resp.StatusCode)
	}

	var parsed listSpeakersResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode speaker list: %w", err)
	}
	return parsed.ListSpeakers, nil
}

// HealthCheck reports whether the speaker listing is reachable.
func (c *SpeakerClient) HealthCheck(ctx context.Context) (bool, error) {
	if _, err := c.List(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ResolveSpeaker returns configured if offered, otherwise the default
// speaker if offered, otherwise the first listed one. An empty list keeps
// the configured speaker.
func ResolveSpeaker(speakers []Speaker, configured string) string {
	if len(speakers) == 0 {
		return configured
	}
	var hasDefault bool
	for _, sp := range speakers {
		if sp.ID == configured {
			return configured
		}
		if sp.ID == DefaultSpeakerID {
			hasDefault = true
		}
	}
	if hasDefault {
		return DefaultSpeakerID
	}
	return speakers[0].ID
}
