package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hazyhaar/docwatch/connectivity"
)

const (
	teamsThemeColor  = "0076D7"
	commitActionName = "Go to commit page"
	teamsTimeout     = 30 * time.Second
)

type messageCard struct {
	Type            string       `json:"@type"`
	Context         string       `json:"@context"`
	ThemeColor      string       `json:"themeColor"`
	Summary         string       `json:"summary"`
	Title           string       `json:"title"`
	Text            string       `json:"text"`
	PotentialAction []cardAction `json:"potentialAction"`
}

type cardAction struct {
	Type    string       `json:"@type"`
	Name    string       `json:"name"`
	Targets []cardTarget `json:"targets"`
}

type cardTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

// BuildMessageCard renders n as a Teams MessageCard.
func BuildMessageCard(n Notification) ([]byte, error) {
	card := messageCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: teamsThemeColor,
		Summary:    n.Title,
		Title:      n.Title,
		Text:       n.Text(),
		PotentialAction: []cardAction{{
			Type:    "OpenUri",
			Name:    commitActionName,
			Targets: []cardTarget{{OS: "default", URI: n.CommitURL}},
		}},
	}
	return json.Marshal(card)
}

// TeamsSender posts MessageCards to incoming webhooks.
type TeamsSender struct {
	client   *http.Client
	validate func(string) error
}

// NewTeamsSender creates a webhook sender. validate vets each target before
// posting; nil disables the check.
func NewTeamsSender(client *http.Client, validate func(string) error) *TeamsSender {
	if client == nil {
		client = &http.Client{Timeout: teamsTimeout}
	}
	return &TeamsSender{client: client, validate: validate}
}

// Send implements Sender. The payload is returned even when posting fails.
func (s *TeamsSender) Send(ctx context.Context, target string, n Notification) ([]byte, error) {
	payload, err := BuildMessageCard(n)
	if err != nil {
		return nil, fmt.Errorf("notify: build card: %w", err)
	}
	if s.validate != nil {
		if err := s.validate(target); err != nil {
			return payload, fmt.Errorf("notify: webhook target: %w", err)
		}
	}
	post := connectivity.WithTimeout(teamsTimeout)(connectivity.HTTPPostJSON(s.client, target, nil))
	if _, err := post(ctx, payload); err != nil {
		return payload, fmt.Errorf("notify: post webhook: %w", err)
	}
	return payload, nil
}
