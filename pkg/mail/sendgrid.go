package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const sendGridURL = "https://api.sendgrid.com/v3/mail/send"

// SendGrid sends mail through the SendGrid v3 API.
type SendGrid struct {
	client  *http.Client
	baseURL string
	apiKey  string
	from    string
}

// NewSendGrid creates a SendGrid mailer sending from the given address.
func NewSendGrid(apiKey, from string) *SendGrid {
	return &SendGrid{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: sendGridURL,
		apiKey:  apiKey,
		from:    from,
	}
}

// NewSendGridWithURL is NewSendGrid with an overridable endpoint, for tests.
func NewSendGridWithURL(apiKey, from, baseURL string) *SendGrid {
	sg := NewSendGrid(apiKey, from)
	sg.baseURL = baseURL
	return sg
}

type sgPayload struct {
	Personalizations []sgPersonalization `json:"personalizations"`
	From             sgAddress           `json:"from"`
	Subject          string              `json:"subject"`
	Content          []sgContent         `json:"content"`
}

type sgPersonalization struct {
	To []sgAddress `json:"to"`
}

type sgAddress struct {
	Email string `json:"email"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s *SendGrid) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload := sgPayload{
		Personalizations: []sgPersonalization{{To: []sgAddress{{Email: to}}}},
		From:             sgAddress{Email: s.from},
		Subject:          subject,
		Content:          []sgContent{{Type: "text/html", Value: htmlBody}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail send status %d", resp.StatusCode)
	}

	return nil
}
