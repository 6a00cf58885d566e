package integrations

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultCalendlyAPIBase = "https://api.calendly.com"

// Calendly books invitees on the tenant's event type. Scheduled events cannot
// be edited, so Update cancels and books again.
type Calendly struct {
	client  *http.Client
	baseURL string
}

func NewCalendly(baseURL string, client *http.Client) *Calendly {
	if baseURL == "" {
		baseURL = defaultCalendlyAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Calendly{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *Calendly) Provider() string { return ProviderCalendly }

type calendlyInvitee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Timezone string `json:"timezone,omitempty"`
}

type calendlyInviteeRequest struct {
	EventType string          `json:"event_type"`
	StartTime string          `json:"start_time"`
	Invitee   calendlyInvitee `json:"invitee"`
}

type calendlyInviteeResponse struct {
	Resource struct {
		URI   string `json:"uri"`
		Event string `json:"event"`
	} `json:"resource"`
}

func (c *Calendly) Create(ctx context.Context, creds Credentials, p Payload) (string, error) {
	if creds.CalendarID == "" {
		return "", fmt.Errorf("calendly: no event type configured")
	}
	tz := ""
	if p.Location != nil {
		tz = p.Location.String()
	}
	req := calendlyInviteeRequest{
		EventType: creds.CalendarID,
		StartTime: p.Appointment.StartTime.UTC().Format(time.RFC3339),
		Invitee:   calendlyInvitee{Name: p.CustomerName, Email: p.CustomerEmail, Timezone: tz},
	}
	var out calendlyInviteeResponse
	if err := doJSON(ctx, c.client, ProviderCalendly, http.MethodPost, c.baseURL+"/invitees", creds.AccessToken, req, &out); err != nil {
		return "", err
	}
	if out.Resource.Event != "" {
		return out.Resource.Event, nil
	}
	return out.Resource.URI, nil
}

func (c *Calendly) Update(ctx context.Context, creds Credentials, p Payload, externalID string) (string, error) {
	if err := c.Delete(ctx, creds, externalID); err != nil {
		return "", err
	}
	return c.Create(ctx, creds, p)
}

func (c *Calendly) Delete(ctx context.Context, creds Credentials, externalID string) error {
	uuid := eventUUID(externalID)
	if uuid == "" {
		return nil
	}
	u := fmt.Sprintf("%s/scheduled_events/%s/cancellation", c.baseURL, uuid)
	err := doJSON(ctx, c.client, ProviderCalendly, http.MethodPost, u, creds.AccessToken,
		map[string]string{"reason": "Cancelled by salon"}, nil)
	if isGone(err) {
		return nil
	}
	return err
}

// eventUUID accepts either a bare uuid or a scheduled event URI.
func eventUUID(externalID string) string {
	externalID = strings.TrimRight(externalID, "/")
	if i := strings.LastIndex(externalID, "/"); i >= 0 {
		return externalID[i+1:]
	}
	return externalID
}
