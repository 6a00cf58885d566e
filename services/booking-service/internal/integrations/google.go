package integrations

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/availability"
)

const defaultGoogleAPIBase = "https://www.googleapis.com/calendar/v3"

// GoogleCalendar mirrors appointments as events of one calendar and reads
// busy time through the FreeBusy API.
type GoogleCalendar struct {
	client  *http.Client
	baseURL string
}

func NewGoogleCalendar(baseURL string, client *http.Client) *GoogleCalendar {
	if baseURL == "" {
		baseURL = defaultGoogleAPIBase
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &GoogleCalendar{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (g *GoogleCalendar) Provider() string { return ProviderGoogle }

type googleTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone,omitempty"`
}

type googleEvent struct {
	ID          string     `json:"id,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Start       googleTime `json:"start"`
	End         googleTime `json:"end"`
}

func calendarID(creds Credentials) string {
	if creds.CalendarID == "" {
		return "primary"
	}
	return creds.CalendarID
}

func (g *GoogleCalendar) eventsURL(creds Credentials) string {
	return fmt.Sprintf("%s/calendars/%s/events", g.baseURL, url.PathEscape(calendarID(creds)))
}

func toGoogleEvent(p Payload) googleEvent {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	a := p.Appointment
	summary := p.ServiceName
	if summary == "" {
		summary = "Appointment"
	}
	if p.CustomerName != "" {
		summary += " - " + p.CustomerName
	}
	desc := "Booking " + a.ID
	if p.ProfessionalName != "" {
		desc += " with " + p.ProfessionalName
	}
	if a.Notes != "" {
		desc += "\n" + a.Notes
	}
	return googleEvent{
		Summary:     summary,
		Description: desc,
		Start:       googleTime{DateTime: a.StartTime.In(loc).Format(time.RFC3339), TimeZone: loc.String()},
		End:         googleTime{DateTime: a.EndTime.In(loc).Format(time.RFC3339), TimeZone: loc.String()},
	}
}

func (g *GoogleCalendar) Create(ctx context.Context, creds Credentials, p Payload) (string, error) {
	var out googleEvent
	if err := doJSON(ctx, g.client, ProviderGoogle, http.MethodPost, g.eventsURL(creds), creds.AccessToken, toGoogleEvent(p), &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// Update edits the event in place, recreating it when it was removed on the
// Google side.
func (g *GoogleCalendar) Update(ctx context.Context, creds Credentials, p Payload, externalID string) (string, error) {
	if externalID == "" {
		return g.Create(ctx, creds, p)
	}
	var out googleEvent
	u := g.eventsURL(creds) + "/" + url.PathEscape(externalID)
	err := doJSON(ctx, g.client, ProviderGoogle, http.MethodPut, u, creds.AccessToken, toGoogleEvent(p), &out)
	if isGone(err) {
		return g.Create(ctx, creds, p)
	}
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// Delete treats an already-missing event as deleted.
func (g *GoogleCalendar) Delete(ctx context.Context, creds Credentials, externalID string) error {
	if externalID == "" {
		return nil
	}
	u := g.eventsURL(creds) + "/" + url.PathEscape(externalID)
	err := doJSON(ctx, g.client, ProviderGoogle, http.MethodDelete, u, creds.AccessToken, nil, nil)
	if isGone(err) {
		return nil
	}
	return err
}

type freeBusyRequest struct {
	TimeMin string         `json:"timeMin"`
	TimeMax string         `json:"timeMax"`
	Items   []freeBusyItem `json:"items"`
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"busy"`
	} `json:"calendars"`
}

func (g *GoogleCalendar) Busy(ctx context.Context, creds Credentials, from, to time.Time) ([]availability.Interval, error) {
	cid := calendarID(creds)
	req := freeBusyRequest{
		TimeMin: from.UTC().Format(time.RFC3339),
		TimeMax: to.UTC().Format(time.RFC3339),
		Items:   []freeBusyItem{{ID: cid}},
	}
	var out freeBusyResponse
	if err := doJSON(ctx, g.client, ProviderGoogle, http.MethodPost, g.baseURL+"/freeBusy", creds.AccessToken, req, &out); err != nil {
		return nil, err
	}
	var busy []availability.Interval
	for _, b := range out.Calendars[cid].Busy {
		if b.End.After(b.Start) {
			busy = append(busy, availability.Interval{Start: b.Start, End: b.End})
		}
	}
	return busy, nil
}
