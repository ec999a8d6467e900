package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEventsURL = "https://www.googleapis.com/calendar/v3/calendars/primary/events"
	defaultRevokeURL = "https://oauth2.googleapis.com/revoke"

	defaultRequestTimeout = 30 * time.Second
)

// GoogleEventsAPI reads events from the Google Calendar v3 REST surface.
type GoogleEventsAPI struct {
	eventsURL  string
	httpClient *http.Client
}

// NewGoogleEventsAPI constructs the production events reader. An empty
// eventsURL selects the public endpoint.
func NewGoogleEventsAPI(eventsURL string, httpClient *http.Client) *GoogleEventsAPI {
	if strings.TrimSpace(eventsURL) == "" {
		eventsURL = defaultEventsURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &GoogleEventsAPI{eventsURL: eventsURL, httpClient: httpClient}
}

type googleEventItem struct {
	ID          string     `json:"id"`
	Summary     string     `json:"summary"`
	Description string     `json:"description"`
	Start       EventTime  `json:"start"`
	End         EventTime  `json:"end"`
	Location    string     `json:"location"`
	Attendees   []Attendee `json:"attendees"`
}

type googleEventsDocument struct {
	Items []googleEventItem `json:"items"`
}

// List performs events.list with the query's window and flags.
func (a *GoogleEventsAPI) List(ctx context.Context, accessToken string, query ListQuery) ([]Event, error) {
	values := url.Values{}
	values.Set("timeMin", query.TimeMin.UTC().Format(time.RFC3339))
	values.Set("timeMax", query.TimeMax.UTC().Format(time.RFC3339))
	values.Set("singleEvents", strconv.FormatBool(query.SingleEvents))
	values.Set("showDeleted", strconv.FormatBool(query.ShowDeleted))
	if query.MaxResults > 0 {
		values.Set("maxResults", strconv.Itoa(query.MaxResults))
	}
	if query.OrderBy != "" {
		values.Set("orderBy", query.OrderBy)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.eventsURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	response, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar: events request returned status %d: %s", response.StatusCode, string(body))
	}

	var document googleEventsDocument
	if err := json.Unmarshal(body, &document); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(document.Items))
	for _, item := range document.Items {
		events = append(events, Event{
			ID:          item.ID,
			Summary:     item.Summary,
			Description: item.Description,
			Start:       item.Start,
			End:         item.End,
			Location:    item.Location,
			Attendees:   item.Attendees,
		})
	}
	return events, nil
}

// GoogleTokenClient revokes SDK-granted access tokens.
type GoogleTokenClient struct {
	revokeURL  string
	httpClient *http.Client
}

// NewGoogleTokenClient constructs the production token client. An empty
// revokeURL selects the public endpoint.
func NewGoogleTokenClient(revokeURL string, httpClient *http.Client) *GoogleTokenClient {
	if strings.TrimSpace(revokeURL) == "" {
		revokeURL = defaultRevokeURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &GoogleTokenClient{revokeURL: revokeURL, httpClient: httpClient}
}

// Revoke invalidates the access token with the identity provider.
func (c *GoogleTokenClient) Revoke(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("calendar: revoke returned status %d", response.StatusCode)
	}
	return nil
}
