package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/costudy/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrNoRoute = errors.New("no signaling route for room")

type routeResponse struct {
	URL string `json:"url"`
}

// RouteLookup asks the media-routing service which signaling server hosts a
// room: GET <base>/rooms/<id>/route returning {"url": "..."}.
type RouteLookup struct {
	base   string
	static string
	client *http.Client
}

// NewRouteLookup returns a resolver for base. A non-empty static URL is
// returned for every room without any lookup.
func NewRouteLookup(base, static string, timeout time.Duration) *RouteLookup {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RouteLookup{
		base:   strings.TrimRight(base, "/"),
		static: static,
		client: &http.Client{Timeout: timeout},
	}
}

func (l *RouteLookup) Resolve(ctx context.Context, roomID domain.RoomID) (string, error) {
	if l.static != "" {
		return l.static, nil
	}
	if roomID == "" {
		return "", ErrNoRoute
	}

	endpoint := fmt.Sprintf("%s/rooms/%s/route", l.base, url.PathEscape(string(roomID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("route lookup: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNoRoute
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("route lookup: status %d", resp.StatusCode)
	}

	var body routeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("route lookup: %w", err)
	}
	if body.URL == "" {
		return "", ErrNoRoute
	}
	log.Debug().Str("module", "adapters.http").Str("room", string(roomID)).Str("url", body.URL).Msg("route resolved")
	return body.URL, nil
}
