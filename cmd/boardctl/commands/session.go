package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"realtime-board/internal/board"
	"realtime-board/internal/live"
)

const syncTimeout = 10 * time.Second

// join connects to a board as the current token's user.
func join(ctx context.Context, boardID, name string, opts ...live.Option) (*live.Replica, error) {
	if accessToken == "" {
		return nil, fail("not logged in", "Run 'boardctl login' and pass the token with --token or BOARD_TOKEN.")
	}

	if settings, err := fetchSettings(ctx); err == nil {
		opts = append([]live.Option{
			live.WithDimensions(board.Dimensions{
				Width:   settings.CardWidth,
				Height:  settings.CardHeight,
				MinSize: settings.MinCardSize,
			}),
			live.WithHeartbeat(time.Duration(settings.HeartbeatIntervalMS) * time.Millisecond),
		}, opts...)
	} else {
		warning("using default card settings: %v", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)
	dial := live.WebSocketDialer(wsURL(serverURL, boardID), header)

	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()
	r, err := live.Connect(ctx, dial, board.Presence{Name: name}, opts...)
	if err != nil {
		return nil, fail("failed to join board "+boardID, err.Error())
	}
	return r, nil
}

type serverSettings struct {
	CardWidth           float64 `json:"card_width"`
	CardHeight          float64 `json:"card_height"`
	MinCardSize         float64 `json:"min_card_size"`
	HeartbeatIntervalMS int64   `json:"heartbeat_interval_ms"`
}

// fetchSettings reads the card geometry and heartbeat pacing of the server.
func fetchSettings(ctx context.Context) (*serverSettings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/api/settings", nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("settings: %s", resp.Status)
	}

	var s serverSettings
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// waitSynced blocks until the server has acknowledged every local change.
func waitSynced(ctx context.Context, r *live.Replica) error {
	ctx, cancel := context.WithTimeout(ctx, syncTimeout)
	defer cancel()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for r.Pending() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d change(s) not acknowledged: %w", r.Pending(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// renderBoard writes the board in paint order, back to front.
func renderBoard(w io.Writer, doc *board.Document, others []board.Participant) {
	cyan.Fprintf(w, "%s\n", doc.Name)

	byID := make(map[string]board.Card, len(doc.Cards))
	for _, c := range doc.Cards {
		byID[c.ID] = c
	}
	if len(doc.ZOrder) == 0 {
		faint.Fprintln(w, "  (no cards)")
	}
	for _, id := range doc.ZOrder {
		c := byID[id]
		content := strings.TrimSpace(c.Content)
		if len(content) > 40 {
			content = content[:40] + "..."
		}
		fmt.Fprintf(w, "  %s  (%g,%g) %gx%g  %s\n", c.ID, c.PositionX, c.PositionY, c.Width, c.Height, content)
	}

	for _, p := range others {
		name := p.Presence.Name
		if name == "" {
			name = p.UserID
		}
		line := fmt.Sprintf("  @%d %s %s", p.ConnectionID, name, board.Color(p.ConnectionID))
		if p.Presence.SelectedCardID != nil {
			line += " editing " + *p.Presence.SelectedCardID
		}
		faint.Fprintln(w, line)
	}
}
