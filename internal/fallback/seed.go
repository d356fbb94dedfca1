package fallback

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

//go:embed seed.json
var seedJSON []byte

// Dataset is the bundled demo data served when the store is unreachable.
type Dataset struct {
	Users    []domain.User    `json:"users"`
	Tickets  []domain.Ticket  `json:"tickets"`
	Messages []domain.Message `json:"messages"`
	Articles []domain.Article `json:"articles"`
}

// LoadSeed decodes the embedded dataset.
func LoadSeed() (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(seedJSON, &ds); err != nil {
		return nil, fmt.Errorf("decode seed dataset: %w", err)
	}
	return &ds, nil
}

// Ticket looks up a seed ticket by id.
func (d *Dataset) Ticket(id string) (domain.Ticket, bool) {
	for _, t := range d.Tickets {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Ticket{}, false
}

// User looks up a seed profile by id.
func (d *Dataset) User(id string) (domain.User, bool) {
	for _, u := range d.Users {
		if u.ID == id {
			return u, true
		}
	}
	return domain.User{}, false
}

// ThreadMessages returns the seed thread for ticketID in display order.
func (d *Dataset) ThreadMessages(ticketID string) []domain.Message {
	var out []domain.Message
	for _, m := range d.Messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Article looks up a seed article by id.
func (d *Dataset) Article(id string) (domain.Article, bool) {
	for _, a := range d.Articles {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Article{}, false
}

// FindArticles filters seed articles by category and a case-insensitive search term.
func (d *Dataset) FindArticles(category, search string) []domain.Article {
	search = strings.ToLower(strings.TrimSpace(search))
	var out []domain.Article
	for _, a := range d.Articles {
		if category != "" && a.Category != category {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(a.Title), search) &&
			!strings.Contains(strings.ToLower(a.Content), search) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Check reports every broken reference or invalid enum in the dataset.
func (d *Dataset) Check() error {
	var errs []error
	users := make(map[string]bool, len(d.Users))
	for _, u := range d.Users {
		if users[u.ID] {
			errs = append(errs, fmt.Errorf("user %s: duplicate id", u.ID))
		}
		users[u.ID] = true
		if !u.Role.Valid() {
			errs = append(errs, fmt.Errorf("user %s: invalid role %q", u.ID, u.Role))
		}
	}

	tickets := make(map[string]bool, len(d.Tickets))
	for _, t := range d.Tickets {
		tickets[t.ID] = true
		if !users[t.UserID] {
			errs = append(errs, fmt.Errorf("ticket %s: unknown owner %s", t.ID, t.UserID))
		}
		if t.AssignedToID != nil && !users[*t.AssignedToID] {
			errs = append(errs, fmt.Errorf("ticket %s: unknown assignee %s", t.ID, *t.AssignedToID))
		}
		if !t.Status.Valid() || !t.Priority.Valid() || !t.Category.Valid() {
			errs = append(errs, fmt.Errorf("ticket %s: invalid status, priority or category", t.ID))
		}
	}

	for _, m := range d.Messages {
		if !tickets[m.TicketID] {
			errs = append(errs, fmt.Errorf("message %s: unknown ticket %s", m.ID, m.TicketID))
		}
		if !users[m.UserID] {
			errs = append(errs, fmt.Errorf("message %s: unknown author %s", m.ID, m.UserID))
		}
	}

	for _, a := range d.Articles {
		if a.AuthorID != nil && !users[*a.AuthorID] {
			errs = append(errs, fmt.Errorf("article %s: unknown author %s", a.ID, *a.AuthorID))
		}
	}
	return errors.Join(errs...)
}
