package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const resolvedWindow = 7 * 24 * time.Hour

// UserDashboard summarises a user's own tickets.
type UserDashboard struct {
	ByStatus repository.TicketCounts `json:"by_status"`
	Total    int                     `json:"total"`
}

// AdminDashboard summarises the whole queue.
type AdminDashboard struct {
	ByStatus       repository.TicketCounts `json:"by_status"`
	ByPriority     repository.TicketCounts `json:"by_priority"`
	ByCategory     repository.TicketCounts `json:"by_category"`
	UnassignedOpen int                     `json:"unassigned_open"`
	ResolvedRecent int                     `json:"resolved_last_7_days"`
}

// DashboardService aggregates ticket counts.
type DashboardService struct {
	tickets repository.TicketRepository
	now     func() time.Time
}

// NewDashboardService constructs the service.
func NewDashboardService(tickets repository.TicketRepository) *DashboardService {
	return &DashboardService{tickets: tickets, now: time.Now}
}

// ForUser counts the viewer's tickets by status.
func (s *DashboardService) ForUser(ctx context.Context, viewer *domain.User) (*UserDashboard, error) {
	if viewer == nil {
		return nil, apperrors.NewUnauthorized("authentication required")
	}
	ownerID := viewer.ID
	counts, err := s.tickets.CountBy(ctx, "status", repository.TicketFilter{UserID: &ownerID})
	if err != nil {
		return nil, apperrors.NewStoreFailure("count tickets", err)
	}
	dash := &UserDashboard{ByStatus: withStatuses(counts)}
	for _, n := range counts {
		dash.Total += n
	}
	return dash, nil
}

// ForAdmin computes queue-wide counts concurrently.
func (s *DashboardService) ForAdmin(ctx context.Context, actor *domain.User) (*AdminDashboard, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	dash := &AdminDashboard{}
	since := s.now().Add(-resolvedWindow)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.tickets.CountBy(gctx, "status", repository.TicketFilter{})
		dash.ByStatus = withStatuses(counts)
		return err
	})
	g.Go(func() error {
		counts, err := s.tickets.CountBy(gctx, "priority", repository.TicketFilter{})
		dash.ByPriority = counts
		return err
	})
	g.Go(func() error {
		counts, err := s.tickets.CountBy(gctx, "category", repository.TicketFilter{})
		dash.ByCategory = counts
		return err
	})
	g.Go(func() error {
		n, err := s.tickets.Count(gctx, repository.TicketFilter{
			Unassigned: true,
			Statuses:   []domain.TicketStatus{domain.TicketStatusOpen},
		})
		dash.UnassignedOpen = n
		return err
	})
	g.Go(func() error {
		n, err := s.tickets.Count(gctx, repository.TicketFilter{
			Statuses:    []domain.TicketStatus{domain.TicketStatusResolved},
			UpdatedFrom: &since,
		})
		dash.ResolvedRecent = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, apperrors.NewStoreFailure("compute dashboard", err)
	}
	return dash, nil
}

// withStatuses fills zero counts for statuses with no tickets.
func withStatuses(counts repository.TicketCounts) repository.TicketCounts {
	out := repository.TicketCounts{
		string(domain.TicketStatusOpen):       0,
		string(domain.TicketStatusInProgress): 0,
		string(domain.TicketStatusResolved):   0,
		string(domain.TicketStatusClosed):     0,
	}
	for k, v := range counts {
		out[k] = v
	}
	return out
}
