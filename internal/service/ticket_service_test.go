package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/events"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

type ticketFixture struct {
	tickets *ticketRepoStub
	users   *userRepoStub
	audit   *auditRepoStub
	events  *eventLog
	svc     *TicketService
}

func newTicketFixture(t *testing.T) *ticketFixture {
	t.Helper()
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())
	f := &ticketFixture{
		tickets: newTicketRepo(openTicket()),
		users:   newUserRepo(owner, admin, stranger),
		audit:   &auditRepoStub{},
		events:  newEventLog(dispatcher),
	}
	f.svc = NewTicketService(TicketDependencies{
		TicketRepo: f.tickets,
		UserRepo:   f.users,
		Audit:      NewAuditService(f.audit, zap.NewNop()),
		Dispatcher: dispatcher,
	})
	return f
}

func TestCreateTicket(t *testing.T) {
	f := newTicketFixture(t)

	change, err := f.svc.CreateTicket(t.Context(), ptr(owner), TicketCreateInput{
		Title:       "  Billing question ",
		Description: "Charged twice",
		Category:    domain.TicketCategoryBilling,
	})
	require.NoError(t, err)

	assert.Equal(t, "Billing question", change.Value.Title)
	assert.Equal(t, domain.TicketStatusOpen, change.Value.Status)
	assert.Equal(t, domain.TicketPriorityMedium, change.Value.Priority)
	assert.Equal(t, owner.ID, change.Value.UserID)
	assert.False(t, change.AuditFailed)
	assert.Equal(t, []string{domain.AuditActionCreateTicket}, f.audit.actions())
	assert.Equal(t, []events.EventType{events.EventTicketCreated}, f.events.types())
}

func TestCreateTicket_ValidationBlocksWrite(t *testing.T) {
	f := newTicketFixture(t)

	_, err := f.svc.CreateTicket(t.Context(), ptr(owner), TicketCreateInput{
		Title:    " ",
		Priority: "urgent",
		Category: domain.TicketCategoryGeneral,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	fields := apperrors.ToDomainError(err).Details["fields"].(map[string]any)
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "description")
	assert.Contains(t, fields, "priority")
	assert.Len(t, f.tickets.tickets, 1)
	assert.Empty(t, f.audit.actions())
}

func TestListTickets_ScopesUsersToOwnTickets(t *testing.T) {
	f := newTicketFixture(t)
	other := openTicket()
	other.ID = "T2"
	other.UserID = stranger.ID
	f.tickets.tickets[other.ID] = other

	page, err := f.svc.ListTickets(t.Context(), ptr(owner), TicketListFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "T", page.Items[0].ID)
	assert.Equal(t, 1, page.Total)
	require.NotNil(t, f.tickets.filters[0].UserID)
	assert.Equal(t, owner.ID, *f.tickets.filters[0].UserID)

	page, err = f.svc.ListTickets(t.Context(), ptr(admin), TicketListFilter{Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 25, f.tickets.filters[2].Limit)
}

func TestListTickets_RejectsUnknownStatus(t *testing.T) {
	f := newTicketFixture(t)

	_, err := f.svc.ListTickets(t.Context(), ptr(admin), TicketListFilter{Statuses: []domain.TicketStatus{"pending"}})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestGetTicket(t *testing.T) {
	f := newTicketFixture(t)

	got, err := f.svc.GetTicket(t.Context(), ptr(owner), "T")
	require.NoError(t, err)
	assert.Equal(t, "T", got.ID)

	_, err = f.svc.GetTicket(t.Context(), ptr(admin), "T")
	require.NoError(t, err)

	_, err = f.svc.GetTicket(t.Context(), ptr(stranger), "T")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.GetTicket(t.Context(), ptr(owner), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	f.tickets.err = errStoreDown
	_, err = f.svc.GetTicket(t.Context(), ptr(owner), "T")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStore))
}

func TestUpdateStatus(t *testing.T) {
	f := newTicketFixture(t)

	change, err := f.svc.UpdateStatus(t.Context(), ptr(admin), "T", domain.TicketStatusResolved)
	require.NoError(t, err)

	assert.Equal(t, domain.TicketStatusResolved, change.Value.Status)
	assert.True(t, change.Value.UpdatedAt.After(baseTime))
	assert.Equal(t, domain.TicketStatusResolved, f.tickets.get("T").Status)

	entry := f.audit.lastEntry()
	assert.Equal(t, domain.AuditActionUpdateStatus, entry.Action)
	assert.Equal(t, domain.EntityTicket, entry.EntityType)
	assert.Equal(t, "T", entry.EntityID)
	assert.Equal(t, admin.ID, *entry.UserID)
	assert.Equal(t, map[string]any{
		"old_status": domain.TicketStatusOpen,
		"new_status": domain.TicketStatusResolved,
	}, entry.Details)

	event := f.events.last()
	assert.Equal(t, events.EventTicketStatusChanged, event.Type)
	assert.Equal(t, events.TicketStatusChangedPayload{OldStatus: domain.TicketStatusOpen, NewStatus: domain.TicketStatusResolved}, event.Payload)
	assert.NotEmpty(t, event.ID)
}

func TestUpdateStatus_AnyTransitionAllowed(t *testing.T) {
	f := newTicketFixture(t)

	for _, status := range []domain.TicketStatus{
		domain.TicketStatusClosed,
		domain.TicketStatusOpen,
		domain.TicketStatusResolved,
		domain.TicketStatusInProgress,
	} {
		change, err := f.svc.UpdateStatus(t.Context(), ptr(admin), "T", status)
		require.NoError(t, err)
		assert.Equal(t, status, change.Value.Status)
	}
	assert.Len(t, f.audit.actions(), 4)
}

func TestUpdateStatus_SameStatusIsNoop(t *testing.T) {
	f := newTicketFixture(t)

	change, err := f.svc.UpdateStatus(t.Context(), ptr(admin), "T", domain.TicketStatusOpen)
	require.NoError(t, err)
	assert.Equal(t, baseTime, change.Value.UpdatedAt)
	assert.Empty(t, f.audit.actions())
}

func TestUpdateStatus_Rejections(t *testing.T) {
	f := newTicketFixture(t)

	_, err := f.svc.UpdateStatus(t.Context(), ptr(owner), "T", domain.TicketStatusClosed)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = f.svc.UpdateStatus(t.Context(), nil, "T", domain.TicketStatusClosed)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	_, err = f.svc.UpdateStatus(t.Context(), ptr(admin), "T", "archived")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.svc.UpdateStatus(t.Context(), ptr(admin), "nope", domain.TicketStatusClosed)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	assert.Equal(t, domain.TicketStatusOpen, f.tickets.get("T").Status)
	assert.Empty(t, f.audit.actions())
}

// Each triage mutation is paired with exactly one audit row, and a failed
// audit write is reported without undoing the mutation.
func TestTriage_AuditPairing(t *testing.T) {
	f := newTicketFixture(t)
	ctx := t.Context()

	_, err := f.svc.UpdateStatus(ctx, ptr(admin), "T", domain.TicketStatusInProgress)
	require.NoError(t, err)
	_, err = f.svc.Assign(ctx, ptr(admin), "T", ptr(admin.ID))
	require.NoError(t, err)
	_, err = f.svc.UpdatePriority(ctx, ptr(admin), "T", domain.TicketPriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, []string{
		domain.AuditActionUpdateStatus,
		domain.AuditActionUpdateAssignment,
		domain.AuditActionUpdatePriority,
	}, f.audit.actions())

	f.audit.err = errStoreDown
	change, err := f.svc.UpdateStatus(ctx, ptr(admin), "T", domain.TicketStatusResolved)
	require.NoError(t, err)
	assert.True(t, change.AuditFailed)
	assert.Equal(t, domain.TicketStatusResolved, f.tickets.get("T").Status)
	assert.Len(t, f.audit.actions(), 3)
}

func TestAssign(t *testing.T) {
	f := newTicketFixture(t)

	change, err := f.svc.Assign(t.Context(), ptr(admin), "T", ptr(admin.ID))
	require.NoError(t, err)
	require.NotNil(t, change.Value.AssignedToID)
	assert.Equal(t, admin.ID, *change.Value.AssignedToID)
	assert.Equal(t, map[string]any{"old_assignment": nil, "new_assignment": admin.ID}, f.audit.lastEntry().Details)

	change, err = f.svc.Assign(t.Context(), ptr(admin), "T", nil)
	require.NoError(t, err)
	assert.Nil(t, change.Value.AssignedToID)
	assert.Equal(t, map[string]any{"old_assignment": admin.ID, "new_assignment": nil}, f.audit.lastEntry().Details)

	event := f.events.last()
	assert.Equal(t, events.EventTicketAssigned, event.Type)
	assert.Equal(t, events.TicketAssignedPayload{OldAssigneeID: ptr(admin.ID)}, event.Payload)
}

func TestAssign_AssigneeMustBeActiveAdmin(t *testing.T) {
	f := newTicketFixture(t)
	retired := admin
	retired.ID = "admin-x"
	retired.IsActive = false
	f.users.users[retired.ID] = retired

	_, err := f.svc.Assign(t.Context(), ptr(admin), "T", ptr(owner.ID))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.svc.Assign(t.Context(), ptr(admin), "T", ptr(retired.ID))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = f.svc.Assign(t.Context(), ptr(admin), "T", ptr("ghost"))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	assert.Nil(t, f.tickets.get("T").AssignedToID)
}

func TestUpdatePriority(t *testing.T) {
	f := newTicketFixture(t)

	change, err := f.svc.UpdatePriority(t.Context(), ptr(admin), "T", domain.TicketPriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityCritical, change.Value.Priority)
	assert.Equal(t, map[string]any{
		"old_priority": domain.TicketPriorityMedium,
		"new_priority": domain.TicketPriorityCritical,
	}, f.audit.lastEntry().Details)
	assert.Equal(t, events.EventTicketPriorityChanged, f.events.last().Type)

	_, err = f.svc.UpdatePriority(t.Context(), ptr(admin), "T", "blocker")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestStatusTransitions(t *testing.T) {
	f := newTicketFixture(t)
	adapter := StatusTransitions{Tickets: f.svc}

	ticket, moved, err := adapter.TransitionStatus(t.Context(), ptr(admin), "T", domain.TicketStatusOpen, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	assert.Equal(t, []string{domain.AuditActionUpdateStatus}, f.audit.actions())
}

func TestAdvanceStatus_LeavesTicketThatMovedOn(t *testing.T) {
	f := newTicketFixture(t)
	_, err := f.svc.UpdateStatus(t.Context(), ptr(admin), "T", domain.TicketStatusResolved)
	require.NoError(t, err)

	change, moved, err := f.svc.AdvanceStatus(t.Context(), ptr(admin), "T", domain.TicketStatusOpen, domain.TicketStatusInProgress)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, domain.TicketStatusResolved, change.Value.Status)
	assert.Equal(t, domain.TicketStatusResolved, f.tickets.get("T").Status)
	assert.Equal(t, []string{domain.AuditActionUpdateStatus}, f.audit.actions())
}

// Concurrent triage actions on different columns must both persist, each
// with its own audit row.
func TestTriage_ConcurrentChangesKeepBothColumns(t *testing.T) {
	for range 20 {
		f := newTicketFixture(t)
		ctx := t.Context()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.Assign(ctx, ptr(admin), "T", ptr(admin.ID))
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateStatus(ctx, ptr(admin), "T", domain.TicketStatusResolved)
			assert.NoError(t, err)
		}()
		wg.Wait()

		final := f.tickets.get("T")
		assert.Equal(t, domain.TicketStatusResolved, final.Status)
		require.NotNil(t, final.AssignedToID)
		assert.Equal(t, admin.ID, *final.AssignedToID)
		assert.ElementsMatch(t, []string{
			domain.AuditActionUpdateStatus,
			domain.AuditActionUpdateAssignment,
		}, f.audit.actions())
	}
}
