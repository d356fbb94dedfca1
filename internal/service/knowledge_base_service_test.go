package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/fallback"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

func newKnowledgeBaseFixture(t *testing.T, articles ...domain.Article) (*KnowledgeBaseService, *articleRepoStub, *auditRepoStub) {
	t.Helper()
	seed, err := fallback.LoadSeed()
	require.NoError(t, err)
	repo := newArticleRepo(articles...)
	audit := &auditRepoStub{}
	svc, err := NewKnowledgeBaseService(KnowledgeBaseDependencies{
		ArticleRepo: repo,
		Audit:       NewAuditService(audit, zap.NewNop()),
		Seed:        seed,
		Fallback:    fallback.Options{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Logger:      zap.NewNop(),
	})
	require.NoError(t, err)
	return svc, repo, audit
}

func guide() domain.Article {
	return domain.Article{
		ID:       "art-guide",
		Title:    "Getting started",
		Content:  "# Welcome\n\nRead the **docs**.<script>alert(1)</script>",
		Category: "General",
	}
}

func TestKnowledgeBase_ListRendersSanitizedHTML(t *testing.T) {
	svc, _, _ := newKnowledgeBaseFixture(t, guide())

	list, err := svc.List(t.Context(), repository.ArticleFilter{Category: "General"})
	require.NoError(t, err)
	assert.Equal(t, fallback.OriginLive, list.Origin)
	require.Len(t, list.Items, 1)

	html := list.Items[0].HTML
	assert.Contains(t, html, "<strong>docs</strong>")
	assert.Contains(t, html, "<h1")
	assert.NotContains(t, html, "<script>")
}

func TestKnowledgeBase_FallsBackToSeedWhenStoreDown(t *testing.T) {
	svc, repo, _ := newKnowledgeBaseFixture(t)
	repo.setDown(true)

	list, err := svc.List(t.Context(), repository.ArticleFilter{Category: "Billing"})
	require.NoError(t, err)
	assert.Equal(t, fallback.OriginSeed, list.Origin)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "kb-2", list.Items[0].ID)

	article, err := svc.Get(t.Context(), "kb-1")
	require.NoError(t, err)
	assert.Equal(t, "How to Reset Your Password", article.Title)

	_, err = svc.Get(t.Context(), "nope")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeStore))
}

func TestKnowledgeBase_GetMissingIsNotFound(t *testing.T) {
	svc, _, _ := newKnowledgeBaseFixture(t)

	_, err := svc.Get(t.Context(), "kb-1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "seed never masks a live not-found")
}

func TestKnowledgeBase_AdminCRUD(t *testing.T) {
	svc, repo, audit := newKnowledgeBaseFixture(t)
	ctx := t.Context()

	_, err := svc.Create(ctx, ptr(owner), ArticleInput{Title: "x", Content: "y", Category: "z"})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = svc.Create(ctx, ptr(admin), ArticleInput{Title: " "})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	created, err := svc.Create(ctx, ptr(admin), ArticleInput{Title: "Refunds", Content: "Ask *billing*.", Category: "Billing"})
	require.NoError(t, err)
	id := created.Value.ID
	assert.Equal(t, admin.ID, *created.Value.AuthorID)
	assert.Contains(t, created.Value.HTML, "<em>billing</em>")

	updated, err := svc.Update(ctx, ptr(admin), id, ArticleInput{Title: "Refund policy", Content: "Updated.", Category: "Billing"})
	require.NoError(t, err)
	assert.Equal(t, "Refund policy", updated.Value.Title)

	// The last good copy is served while the store is down.
	repo.setDown(true)
	cached, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Refund policy", cached.Title)
	repo.setDown(false)

	_, err = svc.Delete(ctx, ptr(admin), id)
	require.NoError(t, err)
	_, err = svc.Get(ctx, id)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = svc.Delete(ctx, ptr(admin), id)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	assert.Equal(t, []string{
		domain.AuditActionCreateArticle,
		domain.AuditActionUpdateArticle,
		domain.AuditActionDeleteArticle,
	}, audit.actions())
	assert.Equal(t, domain.EntityArticle, audit.lastEntry().EntityType)
}
