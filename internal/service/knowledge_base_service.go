package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
	"github.com/Geniusmania/ticket-chat-system/internal/fallback"
	"github.com/Geniusmania/ticket-chat-system/internal/markdown"
	"github.com/Geniusmania/ticket-chat-system/internal/repository"
	apperrors "github.com/Geniusmania/ticket-chat-system/pkg/util/errorutil"
)

const maxArticlePage = 100

// ArticleView is an article with its content rendered to sanitized HTML.
type ArticleView struct {
	domain.Article
	HTML string `json:"html"`
}

// ArticleList is a listing plus the origin of its data.
type ArticleList struct {
	Items  []ArticleView   `json:"items"`
	Origin fallback.Origin `json:"origin"`
}

// ArticleInput is the admin article form.
type ArticleInput struct {
	Title    string
	Content  string
	Category string
}

// ArticleChange is a knowledge base mutation result.
type ArticleChange = Mutation[ArticleView]

// KnowledgeBaseService serves help articles.
type KnowledgeBaseService struct {
	articles repository.KnowledgeBaseRepository
	list     *fallback.Source[repository.ArticleFilter, []domain.Article]
	get      *fallback.Source[string, domain.Article]
	renderer *markdown.Renderer
	audit    AuditRecorder
	logger   *zap.Logger
}

// KnowledgeBaseDependencies bundles collaborators.
type KnowledgeBaseDependencies struct {
	ArticleRepo repository.KnowledgeBaseRepository
	Renderer    *markdown.Renderer
	Audit       AuditRecorder
	Seed        *fallback.Dataset
	Fallback    fallback.Options
	Logger      *zap.Logger
}

// NewKnowledgeBaseService builds the service and its fallback readers.
func NewKnowledgeBaseService(deps KnowledgeBaseDependencies) (*KnowledgeBaseService, error) {
	logger := loggerOrNop(deps.Logger).Named("knowledge_base")
	renderer := deps.Renderer
	if renderer == nil {
		renderer = markdown.NewRenderer()
	}
	s := &KnowledgeBaseService{
		articles: deps.ArticleRepo,
		renderer: renderer,
		audit:    deps.Audit,
		logger:   logger,
	}

	var seedList fallback.SeedLookup[repository.ArticleFilter, []domain.Article]
	var seedGet fallback.SeedLookup[string, domain.Article]
	if deps.Seed != nil {
		seed := deps.Seed
		seedList = func(f repository.ArticleFilter) ([]domain.Article, bool) {
			return seed.FindArticles(f.Category, f.SearchTerm), true
		}
		seedGet = seed.Article
	}

	listOpts := deps.Fallback
	listOpts.Name = "articles"
	list, err := fallback.NewSource(s.loadList, seedList, listOpts, logger)
	if err != nil {
		return nil, err
	}
	getOpts := deps.Fallback
	getOpts.Name = "article"
	get, err := fallback.NewSource(s.loadOne, seedGet, getOpts, logger)
	if err != nil {
		return nil, err
	}
	s.list = list
	s.get = get
	return s, nil
}

// List returns articles filtered by category and search term.
func (s *KnowledgeBaseService) List(ctx context.Context, filter repository.ArticleFilter) (*ArticleList, error) {
	filter.Category = strings.TrimSpace(filter.Category)
	filter.SearchTerm = strings.TrimSpace(filter.SearchTerm)
	if filter.Limit <= 0 || filter.Limit > maxArticlePage {
		filter.Limit = 50
	}
	res, err := s.list.Get(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]ArticleView, 0, len(res.Value))
	for _, a := range res.Value {
		view, err := s.render(a)
		if err != nil {
			return nil, err
		}
		items = append(items, *view)
	}
	return &ArticleList{Items: items, Origin: res.Origin}, nil
}

// Get returns a single rendered article.
func (s *KnowledgeBaseService) Get(ctx context.Context, id string) (*ArticleView, error) {
	res, err := s.get.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.render(res.Value)
}

// Create adds an article. Admin only.
func (s *KnowledgeBaseService) Create(ctx context.Context, actor *domain.User, input ArticleInput) (*ArticleChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateArticle(input); err != nil {
		return nil, err
	}
	authorID := actor.ID
	article := &domain.Article{
		Title:    strings.TrimSpace(input.Title),
		Content:  input.Content,
		Category: strings.TrimSpace(input.Category),
		AuthorID: &authorID,
	}
	if err := s.articles.Create(ctx, article); err != nil {
		return nil, apperrors.NewStoreFailure("create article", err)
	}
	s.get.Remember(article.ID, *article)

	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionCreateArticle, domain.EntityArticle, article.ID, map[string]any{
		"title":    article.Title,
		"category": article.Category,
	})
	view, err := s.render(*article)
	if err != nil {
		return nil, err
	}
	return &ArticleChange{Value: view, AuditFailed: failed}, nil
}

// Update replaces an article's fields. Admin only.
func (s *KnowledgeBaseService) Update(ctx context.Context, actor *domain.User, id string, input ArticleInput) (*ArticleChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := validateArticle(input); err != nil {
		return nil, err
	}
	article, err := s.articles.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "article", "load article", map[string]any{"article_id": id})
	}
	article.Title = strings.TrimSpace(input.Title)
	article.Content = input.Content
	article.Category = strings.TrimSpace(input.Category)
	if err := s.articles.Update(ctx, article); err != nil {
		return nil, storeError(err, "article", "update article", map[string]any{"article_id": id})
	}
	s.get.Remember(article.ID, *article)

	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionUpdateArticle, domain.EntityArticle, article.ID, map[string]any{
		"title":    article.Title,
		"category": article.Category,
	})
	view, err := s.render(*article)
	if err != nil {
		return nil, err
	}
	return &ArticleChange{Value: view, AuditFailed: failed}, nil
}

// Delete removes an article. Admin only.
func (s *KnowledgeBaseService) Delete(ctx context.Context, actor *domain.User, id string) (*ArticleChange, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	article, err := s.articles.Delete(ctx, id)
	if err != nil {
		return nil, storeError(err, "article", "delete article", map[string]any{"article_id": id})
	}
	s.get.Forget(id)

	failed := recordAudit(ctx, s.audit, s.logger, actor, domain.AuditActionDeleteArticle, domain.EntityArticle, id, map[string]any{
		"title": article.Title,
	})
	return &ArticleChange{Value: &ArticleView{Article: *article}, AuditFailed: failed}, nil
}

func (s *KnowledgeBaseService) loadList(ctx context.Context, filter repository.ArticleFilter) ([]domain.Article, error) {
	return s.articles.List(ctx, filter)
}

func (s *KnowledgeBaseService) loadOne(ctx context.Context, id string) (domain.Article, error) {
	article, err := s.articles.GetByID(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return domain.Article{}, apperrors.NewNotFound("article", map[string]any{"article_id": id})
		}
		return domain.Article{}, err
	}
	return *article, nil
}

func (s *KnowledgeBaseService) render(a domain.Article) (*ArticleView, error) {
	html, err := s.renderer.Render(a.Content)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &ArticleView{Article: a, HTML: html}, nil
}

func validateArticle(input ArticleInput) error {
	fields := map[string]any{}
	if strings.TrimSpace(input.Title) == "" {
		fields["title"] = "title is required"
	}
	if strings.TrimSpace(input.Content) == "" {
		fields["content"] = "content is required"
	}
	if strings.TrimSpace(input.Category) == "" {
		fields["category"] = "category is required"
	}
	if len(fields) > 0 {
		return apperrors.NewValidationError("invalid article", map[string]any{"fields": fields})
	}
	return nil
}
