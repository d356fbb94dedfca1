package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Geniusmania/ticket-chat-system/internal/domain"
)

// ArticleFilter narrows knowledge base listings.
type ArticleFilter struct {
	Category   string
	SearchTerm string
	Limit      int
	Offset     int
}

// KnowledgeBaseRepository persists knowledge base articles.
type KnowledgeBaseRepository interface {
	Create(ctx context.Context, article *domain.Article) error
	Update(ctx context.Context, article *domain.Article) error
	Delete(ctx context.Context, id string) (*domain.Article, error)
	GetByID(ctx context.Context, id string) (*domain.Article, error)
	List(ctx context.Context, filter ArticleFilter) ([]domain.Article, error)
}

type knowledgeBaseRepository struct {
	pool      *pgxpool.Pool
	publisher ChangePublisher
}

// NewKnowledgeBaseRepository constructs repository.
func NewKnowledgeBaseRepository(pool *pgxpool.Pool, publisher ChangePublisher) KnowledgeBaseRepository {
	return &knowledgeBaseRepository{pool: pool, publisher: publisherOrNop(publisher)}
}

const articleColumns = `id, title, content, category, created_at, updated_at, author_id`

func (r *knowledgeBaseRepository) Create(ctx context.Context, article *domain.Article) error {
	const query = `
        INSERT INTO knowledge_base (title, content, category, author_id)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at, updated_at`
	if err := r.pool.QueryRow(ctx, query,
		article.Title,
		article.Content,
		article.Category,
		article.AuthorID,
	).Scan(&article.ID, &article.CreatedAt, &article.UpdatedAt); err != nil {
		return err
	}
	r.publisher.PublishChange(ctx, domain.TableKnowledgeBase, domain.ChangeInsert, article, nil)
	return nil
}

func (r *knowledgeBaseRepository) Update(ctx context.Context, article *domain.Article) error {
	const query = `
        UPDATE knowledge_base SET title=$1, content=$2, category=$3, updated_at=NOW()
        WHERE id=$4
        RETURNING updated_at`
	if err := r.pool.QueryRow(ctx, query,
		article.Title,
		article.Content,
		article.Category,
		article.ID,
	).Scan(&article.UpdatedAt); err != nil {
		return err
	}
	r.publisher.PublishChange(ctx, domain.TableKnowledgeBase, domain.ChangeUpdate, article, nil)
	return nil
}

// Delete removes the article and returns the row as it was.
func (r *knowledgeBaseRepository) Delete(ctx context.Context, id string) (*domain.Article, error) {
	query := `DELETE FROM knowledge_base WHERE id=$1 RETURNING ` + articleColumns
	var article domain.Article
	if err := scanArticle(r.pool.QueryRow(ctx, query, id), &article); err != nil {
		return nil, err
	}
	r.publisher.PublishChange(ctx, domain.TableKnowledgeBase, domain.ChangeDelete, nil, &article)
	return &article, nil
}

func (r *knowledgeBaseRepository) GetByID(ctx context.Context, id string) (*domain.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM knowledge_base WHERE id=$1`
	var article domain.Article
	if err := scanArticle(r.pool.QueryRow(ctx, query, id), &article); err != nil {
		return nil, err
	}
	return &article, nil
}

func (r *knowledgeBaseRepository) List(ctx context.Context, filter ArticleFilter) ([]domain.Article, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Category != "" {
		args = append(args, filter.Category)
		clauses = append(clauses, fmt.Sprintf("category=$%d", len(args)))
	}
	if term := strings.TrimSpace(filter.SearchTerm); term != "" {
		args = append(args, "%"+strings.ToLower(term)+"%")
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(content) LIKE %s)", placeholder, placeholder))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM knowledge_base WHERE %s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d`,
		articleColumns, strings.Join(clauses, " AND "), limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Article
	for rows.Next() {
		var article domain.Article
		if err := scanArticle(rows, &article); err != nil {
			return nil, err
		}
		result = append(result, article)
	}
	return result, rows.Err()
}

func scanArticle(row pgx.Row, a *domain.Article) error {
	return row.Scan(
		&a.ID,
		&a.Title,
		&a.Content,
		&a.Category,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.AuthorID,
	)
}
