package repository

import (
	"context"

	"quill/internal/models"

	"gorm.io/gorm"
)

// PostFilter narrows a post listing.
type PostFilter struct {
	// PublishedOnly restricts the listing to posts with status set.
	PublishedOnly bool
	// UserID restricts the listing to one owner when non-zero.
	UserID uint
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	GetByTitle(ctx context.Context, title string) ([]models.Post, error)
	GetByUserID(ctx context.Context, userID uint) ([]models.Post, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.Post, error)
	List(ctx context.Context, filter PostFilter, limit, offset int) ([]models.Post, int64, error)
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uint) error
	DeleteByIDs(ctx context.Context, ids []uint, ownerID uint) (int64, error)
}

// postRepository implements PostRepository
type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.db.WithContext(ctx).First(&post, id).Error; err != nil {
		return nil, translateFindError(err, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) GetByTitle(ctx context.Context, title string) ([]models.Post, error) {
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Where("title = ?", title).
		Order("created_at DESC, id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID uint) ([]models.Post, error) {
	var posts []models.Post
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&posts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *postRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Post, error) {
	if len(ids) == 0 {
		return []models.Post{}, nil
	}
	var posts []models.Post
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&posts).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return posts, nil
}

func (r *postRepository) applyFilter(db *gorm.DB, filter PostFilter) *gorm.DB {
	if filter.PublishedOnly {
		db = db.Where("status = ?", true)
	}
	if filter.UserID != 0 {
		db = db.Where("user_id = ?", filter.UserID)
	}
	return db
}

// List returns one window of posts, newest first with id as tie-breaker,
// and the total number of posts matching filter.
func (r *postRepository) List(ctx context.Context, filter PostFilter, limit, offset int) ([]models.Post, int64, error) {
	var total int64
	if err := r.applyFilter(r.db.WithContext(ctx).Model(&models.Post{}), filter).Count(&total).Error; err != nil {
		return nil, 0, models.NewInternalError(err)
	}

	posts := []models.Post{}
	if total == 0 || int64(offset) >= total {
		return posts, total, nil
	}

	err := r.applyFilter(r.db.WithContext(ctx), filter).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&posts).Error
	if err != nil {
		return nil, 0, models.NewInternalError(err)
	}
	return posts, total, nil
}

// Update writes the mutable columns of post. Owner and creation time are
// never part of the statement.
func (r *postRepository) Update(ctx context.Context, post *models.Post) error {
	result := r.db.WithContext(ctx).
		Model(post).
		Select("title", "content", "description", "cover", "status", "updated_at").
		Updates(post)
	if result.Error != nil {
		return models.NewInternalError(result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("Post", post.ID)
	}
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.Post{}, id)
	if result.Error != nil {
		return models.NewInternalError(result.Error)
	}
	if result.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	return nil
}

// DeleteByIDs removes the listed posts in a single statement. A non-zero
// ownerID restricts the removal to posts that user owns. Unknown ids are
// ignored; the number of removed rows is returned.
func (r *postRepository) DeleteByIDs(ctx context.Context, ids []uint, ownerID uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q := r.db.WithContext(ctx).Where("id IN ?", ids)
	if ownerID != 0 {
		q = q.Where("user_id = ?", ownerID)
	}
	result := q.Delete(&models.Post{})
	if result.Error != nil {
		return 0, models.NewInternalError(result.Error)
	}
	return result.RowsAffected, nil
}
