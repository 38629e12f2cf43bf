package service

import (
	"context"
	"log/slog"
	"mime/multipart"
	"slices"

	"quill/internal/cache"
	"quill/internal/featureflags"
	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/observability"
	"quill/internal/repository"
	"quill/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// CoverStore persists uploaded cover files and returns their relative path.
type CoverStore interface {
	Save(ctx context.Context, fh *multipart.FileHeader) (string, error)
	Remove(rel string) error
}

type PostService struct {
	postRepo        repository.PostRepository
	covers          CoverStore
	flags           *featureflags.Manager
	defaultPageSize int
}

type CreatePostInput struct {
	Actor models.Principal
	// OwnerID assigns the post to another user. Zero means the actor.
	OwnerID     uint
	Title       string
	Content     string
	Description string
	Status      bool
	Cover       *multipart.FileHeader
}

// UpdatePostInput carries a partial update; nil fields keep their value.
type UpdatePostInput struct {
	Actor       models.Principal
	PostID      uint
	Title       *string
	Content     *string
	Description *string
	Status      *bool
	Cover       *multipart.FileHeader
}

type DeletePostInput struct {
	Actor  models.Principal
	PostID uint
}

type BatchDeletePostsInput struct {
	Actor models.Principal
	IDs   []uint
}

type ListPostsInput struct {
	Page          int
	Size          int
	PublishedOnly bool
	UserID        uint
}

func NewPostService(
	postRepo repository.PostRepository,
	covers CoverStore,
	flags *featureflags.Manager,
	defaultPageSize int,
) *PostService {
	if defaultPageSize <= 0 || defaultPageSize > MaxPageSize {
		defaultPageSize = DefaultPageSize
	}
	return &PostService{
		postRepo:        postRepo,
		covers:          covers,
		flags:           flags,
		defaultPageSize: defaultPageSize,
	}
}

// CanMutate reports whether actor may update or delete post: owners always
// can, everyone else needs the manage-all-posts permission.
func CanMutate(actor models.Principal, post *models.Post) bool {
	if post == nil || actor.UserID == 0 {
		return false
	}
	return post.UserID == actor.UserID || actor.Has(models.PermissionManageAllPosts)
}

func (s *PostService) CreatePost(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	ctx, span := observability.StartSpan(ctx, "post_service", "create",
		attribute.Int64("actor.id", int64(in.Actor.UserID)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if fields := validation.ValidatePost(in.Title, in.Content); len(fields) > 0 {
		return nil, models.NewFieldValidationError(fields)
	}

	owner := in.Actor.UserID
	if in.OwnerID != 0 && in.OwnerID != owner {
		if !in.Actor.Has(models.PermissionManageAllPosts) {
			return nil, models.NewForbiddenError("You cannot create posts for another user")
		}
		owner = in.OwnerID
	}
	if owner == 0 {
		return nil, models.NewUnauthorizedError("Authentication required")
	}

	post = &models.Post{
		UserID:      owner,
		Title:       in.Title,
		Content:     in.Content,
		Description: in.Description,
		Status:      in.Status,
	}

	if in.Cover != nil {
		rel, err := s.covers.Save(ctx, in.Cover)
		if err != nil {
			return nil, err
		}
		post.Cover = rel
	}

	if err := s.postRepo.Create(ctx, post); err != nil {
		s.discardCover(ctx, post.Cover)
		return nil, err
	}

	s.afterMutation(ctx, "create", in.Actor.UserID, post.ID)
	return post, nil
}

func (s *PostService) UpdatePost(ctx context.Context, in UpdatePostInput) (post *models.Post, err error) {
	ctx, span := observability.StartSpan(ctx, "post_service", "update",
		attribute.Int64("actor.id", int64(in.Actor.UserID)),
		attribute.Int64("post.id", int64(in.PostID)),
	)
	defer func() { observability.EndSpan(span, err) }()

	post, err = s.postRepo.GetByID(ctx, in.PostID)
	if err != nil {
		return nil, err
	}
	if !CanMutate(in.Actor, post) {
		return nil, models.NewForbiddenError("You can only update your own posts")
	}

	updated := *post
	if in.Title != nil {
		updated.Title = *in.Title
	}
	if in.Content != nil {
		updated.Content = *in.Content
	}
	if in.Description != nil {
		updated.Description = *in.Description
	}
	if in.Status != nil {
		updated.Status = *in.Status
	}
	if fields := validation.ValidatePost(updated.Title, updated.Content); len(fields) > 0 {
		return nil, models.NewFieldValidationError(fields)
	}

	var newCover string
	if in.Cover != nil {
		newCover, err = s.covers.Save(ctx, in.Cover)
		if err != nil {
			return nil, err
		}
		updated.Cover = newCover
	}

	if err := s.postRepo.Update(ctx, &updated); err != nil {
		s.discardCover(ctx, newCover)
		return nil, err
	}

	s.afterMutation(ctx, "update", in.Actor.UserID, updated.ID)
	return &updated, nil
}

func (s *PostService) DeletePost(ctx context.Context, in DeletePostInput) (err error) {
	ctx, span := observability.StartSpan(ctx, "post_service", "delete",
		attribute.Int64("actor.id", int64(in.Actor.UserID)),
		attribute.Int64("post.id", int64(in.PostID)),
	)
	defer func() { observability.EndSpan(span, err) }()

	post, err := s.postRepo.GetByID(ctx, in.PostID)
	if err != nil {
		return err
	}
	if !CanMutate(in.Actor, post) {
		return models.NewForbiddenError("You can only delete your own posts")
	}
	if err := s.postRepo.Delete(ctx, in.PostID); err != nil {
		return err
	}

	s.afterMutation(ctx, "delete", in.Actor.UserID, in.PostID)
	return nil
}

// BatchDeletePosts removes the listed posts the actor may mutate in one
// statement. Missing ids and posts owned by others are skipped. It returns
// the number of removed posts.
func (s *PostService) BatchDeletePosts(ctx context.Context, in BatchDeletePostsInput) (removed int64, err error) {
	ctx, span := observability.StartSpan(ctx, "post_service", "batch_delete",
		attribute.Int64("actor.id", int64(in.Actor.UserID)),
		attribute.Int("post.count", len(in.IDs)),
	)
	defer func() { observability.EndSpan(span, err) }()

	if in.Actor.UserID == 0 {
		return 0, models.NewUnauthorizedError("Authentication required")
	}

	ids := uniqueIDs(in.IDs)
	if len(ids) == 0 {
		return 0, nil
	}

	ownerID := in.Actor.UserID
	if in.Actor.Has(models.PermissionManageAllPosts) {
		ownerID = 0
	}
	removed, err = s.postRepo.DeleteByIDs(ctx, ids, ownerID)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		s.afterMutation(ctx, "batch_delete", in.Actor.UserID, ids...)
	}
	return removed, nil
}

// GetPost returns any post by id.
func (s *PostService) GetPost(ctx context.Context, id uint) (*models.Post, error) {
	return s.postRepo.GetByID(ctx, id)
}

// GetPostForEdit returns a post the actor is allowed to change.
func (s *PostService) GetPostForEdit(ctx context.Context, actor models.Principal, id uint) (*models.Post, error) {
	post, err := s.postRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanMutate(actor, post) {
		return nil, models.NewForbiddenError("You can only edit your own posts")
	}
	return post, nil
}

// GetPublishedPost returns a post only when it is published.
func (s *PostService) GetPublishedPost(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	fetch := func() error {
		p, err := s.postRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !p.Status {
			return models.NewNotFoundError("Post", id)
		}
		post = *p
		return nil
	}

	var err error
	if s.listingCacheOn() {
		err = cache.Aside(ctx, cache.PublicPostKey(id), &post, cache.PublicPostTTL, fetch)
	} else {
		err = fetch()
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// ListPosts returns one page ordered newest first. Pages past the end come
// back empty with accurate totals.
func (s *PostService) ListPosts(ctx context.Context, in ListPostsInput) (page *models.PostPage, err error) {
	pageNum, size := s.normalizePage(in.Page, in.Size)
	ctx, span := observability.StartSpan(ctx, "post_service", "list",
		attribute.Int("page", pageNum),
		attribute.Int("size", size),
		attribute.Bool("published_only", in.PublishedOnly),
	)
	defer func() { observability.EndSpan(span, err) }()

	filter := repository.PostFilter{PublishedOnly: in.PublishedOnly, UserID: in.UserID}
	page = &models.PostPage{}
	fetch := func() error {
		items, total, err := s.postRepo.List(ctx, filter, size, (pageNum-1)*size)
		if err != nil {
			return err
		}
		page.Items = items
		page.Meta = models.NewPageMeta(pageNum, size, total)
		return nil
	}

	if in.PublishedOnly && in.UserID == 0 && s.listingCacheOn() {
		err = cache.Aside(ctx, cache.PublicPostsKey(pageNum, size), page, cache.PublicPostsTTL, fetch)
	} else {
		err = fetch()
	}
	if err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []models.Post{}
	}
	return page, nil
}

func (s *PostService) normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = s.defaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

func (s *PostService) listingCacheOn() bool {
	return s.flags.OnByDefault(featureflags.PublicListingCache)
}

var mutationMessages = map[string]string{
	"create":       "post created",
	"update":       "post updated",
	"delete":       "post deleted",
	"batch_delete": "posts batch deleted",
}

func (s *PostService) afterMutation(ctx context.Context, op string, actorID uint, ids ...uint) {
	cache.InvalidatePosts(ctx, ids...)
	middleware.PostMutations.WithLabelValues(op).Inc()
	middleware.Logger.InfoContext(ctx, mutationMessages[op],
		slog.String("op", op),
		slog.Uint64("actor_id", uint64(actorID)),
		slog.Any("post_ids", ids),
	)
}

func (s *PostService) discardCover(ctx context.Context, rel string) {
	if rel == "" || s.covers == nil {
		return
	}
	if err := s.covers.Remove(rel); err != nil {
		middleware.Logger.WarnContext(ctx, "failed to remove orphaned cover", slog.String("cover", rel), slog.String("error", err.Error()))
	}
}

func uniqueIDs(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != 0 && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
