package service

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"testing"

	"quill/internal/cache"
	"quill/internal/featureflags"
	"quill/internal/models"
	"quill/internal/repository"
	"quill/internal/storage"
	"quill/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// postRepoStub is a stub for repository.PostRepository.
type postRepoStub struct {
	createFn      func(context.Context, *models.Post) error
	getByIDFn     func(context.Context, uint) (*models.Post, error)
	listFn        func(context.Context, repository.PostFilter, int, int) ([]models.Post, int64, error)
	updateFn      func(context.Context, *models.Post) error
	deleteFn      func(context.Context, uint) error
	deleteByIDsFn func(context.Context, []uint, uint) (int64, error)
}

func (s *postRepoStub) Create(ctx context.Context, post *models.Post) error {
	return s.createFn(ctx, post)
}
func (s *postRepoStub) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	return s.getByIDFn(ctx, id)
}
func (s *postRepoStub) GetByTitle(context.Context, string) ([]models.Post, error) {
	return nil, nil
}
func (s *postRepoStub) GetByUserID(context.Context, uint) ([]models.Post, error) {
	return nil, nil
}
func (s *postRepoStub) GetByIDs(context.Context, []uint) ([]models.Post, error) {
	return nil, nil
}
func (s *postRepoStub) List(ctx context.Context, filter repository.PostFilter, limit, offset int) ([]models.Post, int64, error) {
	return s.listFn(ctx, filter, limit, offset)
}
func (s *postRepoStub) Update(ctx context.Context, post *models.Post) error {
	return s.updateFn(ctx, post)
}
func (s *postRepoStub) Delete(ctx context.Context, id uint) error {
	return s.deleteFn(ctx, id)
}
func (s *postRepoStub) DeleteByIDs(ctx context.Context, ids []uint, ownerID uint) (int64, error) {
	return s.deleteByIDsFn(ctx, ids, ownerID)
}

func failPostRepo(t *testing.T) *postRepoStub {
	fail := func(string) { t.Helper(); t.Fatal("unexpected repository call") }
	return &postRepoStub{
		createFn:      func(context.Context, *models.Post) error { fail("create"); return nil },
		getByIDFn:     func(context.Context, uint) (*models.Post, error) { fail("get"); return nil, nil },
		listFn:        func(context.Context, repository.PostFilter, int, int) ([]models.Post, int64, error) { fail("list"); return nil, 0, nil },
		updateFn:      func(context.Context, *models.Post) error { fail("update"); return nil },
		deleteFn:      func(context.Context, uint) error { fail("delete"); return nil },
		deleteByIDsFn: func(context.Context, []uint, uint) (int64, error) { fail("delete_by_ids"); return 0, nil },
	}
}

// coverStoreStub records saves and removals.
type coverStoreStub struct {
	saved   []string
	removed []string
	saveErr error
}

func (s *coverStoreStub) Save(_ context.Context, fh *multipart.FileHeader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	rel := "covers/2025/01/" + fh.Filename
	s.saved = append(s.saved, rel)
	return rel, nil
}

func (s *coverStoreStub) Remove(rel string) error {
	s.removed = append(s.removed, rel)
	return nil
}

func newCoverHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile(storage.CoverFieldName, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	form, err := multipart.NewReader(body, w.Boundary()).ReadForm(1 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File[storage.CoverFieldName][0]
}

func assertAppErrorCode(t *testing.T, err error, code string) *models.AppError {
	t.Helper()
	require.Error(t, err)
	var appErr *models.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	assert.Equal(t, code, appErr.Code)
	return appErr
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool { return &b }

func TestCanMutate(t *testing.T) {
	post := &models.Post{ID: 1, UserID: 7}

	tests := []struct {
		name  string
		actor models.Principal
		want  bool
	}{
		{"owner", models.NewPrincipal(7), true},
		{"stranger", models.NewPrincipal(8), false},
		{"stranger with unrelated permission", models.NewPrincipal(8, models.PermissionAccessAdmin), false},
		{"elevated stranger", models.NewPrincipal(8, models.PermissionManageAllPosts), true},
		{"anonymous", models.Principal{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanMutate(tt.actor, post))
		})
	}
	assert.False(t, CanMutate(models.NewPrincipal(7), nil))
}

func TestCreatePost_ValidationReportsBothFields(t *testing.T) {
	covers := &coverStoreStub{}
	svc := NewPostService(failPostRepo(t), covers, nil, 0)

	_, err := svc.CreatePost(context.Background(), CreatePostInput{
		Actor: models.NewPrincipal(1),
		Cover: newCoverHeader(t, "c.png", []byte{1, 2, 3}),
	})

	appErr := assertAppErrorCode(t, err, models.CodeValidation)
	assert.True(t, appErr.Fields.Has("title", models.FieldNotEmpty))
	assert.True(t, appErr.Fields.Has("content", models.FieldNotEmpty))
	assert.Empty(t, covers.saved, "no file written on validation failure")
}

func TestCreatePost_StoresCoverThenRow(t *testing.T) {
	repo := failPostRepo(t)
	var created *models.Post
	repo.createFn = func(_ context.Context, p *models.Post) error {
		p.ID = 11
		created = p
		return nil
	}
	covers := &coverStoreStub{}
	svc := NewPostService(repo, covers, nil, 0)

	post, err := svc.CreatePost(context.Background(), CreatePostInput{
		Actor:       models.NewPrincipal(3),
		Title:       "Hello",
		Content:     "World",
		Description: "desc",
		Status:      true,
		Cover:       newCoverHeader(t, "c.png", []byte{1, 2, 3}),
	})
	require.NoError(t, err)
	assert.Equal(t, uint(11), post.ID)
	assert.Equal(t, uint(3), created.UserID)
	assert.Equal(t, "covers/2025/01/c.png", created.Cover)
	assert.Len(t, covers.saved, 1)
	assert.Empty(t, covers.removed)
}

func TestCreatePost_RemovesCoverWhenInsertFails(t *testing.T) {
	repo := failPostRepo(t)
	repo.createFn = func(context.Context, *models.Post) error {
		return models.NewInternalError(errors.New("db down"))
	}
	covers := &coverStoreStub{}
	svc := NewPostService(repo, covers, nil, 0)

	_, err := svc.CreatePost(context.Background(), CreatePostInput{
		Actor:   models.NewPrincipal(3),
		Title:   "t",
		Content: "c",
		Cover:   newCoverHeader(t, "c.png", []byte{1}),
	})
	assertAppErrorCode(t, err, models.CodeInternal)
	assert.Equal(t, covers.saved, covers.removed)
}

func TestCreatePost_OwnerOverride(t *testing.T) {
	repo := failPostRepo(t)
	repo.createFn = func(context.Context, *models.Post) error { return nil }
	svc := NewPostService(repo, &coverStoreStub{}, nil, 0)
	ctx := context.Background()

	_, err := svc.CreatePost(ctx, CreatePostInput{
		Actor: models.NewPrincipal(3), OwnerID: 9, Title: "t", Content: "c",
	})
	assertAppErrorCode(t, err, models.CodeForbidden)

	post, err := svc.CreatePost(ctx, CreatePostInput{
		Actor: models.NewPrincipal(3, models.PermissionManageAllPosts), OwnerID: 9, Title: "t", Content: "c",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(9), post.UserID)

	post, err = svc.CreatePost(ctx, CreatePostInput{
		Actor: models.NewPrincipal(3), OwnerID: 3, Title: "t", Content: "c",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(3), post.UserID)
}

func TestUpdatePost_Gate(t *testing.T) {
	stored := models.Post{ID: 5, UserID: 1, Title: "old", Content: "body", Status: true}

	tests := []struct {
		name     string
		actor    models.Principal
		getErr   error
		wantCode string
	}{
		{"missing post", models.NewPrincipal(1), models.NewNotFoundError("Post", 5), models.CodeNotFound},
		{"non owner", models.NewPrincipal(2), nil, models.CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := failPostRepo(t)
			repo.getByIDFn = func(context.Context, uint) (*models.Post, error) {
				if tt.getErr != nil {
					return nil, tt.getErr
				}
				p := stored
				return &p, nil
			}
			covers := &coverStoreStub{}
			svc := NewPostService(repo, covers, nil, 0)

			_, err := svc.UpdatePost(context.Background(), UpdatePostInput{
				Actor:  tt.actor,
				PostID: 5,
				Title:  strPtr("new"),
				Cover:  newCoverHeader(t, "n.png", []byte{1}),
			})
			assertAppErrorCode(t, err, tt.wantCode)
			assert.Empty(t, covers.saved)
		})
	}
}

func TestUpdatePost_PartialKeepsOmittedFields(t *testing.T) {
	repo := failPostRepo(t)
	repo.getByIDFn = func(context.Context, uint) (*models.Post, error) {
		return &models.Post{ID: 5, UserID: 1, Title: "old", Content: "body", Description: "d", Cover: "covers/old.png", Status: true}, nil
	}
	var written models.Post
	repo.updateFn = func(_ context.Context, p *models.Post) error {
		written = *p
		return nil
	}
	svc := NewPostService(repo, &coverStoreStub{}, nil, 0)

	post, err := svc.UpdatePost(context.Background(), UpdatePostInput{
		Actor:  models.NewPrincipal(2, models.PermissionManageAllPosts),
		PostID: 5,
		Title:  strPtr("new"),
		Status: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "new", post.Title)
	assert.Equal(t, "body", written.Content)
	assert.Equal(t, "d", written.Description)
	assert.Equal(t, "covers/old.png", written.Cover)
	assert.False(t, written.Status)
	assert.Equal(t, uint(1), written.UserID, "owner unchanged")
}

func TestUpdatePost_EmptiedFieldsFailValidation(t *testing.T) {
	repo := failPostRepo(t)
	repo.getByIDFn = func(context.Context, uint) (*models.Post, error) {
		return &models.Post{ID: 5, UserID: 1, Title: "old", Content: "body"}, nil
	}
	svc := NewPostService(repo, &coverStoreStub{}, nil, 0)

	_, err := svc.UpdatePost(context.Background(), UpdatePostInput{
		Actor: models.NewPrincipal(1), PostID: 5, Content: strPtr(" "),
	})
	appErr := assertAppErrorCode(t, err, models.CodeValidation)
	assert.Equal(t, []string{models.FieldNotEmpty}, appErr.Fields.For("content"))
	assert.Empty(t, appErr.Fields.For("title"))
}

func TestUpdatePost_NewCoverKeepsOldFile(t *testing.T) {
	repo := failPostRepo(t)
	repo.getByIDFn = func(context.Context, uint) (*models.Post, error) {
		return &models.Post{ID: 5, UserID: 1, Title: "t", Content: "c", Cover: "covers/old.png"}, nil
	}
	repo.updateFn = func(context.Context, *models.Post) error { return nil }
	covers := &coverStoreStub{}
	svc := NewPostService(repo, covers, nil, 0)

	post, err := svc.UpdatePost(context.Background(), UpdatePostInput{
		Actor: models.NewPrincipal(1), PostID: 5, Cover: newCoverHeader(t, "new.png", []byte{9}),
	})
	require.NoError(t, err)
	assert.Equal(t, "covers/2025/01/new.png", post.Cover)
	assert.Empty(t, covers.removed)
}

func TestDeletePost(t *testing.T) {
	newRepo := func(t *testing.T, deleted *[]uint) *postRepoStub {
		repo := failPostRepo(t)
		repo.getByIDFn = func(_ context.Context, id uint) (*models.Post, error) {
			if id != 5 {
				return nil, models.NewNotFoundError("Post", id)
			}
			return &models.Post{ID: 5, UserID: 1}, nil
		}
		repo.deleteFn = func(_ context.Context, id uint) error {
			*deleted = append(*deleted, id)
			return nil
		}
		return repo
	}
	ctx := context.Background()

	var deleted []uint
	svc := NewPostService(newRepo(t, &deleted), nil, nil, 0)
	assertAppErrorCode(t, svc.DeletePost(ctx, DeletePostInput{Actor: models.NewPrincipal(2), PostID: 5}), models.CodeForbidden)
	assertAppErrorCode(t, svc.DeletePost(ctx, DeletePostInput{Actor: models.NewPrincipal(1), PostID: 6}), models.CodeNotFound)
	assert.Empty(t, deleted)

	require.NoError(t, svc.DeletePost(ctx, DeletePostInput{Actor: models.NewPrincipal(1), PostID: 5}))
	require.NoError(t, svc.DeletePost(ctx, DeletePostInput{Actor: models.NewPrincipal(3, models.PermissionManageAllPosts), PostID: 5}))
	assert.Equal(t, []uint{5, 5}, deleted)
}

func TestBatchDeletePosts_ScopesByPermission(t *testing.T) {
	tests := []struct {
		name      string
		actor     models.Principal
		ids       []uint
		wantIDs   []uint
		wantOwner uint
	}{
		{"owner scoped", models.NewPrincipal(4), []uint{3, 1, 3, 0, 2}, []uint{3, 1, 2}, 4},
		{"elevated", models.NewPrincipal(4, models.PermissionManageAllPosts), []uint{1, 2}, []uint{1, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := failPostRepo(t)
			var gotIDs []uint
			gotOwner := uint(999)
			repo.deleteByIDsFn = func(_ context.Context, ids []uint, ownerID uint) (int64, error) {
				gotIDs, gotOwner = ids, ownerID
				return int64(len(ids)), nil
			}
			svc := NewPostService(repo, nil, nil, 0)

			n, err := svc.BatchDeletePosts(context.Background(), BatchDeletePostsInput{Actor: tt.actor, IDs: tt.ids})
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.wantIDs)), n)
			assert.Equal(t, tt.wantIDs, gotIDs)
			assert.Equal(t, tt.wantOwner, gotOwner)
		})
	}
}

func TestBatchDeletePosts_EmptyAndAnonymous(t *testing.T) {
	svc := NewPostService(failPostRepo(t), nil, nil, 0)

	n, err := svc.BatchDeletePosts(context.Background(), BatchDeletePostsInput{Actor: models.NewPrincipal(1)})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.BatchDeletePosts(context.Background(), BatchDeletePostsInput{IDs: []uint{1}})
	assertAppErrorCode(t, err, models.CodeUnauthorized)
}

func TestListPosts_NormalizesPaging(t *testing.T) {
	tests := []struct {
		name       string
		page, size int
		wantLimit  int
		wantOffset int
		wantPage   int
	}{
		{"defaults", 0, 0, 7, 0, 1},
		{"second page", 2, 1, 1, 1, 2},
		{"clamped size", 3, 500, MaxPageSize, 2 * MaxPageSize, 3},
		{"negative page", -4, 5, 5, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := failPostRepo(t)
			var limit, offset int
			repo.listFn = func(_ context.Context, _ repository.PostFilter, l, o int) ([]models.Post, int64, error) {
				limit, offset = l, o
				return []models.Post{}, 3, nil
			}
			svc := NewPostService(repo, nil, featureflags.NewManager("public_listing_cache=off"), 7)

			page, err := svc.ListPosts(context.Background(), ListPostsInput{Page: tt.page, Size: tt.size})
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
			assert.Equal(t, tt.wantPage, page.Meta.Page)
			assert.Equal(t, int64(3), page.Meta.Total)
			assert.NotNil(t, page.Items)
		})
	}
}

func withMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	prev := cache.GetClient()
	client, err := cache.NewClient(mr.Addr())
	require.NoError(t, err)
	cache.SetClient(client)
	t.Cleanup(func() { cache.SetClient(prev) })
	return mr
}

func TestListPosts_PublicPagesAreCachedAndInvalidated(t *testing.T) {
	mr := withMiniredis(t)

	repo := failPostRepo(t)
	calls := 0
	repo.listFn = func(_ context.Context, f repository.PostFilter, _, _ int) ([]models.Post, int64, error) {
		calls++
		assert.True(t, f.PublishedOnly)
		return []models.Post{{ID: 1, Title: "t", Status: true}}, 1, nil
	}
	repo.deleteByIDsFn = func(context.Context, []uint, uint) (int64, error) { return 1, nil }
	svc := NewPostService(repo, nil, nil, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		page, err := svc.ListPosts(ctx, ListPostsInput{Page: 1, Size: 10, PublishedOnly: true})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
	}
	assert.Equal(t, 1, calls)
	assert.True(t, mr.Exists(cache.PublicPostsKey(1, 10)))

	_, err := svc.BatchDeletePosts(ctx, BatchDeletePostsInput{Actor: models.NewPrincipal(1), IDs: []uint{1}})
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.PublicPostsKey(1, 10)))

	_, err = svc.ListPosts(ctx, ListPostsInput{Page: 1, Size: 10, PublishedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGetPublishedPost_HidesDrafts(t *testing.T) {
	repo := failPostRepo(t)
	repo.getByIDFn = func(_ context.Context, id uint) (*models.Post, error) {
		return &models.Post{ID: id, Status: id == 1}, nil
	}
	svc := NewPostService(repo, nil, nil, 0)

	post, err := svc.GetPublishedPost(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint(1), post.ID)

	_, err = svc.GetPublishedPost(context.Background(), 2)
	assertAppErrorCode(t, err, models.CodeNotFound)
}

func TestPostService_WithSQLiteAndDiskStore(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	owner := testutil.CreateUser(t, db, "author")
	other := testutil.CreateUser(t, db, "intruder")
	base := t.TempDir()
	store := storage.NewCoverStore(base, 1<<20)
	svc := NewPostService(repository.NewPostRepository(db), store, nil, 0)
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, CreatePostInput{
		Actor:   models.NewPrincipal(owner.ID),
		Title:   "Hello",
		Content: "World",
		Cover:   newCoverHeader(t, "cover.png", []byte{1, 2, 3}),
	})
	require.NoError(t, err)
	assert.True(t, store.Exists(post.Cover))

	_, err = svc.UpdatePost(ctx, UpdatePostInput{
		Actor: models.NewPrincipal(other.ID), PostID: post.ID, Title: strPtr("hijacked"),
	})
	assertAppErrorCode(t, err, models.CodeForbidden)

	stored, err := svc.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", stored.Title)

	n, err := svc.BatchDeletePosts(ctx, BatchDeletePostsInput{Actor: models.NewPrincipal(other.ID), IDs: []uint{post.ID, 999}})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = svc.BatchDeletePosts(ctx, BatchDeletePostsInput{Actor: models.NewPrincipal(owner.ID), IDs: []uint{post.ID, 999}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
