package server

import (
	"errors"
	"strings"

	"quill/internal/middleware"
	"quill/internal/models"
	"quill/internal/service"
	"quill/internal/storage"

	"github.com/gofiber/fiber/v2"
)

const adminPostsPath = "/admin/blogs"

// postRequest is the create/update payload. Nil fields were not submitted.
type postRequest struct {
	ID          *uint   `json:"id"`
	UserID      *uint   `json:"user_id"`
	Title       *string `json:"title"`
	Content     *string `json:"content"`
	Description *string `json:"description"`
	Status      *bool   `json:"status"`
}

// postForm is what the create/edit template renders.
type postForm struct {
	ID          uint
	UserID      uint
	Title       string
	Content     string
	Description string
	Status      bool
	Cover       string
}

func readPostRequest(c *fiber.Ctx) (postRequest, error) {
	var req postRequest
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := c.BodyParser(&req); err != nil {
			return req, models.NewValidationError("Invalid request body")
		}
		return req, nil
	}

	if v, ok := formValue(c, "id"); ok {
		if id, ok := parseUint(v); ok {
			req.ID = &id
		}
	}
	if v, ok := formValue(c, "user_id"); ok {
		if id, ok := parseUint(v); ok {
			req.UserID = &id
		}
	}
	for key, dst := range map[string]**string{
		"title":       &req.Title,
		"content":     &req.Content,
		"description": &req.Description,
	} {
		if v, ok := formValue(c, key); ok {
			*dst = &v
		}
	}
	if v, ok := formValue(c, "status"); ok {
		b := parseBool(v)
		req.Status = &b
	}
	return req, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func (r postRequest) form() postForm {
	return postForm{
		ID:          deref(r.ID),
		UserID:      deref(r.UserID),
		Title:       deref(r.Title),
		Content:     deref(r.Content),
		Description: deref(r.Description),
		Status:      deref(r.Status),
	}
}

func formFromPost(p *models.Post) postForm {
	return postForm{
		ID:          p.ID,
		UserID:      p.UserID,
		Title:       p.Title,
		Content:     p.Content,
		Description: p.Description,
		Status:      p.Status,
		Cover:       p.Cover,
	}
}

func (s *Server) listPage(c *fiber.Ctx, publishedOnly bool) (*models.PostPage, error) {
	return s.postService.ListPosts(c.UserContext(), service.ListPostsInput{
		Page:          c.QueryInt("page", 1),
		Size:          c.QueryInt("size", 0),
		PublishedOnly: publishedOnly,
	})
}

// GetBlogs handles GET /blogs
// @Summary Published posts
// @Description Paginated listing of published posts, newest first
// @Tags blogs
// @Produce json,html
// @Param page query int false "1-based page" default(1)
// @Param size query int false "Page size (max 100)" default(10)
// @Success 200 {object} models.PostPage
// @Router /blogs [get]
func (s *Server) GetBlogs(c *fiber.Ctx) error {
	page, err := s.listPage(c, true)
	if err != nil {
		return s.respondError(c, err)
	}
	if wantsJSON(c) {
		return c.JSON(page)
	}
	return c.Render("blogs/index", s.viewData(c, fiber.Map{
		"Title":    "Blog",
		"Page":     page,
		"BasePath": "/blogs",
	}))
}

// GetBlog handles GET /blogs/:id
// @Summary Published post
// @Tags blogs
// @Produce json,html
// @Param id path int true "Post ID"
// @Success 200 {object} models.Post
// @Failure 404 {object} models.ErrorResponse
// @Router /blogs/{id} [get]
func (s *Server) GetBlog(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	post, err := s.postService.GetPublishedPost(c.UserContext(), id)
	if err != nil {
		return s.respondError(c, err)
	}
	if wantsJSON(c) {
		return c.JSON(post)
	}
	return c.Render("blogs/show", s.viewData(c, fiber.Map{
		"Title": post.Title,
		"Post":  post,
	}))
}

// AdminListPosts handles GET /admin/blogs
// @Summary All posts
// @Description Paginated listing of every post regardless of status
// @Tags admin
// @Produce json,html
// @Param page query int false "1-based page" default(1)
// @Param size query int false "Page size (max 100)" default(10)
// @Success 200 {object} models.PostPage
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/blogs [get]
func (s *Server) AdminListPosts(c *fiber.Ctx) error {
	page, err := s.listPage(c, false)
	if err != nil {
		return s.respondError(c, err)
	}
	if wantsJSON(c) {
		return c.JSON(page)
	}
	return c.Render("admin/index", s.viewData(c, fiber.Map{
		"Title":    "Posts",
		"Page":     page,
		"BasePath": adminPostsPath,
	}))
}

// NewPostForm handles GET /admin/blog/create
func (s *Server) NewPostForm(c *fiber.Ctx) error {
	p, _ := middleware.PrincipalFrom(c)
	return c.Render("admin/form", s.viewData(c, fiber.Map{
		"Title": "New post",
		"Form":  postForm{UserID: p.UserID},
	}))
}

// EditPostForm handles GET /admin/blog/edit/:id
func (s *Server) EditPostForm(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	p, _ := middleware.PrincipalFrom(c)
	post, err := s.postService.GetPostForEdit(c.UserContext(), p, id)
	if err != nil {
		return s.respondError(c, err)
	}
	if wantsJSON(c) {
		return c.JSON(post)
	}
	return c.Render("admin/form", s.viewData(c, fiber.Map{
		"Title": "Edit post",
		"Form":  formFromPost(post),
	}))
}

// renderFormErrors re-renders the post form with field errors for HTML
// clients, or reports them as JSON.
func (s *Server) renderFormErrors(c *fiber.Ctx, err error, form postForm) error {
	var appErr *models.AppError
	if !errors.As(err, &appErr) || len(appErr.Fields) == 0 || wantsJSON(c) {
		return s.respondError(c, err)
	}
	title := "New post"
	if form.ID != 0 {
		title = "Edit post"
	}
	return c.Status(fiber.StatusBadRequest).Render("admin/form", s.viewData(c, fiber.Map{
		"Title":  title,
		"Form":   form,
		"Errors": appErr.Fields,
	}))
}

// CreatePost handles POST /admin/blog/create
// @Summary Create post
// @Description Multipart form with optional coverFile. HTML clients are redirected to /admin/blogs.
// @Tags admin
// @Accept multipart/form-data,json
// @Produce json,html
// @Param title formData string true "Title"
// @Param content formData string true "Content"
// @Param description formData string false "Description"
// @Param user_id formData int false "Owner (requires manage-all-posts when not the caller)"
// @Param status formData bool false "Published"
// @Param coverFile formData file false "Cover image"
// @Success 201 {object} models.Post
// @Success 302
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/blog/create [post]
func (s *Server) CreatePost(c *fiber.Ctx) error {
	actor, _ := middleware.PrincipalFrom(c)
	req, err := readPostRequest(c)
	if err != nil {
		return s.respondError(c, err)
	}

	post, err := s.postService.CreatePost(c.UserContext(), service.CreatePostInput{
		Actor:       actor,
		OwnerID:     deref(req.UserID),
		Title:       deref(req.Title),
		Content:     deref(req.Content),
		Description: deref(req.Description),
		Status:      deref(req.Status),
		Cover:       coverFile(c, storage.CoverFieldName),
	})
	if err != nil {
		form := req.form()
		form.ID = 0
		return s.renderFormErrors(c, err, form)
	}

	return redirectOrJSON(c, adminPostsPath, fiber.StatusCreated, post)
}

// UpdatePost handles PUT /admin/blog/update
// @Summary Update post
// @Description Partial update; omitted fields keep their values. 403 when the caller neither owns the post nor holds manage-all-posts.
// @Tags admin
// @Accept multipart/form-data,json
// @Produce json,html
// @Param id formData int true "Post ID"
// @Param title formData string false "Title"
// @Param content formData string false "Content"
// @Param description formData string false "Description"
// @Param status formData bool false "Published"
// @Param coverFile formData file false "Cover image"
// @Success 200 {object} models.Post
// @Success 302
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/blog/update [put]
func (s *Server) UpdatePost(c *fiber.Ctx) error {
	actor, _ := middleware.PrincipalFrom(c)
	req, err := readPostRequest(c)
	if err != nil {
		return s.respondError(c, err)
	}
	if req.ID == nil {
		return s.respondError(c, models.NewFieldValidationError(models.FieldErrors{{Field: "id", Code: models.FieldNotEmpty}}))
	}

	post, err := s.postService.UpdatePost(c.UserContext(), service.UpdatePostInput{
		Actor:       actor,
		PostID:      *req.ID,
		Title:       req.Title,
		Content:     req.Content,
		Description: req.Description,
		Status:      req.Status,
		Cover:       coverFile(c, storage.CoverFieldName),
	})
	if err != nil {
		return s.renderFormErrors(c, err, req.form())
	}

	return redirectOrJSON(c, adminPostsPath, fiber.StatusOK, post)
}

// DeletePost handles DELETE /admin/blog/destroy/:id
// @Summary Delete post
// @Tags admin
// @Produce json,html
// @Param id path int true "Post ID"
// @Success 200 {object} object{deleted=int}
// @Success 302
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /admin/blog/destroy/{id} [delete]
func (s *Server) DeletePost(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	actor, _ := middleware.PrincipalFrom(c)
	if err := s.postService.DeletePost(c.UserContext(), service.DeletePostInput{Actor: actor, PostID: id}); err != nil {
		return s.respondError(c, err)
	}
	return redirectOrJSON(c, adminPostsPath, fiber.StatusOK, fiber.Map{"deleted": id})
}

// BatchDeletePosts handles DELETE /admin/blog/destroy
// @Summary Delete several posts
// @Description Removes the listed posts the caller may mutate. Unknown or foreign ids are skipped.
// @Tags admin
// @Produce plain
// @Param ids[] formData []int true "Post IDs" collectionFormat(multi)
// @Success 200 {string} string "DONE"
// @Security BearerAuth
// @Router /admin/blog/destroy [delete]
func (s *Server) BatchDeletePosts(c *fiber.Ctx) error {
	actor, _ := middleware.PrincipalFrom(c)

	values := append(formValues(c, "ids[]"), formValues(c, "ids")...)
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		var body struct {
			IDs []uint `json:"ids"`
		}
		if err := c.BodyParser(&body); err != nil {
			return s.respondError(c, models.NewValidationError("Invalid request body"))
		}
		for _, id := range body.IDs {
			values = append(values, uintString(id))
		}
	}

	if _, err := s.postService.BatchDeletePosts(c.UserContext(), service.BatchDeletePostsInput{
		Actor: actor,
		IDs:   parseIDs(values),
	}); err != nil {
		return s.respondError(c, err)
	}
	return c.SendString("DONE")
}
