package server

import (
	"errors"
	"mime/multipart"
	"strconv"
	"strings"

	"quill/internal/middleware"
	"quill/internal/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 response and returns errResponseWritten.
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = s.respondError(c, models.NewValidationError("Invalid "+strings.ToUpper(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// wantsJSON reports whether the client prefers JSON over HTML. Requests
// without an Accept header get HTML.
func wantsJSON(c *fiber.Ctx) bool {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) && c.Get(fiber.HeaderAccept) == "" {
		return true
	}
	return c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}

// mapServiceError maps an application error to its HTTP status.
func mapServiceError(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.StatusNotFound
	}
	switch models.ErrorCode(err) {
	case models.CodeValidation:
		return fiber.StatusBadRequest
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeForbidden:
		return fiber.StatusForbidden
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err as JSON or as the error page, depending on Accept.
func (s *Server) respondError(c *fiber.Ctx, err error) error {
	status := mapServiceError(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			"path", c.Path(), "error", err.Error())
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			err = models.NewInternalError(err)
		}
	}
	if wantsJSON(c) {
		return models.RespondWithError(c, status, err)
	}

	message := err.Error()
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	return c.Status(status).Render("error", s.viewData(c, fiber.Map{
		"Title":   strconv.Itoa(status),
		"Status":  status,
		"Message": message,
	}))
}

// ErrorHandler is the Fiber error handler for errors escaping handlers,
// such as storage failures.
func (s *Server) ErrorHandler(c *fiber.Ctx, err error) error {
	if errors.Is(err, errResponseWritten) {
		return nil
	}
	return s.respondError(c, err)
}

// viewData merges the acting principal into template bindings.
func (s *Server) viewData(c *fiber.Ctx, data fiber.Map) fiber.Map {
	if data == nil {
		data = fiber.Map{}
	}
	if p, ok := middleware.PrincipalFrom(c); ok {
		data["Principal"] = &p
	}
	return data
}

func multipartForm(c *fiber.Ctx) *multipart.Form {
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return nil
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil
	}
	return form
}

// formValue returns the last submitted value of key and whether the key was
// present at all, for multipart and urlencoded bodies.
func formValue(c *fiber.Ctx, key string) (string, bool) {
	if form := multipartForm(c); form != nil {
		values, ok := form.Value[key]
		if !ok || len(values) == 0 {
			return "", false
		}
		return values[len(values)-1], true
	}
	args := c.Request().PostArgs()
	if !args.Has(key) {
		return "", false
	}
	values := args.PeekMulti(key)
	return string(values[len(values)-1]), true
}

func formValues(c *fiber.Ctx, key string) []string {
	var out []string
	if form := multipartForm(c); form != nil {
		out = append(out, form.Value[key]...)
	}
	for _, v := range c.Request().PostArgs().PeekMulti(key) {
		out = append(out, string(v))
	}
	for _, v := range c.Request().URI().QueryArgs().PeekMulti(key) {
		out = append(out, string(v))
	}
	return out
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func parseUint(v string) (uint, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 0)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// parseIDs collects positive ids from ids[] and ids, skipping junk.
func parseIDs(values []string) []uint {
	ids := make([]uint, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			if id, ok := parseUint(part); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// coverFile returns the uploaded cover, or nil when the field is absent or
// the browser sent an empty file input.
func coverFile(c *fiber.Ctx, field string) *multipart.FileHeader {
	form := multipartForm(c)
	if form == nil {
		return nil
	}
	files := form.File[field]
	if len(files) == 0 || files[0].Filename == "" {
		return nil
	}
	return files[0]
}

// redirectOrJSON sends HTML clients to location and JSON clients the payload.
func redirectOrJSON(c *fiber.Ctx, location string, status int, payload any) error {
	if wantsJSON(c) {
		return c.Status(status).JSON(payload)
	}
	return c.Redirect(location, fiber.StatusFound)
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
