package server

import (
	"embed"
	"io/fs"
	"net/http"
	"path"

	"quill/internal/models"
	"quill/internal/service"

	"github.com/gofiber/template/html/v2"
)

//go:embed views
var viewsFS embed.FS

const (
	uploadsPrefix = "/uploads"
	layoutMain    = "layouts/main"
)

// NewViews builds the template engine over the embedded views directory.
func NewViews() *html.Engine {
	sub, err := fs.Sub(viewsFS, "views")
	if err != nil {
		panic(err)
	}
	engine := html.NewFileSystem(http.FS(sub), ".html")
	engine.AddFunc("coverURL", coverURL)
	engine.AddFunc("canMutate", func(p *models.Principal, post models.Post) bool {
		if p == nil {
			return false
		}
		return service.CanMutate(*p, &post)
	})
	engine.AddFunc("add", func(a, b int) int { return a + b })
	engine.AddFunc("sub", func(a, b int) int { return a - b })
	return engine
}

func coverURL(rel string) string {
	if rel == "" {
		return ""
	}
	return path.Join(uploadsPrefix, rel)
}
