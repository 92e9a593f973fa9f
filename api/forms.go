package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/davidroman0O/stageflow/errors"
	workflow "github.com/davidroman0O/stageflow/workflows"
)

// DefaultBoardSize caps the forms a FormBoard keeps
const DefaultBoardSize = 1000

// PublishedForm is a rendered form waiting for a client to show it
type PublishedForm struct {
	Handle      string            `json:"handle"`
	Spec        workflow.FormSpec `json:"spec"`
	PublishedAt time.Time         `json:"publishedAt"`
}

// FormBoard is a workflow.FormRenderer for HTTP clients: rendering
// publishes the form, clients poll the board and answer through the
// stage response endpoint. The oldest forms are dropped past the cap.
type FormBoard struct {
	mu    sync.RWMutex
	max   int
	forms map[string]PublishedForm
	order []string
}

var _ workflow.FormRenderer = (*FormBoard)(nil)

// NewFormBoard creates a board holding at most max forms (DefaultBoardSize
// when max <= 0).
func NewFormBoard(max int) *FormBoard {
	if max <= 0 {
		max = DefaultBoardSize
	}
	return &FormBoard{max: max, forms: make(map[string]PublishedForm)}
}

// RenderForm implements workflow.FormRenderer
func (b *FormBoard) RenderForm(_ context.Context, spec workflow.FormSpec) (string, error) {
	f := PublishedForm{Handle: "form-" + uuid.NewString(), Spec: spec.Clone(), PublishedAt: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.forms[f.Handle] = f
	b.order = append(b.order, f.Handle)
	for len(b.order) > b.max {
		delete(b.forms, b.order[0])
		b.order = b.order[1:]
	}
	return f.Handle, nil
}

// Forms returns the published forms, oldest first
func (b *FormBoard) Forms() []PublishedForm {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]PublishedForm, 0, len(b.order))
	for _, h := range b.order {
		out = append(out, b.forms[h])
	}
	return out
}

// Form returns one published form
func (b *FormBoard) Form(handle string) (PublishedForm, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.forms[handle]
	if !ok {
		return PublishedForm{}, errors.Newf(errors.ErrNotFound, "form %s not found", handle)
	}
	return f, nil
}

// RegisterForms mounts the board on g
func (b *FormBoard) RegisterForms(g *echo.Group) {
	g.GET("/forms", func(c echo.Context) error {
		return c.JSON(http.StatusOK, b.Forms())
	})
	g.GET("/forms/:handle", func(c echo.Context) error {
		f, err := b.Form(c.Param("handle"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, f)
	})
}
