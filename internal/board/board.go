package board

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Element kinds as they travel on the wire.
const (
	KindPencil    = "pencil"
	KindEraser    = "eraser"
	KindRectangle = "rectangle"
	KindCircle    = "circle"
	KindOval      = "oval"
	KindLine      = "line"
	KindArrow     = "arrow"
	KindText      = "text"
)

var (
	// ErrLastPage is returned when deleting the only remaining page.
	ErrLastPage = errors.New("cannot delete the last page")
	// ErrOutOfRange is returned for a page index outside the document.
	ErrOutOfRange = errors.New("page index out of range")
	// ErrWrongPage is returned when an operation targets a page that is not current.
	ErrWrongPage = errors.New("page is not the current page")
)

// Point is a single canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Element is one committed drawing primitive. Elements are immutable once
// appended to a page; they are only ever removed by a whole-page clear or an
// undo of the most recent append.
type Element struct {
	ID     string  `json:"id"`
	Type   string  `json:"type"`
	Points []Point `json:"points,omitempty"`
	Start  *Point  `json:"start,omitempty"`
	End    *Point  `json:"end,omitempty"`
	Text   string  `json:"text,omitempty"`
	Color  string  `json:"color"`
	Width  float64 `json:"width"`
}

// Page is an ordered, append-only sequence of elements.
type Page struct {
	ID       string    `json:"id"`
	Elements []Element `json:"elements"`
}

// NewPage creates an empty page with a fresh id.
func NewPage() Page {
	return Page{ID: uuid.NewString(), Elements: []Element{}}
}

// PageState is the slice of document state broadcast after a page-level
// mutation: the current page index, the page count, and the current page's
// elements.
type PageState struct {
	Current  int
	Total    int
	Elements []Element
}

// Document holds the ordered pages of one board and the shared current-page
// pointer. The current page is a per-session pointer, not a per-client view:
// navigation is a broadcast operation and every participant observes the same
// index.
type Document struct {
	mu      sync.RWMutex
	pages   []Page
	current int
}

// NewDocument creates a document with a single empty page.
func NewDocument() *Document {
	return &Document{pages: []Page{NewPage()}}
}

// CurrentPageID returns the id of the current page.
func (d *Document) CurrentPageID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pages[d.current].ID
}

// CurrentIndex returns the current page index.
func (d *Document) CurrentIndex() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pages)
}

// AppendElement appends el to the named page. The page must be the current
// one; clients always edit the page they are viewing, and that assumption is
// enforced here rather than trusted. An element whose id already exists on
// the page is dropped as a duplicate and reports appended=false.
func (d *Document) AppendElement(pageID string, el Element) (appended bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	page := &d.pages[d.current]
	if page.ID != pageID {
		return false, ErrWrongPage
	}
	for _, existing := range page.Elements {
		if existing.ID == el.ID {
			return false, nil
		}
	}
	page.Elements = append(page.Elements, cloneElement(el))
	return true, nil
}

// ClearPage removes every element from the named page. Irreversible.
func (d *Document) ClearPage(pageID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	page := &d.pages[d.current]
	if page.ID != pageID {
		return ErrWrongPage
	}
	page.Elements = []Element{}
	return nil
}

// UndoLast removes the most recently appended element of the named page and
// returns the page's remaining elements. An empty page is a no-op, not an
// error. There is one undo history per page, shared by all participants; the
// pop does not care who appended the element.
func (d *Document) UndoLast(pageID string) ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	page := &d.pages[d.current]
	if page.ID != pageID {
		return nil, ErrWrongPage
	}
	if n := len(page.Elements); n > 0 {
		page.Elements = page.Elements[:n-1]
	}
	return cloneElements(page.Elements), nil
}

// AddPage appends a new empty page and makes it current.
func (d *Document) AddPage() PageState {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pages = append(d.pages, NewPage())
	d.current = len(d.pages) - 1
	return d.pageStateLocked()
}

// DeletePage removes the page at index. Deleting the only page is rejected.
// If the deleted page was current, the pointer moves to the page before it;
// if an earlier page was deleted, the pointer shifts down so it still refers
// to the same page.
func (d *Document) DeletePage(index int) (PageState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.pages) {
		return PageState{}, ErrOutOfRange
	}
	if len(d.pages) == 1 {
		return PageState{}, ErrLastPage
	}

	d.pages = append(d.pages[:index], d.pages[index+1:]...)
	switch {
	case d.current == index:
		if index > 0 {
			d.current = index - 1
		} else {
			d.current = 0
		}
	case d.current > index:
		d.current--
	}
	return d.pageStateLocked(), nil
}

// Navigate moves the current-page pointer to index.
func (d *Document) Navigate(index int) (PageState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.pages) {
		return PageState{}, ErrOutOfRange
	}
	d.current = index
	return d.pageStateLocked(), nil
}

// LoadPages replaces the whole page list, used when a stored draft is opened
// into a live room. The current index resets to 0. An empty list behaves
// like Reset.
func (d *Document) LoadPages(pages []Page) PageState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(pages) == 0 {
		d.pages = []Page{NewPage()}
	} else {
		d.pages = clonePages(pages)
	}
	d.current = 0
	return d.pageStateLocked()
}

// Reset replaces the document with a single empty page.
func (d *Document) Reset() PageState {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pages = []Page{NewPage()}
	d.current = 0
	return d.pageStateLocked()
}

// State returns the current PageState without mutating anything.
func (d *Document) State() PageState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pageStateLocked()
}

// Snapshot returns a deep copy of every page, in order.
func (d *Document) Snapshot() []Page {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return clonePages(d.pages)
}

func (d *Document) pageStateLocked() PageState {
	return PageState{
		Current:  d.current,
		Total:    len(d.pages),
		Elements: cloneElements(d.pages[d.current].Elements),
	}
}

func cloneElement(el Element) Element {
	out := el
	if el.Points != nil {
		out.Points = make([]Point, len(el.Points))
		copy(out.Points, el.Points)
	}
	if el.Start != nil {
		p := *el.Start
		out.Start = &p
	}
	if el.End != nil {
		p := *el.End
		out.End = &p
	}
	return out
}

func cloneElements(els []Element) []Element {
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, cloneElement(el))
	}
	return out
}

func clonePages(pages []Page) []Page {
	out := make([]Page, 0, len(pages))
	for _, p := range pages {
		page := Page{ID: p.ID, Elements: cloneElements(p.Elements)}
		if page.ID == "" {
			page.ID = uuid.NewString()
		}
		out = append(out, page)
	}
	return out
}
