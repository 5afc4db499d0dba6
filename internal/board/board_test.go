package board

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func element(id string) Element {
	return Element{
		ID:     id,
		Type:   KindPencil,
		Points: []Point{{X: 1, Y: 1}, {X: 2, Y: 2}},
		Color:  "#000000",
		Width:  3,
	}
}

func TestNewDocumentHasOnePage(t *testing.T) {
	doc := NewDocument()
	assert.Equal(t, 1, doc.PageCount())
	assert.Equal(t, 0, doc.CurrentIndex())
	assert.NotEmpty(t, doc.CurrentPageID())
}

func TestAppendElementPreservesOrder(t *testing.T) {
	doc := NewDocument()
	pageID := doc.CurrentPageID()

	for i := 0; i < 10; i++ {
		appended, err := doc.AppendElement(pageID, element(fmt.Sprintf("e%d", i)))
		require.NoError(t, err)
		require.True(t, appended)
	}

	st := doc.State()
	require.Len(t, st.Elements, 10)
	for i, el := range st.Elements {
		assert.Equal(t, fmt.Sprintf("e%d", i), el.ID)
	}
}

func TestAppendElementDuplicateDropped(t *testing.T) {
	doc := NewDocument()
	pageID := doc.CurrentPageID()

	appended, err := doc.AppendElement(pageID, element("e1"))
	require.NoError(t, err)
	require.True(t, appended)

	appended, err = doc.AppendElement(pageID, element("e1"))
	require.NoError(t, err)
	assert.False(t, appended)
	assert.Len(t, doc.State().Elements, 1)
}

func TestAppendElementRejectsNonCurrentPage(t *testing.T) {
	doc := NewDocument()
	stale := doc.CurrentPageID()
	doc.AddPage()

	_, err := doc.AppendElement(stale, element("e1"))
	assert.ErrorIs(t, err, ErrWrongPage)
	assert.Empty(t, doc.State().Elements)
}

func TestClearPage(t *testing.T) {
	doc := NewDocument()
	pageID := doc.CurrentPageID()
	_, err := doc.AppendElement(pageID, element("e1"))
	require.NoError(t, err)

	require.NoError(t, doc.ClearPage(pageID))
	assert.Empty(t, doc.State().Elements)
}

func TestUndoLastRemovesNewest(t *testing.T) {
	doc := NewDocument()
	pageID := doc.CurrentPageID()
	for _, id := range []string{"e1", "e2", "e3"} {
		_, err := doc.AppendElement(pageID, element(id))
		require.NoError(t, err)
	}

	els, err := doc.UndoLast(pageID)
	require.NoError(t, err)
	require.Len(t, els, 2)
	assert.Equal(t, "e2", els[1].ID)
}

func TestUndoLastOnEmptyPageIsNoop(t *testing.T) {
	doc := NewDocument()
	els, err := doc.UndoLast(doc.CurrentPageID())
	require.NoError(t, err)
	assert.Empty(t, els)
	assert.Empty(t, doc.State().Elements)
}

func TestAddPageBecomesCurrent(t *testing.T) {
	doc := NewDocument()
	st := doc.AddPage()
	assert.Equal(t, 1, st.Current)
	assert.Equal(t, 2, st.Total)
	assert.Empty(t, st.Elements)
}

func TestDeleteLastPageRejected(t *testing.T) {
	doc := NewDocument()
	_, err := doc.DeletePage(0)
	assert.ErrorIs(t, err, ErrLastPage)
	assert.Equal(t, 1, doc.PageCount())
}

func TestDeletePage(t *testing.T) {
	tests := []struct {
		name        string
		pages       int
		navigate    int
		delete      int
		wantCurrent int
		wantTotal   int
	}{
		{name: "current last page", pages: 2, navigate: 1, delete: 1, wantCurrent: 0, wantTotal: 1},
		{name: "current first page", pages: 3, navigate: 0, delete: 0, wantCurrent: 0, wantTotal: 2},
		{name: "page before current", pages: 3, navigate: 2, delete: 0, wantCurrent: 1, wantTotal: 2},
		{name: "page after current", pages: 3, navigate: 0, delete: 2, wantCurrent: 0, wantTotal: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := NewDocument()
			for i := 1; i < tt.pages; i++ {
				doc.AddPage()
			}
			_, err := doc.Navigate(tt.navigate)
			require.NoError(t, err)

			st, err := doc.DeletePage(tt.delete)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCurrent, st.Current)
			assert.Equal(t, tt.wantTotal, st.Total)
		})
	}
}

func TestDeletePageKeepsCurrentPageContents(t *testing.T) {
	// The scenario from the sync protocol: draw on page 0, add page 1,
	// delete page 1 while it is current, and page 0's elements come back.
	doc := NewDocument()
	_, err := doc.AppendElement(doc.CurrentPageID(), element("e1"))
	require.NoError(t, err)
	doc.AddPage()

	st, err := doc.DeletePage(1)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 1, st.Total)
	require.Len(t, st.Elements, 1)
	assert.Equal(t, "e1", st.Elements[0].ID)
}

func TestNavigateOutOfRangeRejected(t *testing.T) {
	doc := NewDocument()
	doc.AddPage()

	for _, index := range []int{-1, 2, 99} {
		_, err := doc.Navigate(index)
		assert.ErrorIs(t, err, ErrOutOfRange)
	}
	assert.Equal(t, 1, doc.CurrentIndex())
}

func TestLoadPagesReplacesDocument(t *testing.T) {
	doc := NewDocument()
	doc.AddPage()

	pages := []Page{
		{ID: "p1", Elements: []Element{element("e1")}},
		{ID: "p2", Elements: []Element{}},
	}
	st := doc.LoadPages(pages)
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 2, st.Total)
	require.Len(t, st.Elements, 1)
	assert.Equal(t, "e1", st.Elements[0].ID)
}

func TestLoadPagesEmptyBehavesLikeReset(t *testing.T) {
	doc := NewDocument()
	doc.AddPage()

	st := doc.LoadPages(nil)
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 1, st.Total)
	assert.Empty(t, st.Elements)
}

func TestReset(t *testing.T) {
	doc := NewDocument()
	_, err := doc.AppendElement(doc.CurrentPageID(), element("e1"))
	require.NoError(t, err)
	doc.AddPage()

	st := doc.Reset()
	assert.Equal(t, 0, st.Current)
	assert.Equal(t, 1, st.Total)
	assert.Empty(t, st.Elements)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	doc := NewDocument()
	_, err := doc.AppendElement(doc.CurrentPageID(), element("e1"))
	require.NoError(t, err)

	snap := doc.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Elements[0].Points[0].X = 999

	assert.Equal(t, 1.0, doc.State().Elements[0].Points[0].X)
}
