package shell

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marginalia/internal/content"
	"marginalia/internal/highlight"
	"marginalia/internal/selection"
)

// doc is <p>The quick <b>brown</b> fox</p>.
func doc() content.Node {
	return content.NewContainer("p", nil,
		content.NewText("The quick "),
		content.NewContainer("b", nil, content.NewText("brown")),
		content.NewText(" fox"),
	)
}

func newShell(t *testing.T) (*Shell, *highlight.Store, *int) {
	t.Helper()
	store := highlight.NewStore(nil, zerolog.Nop())
	cleared := 0
	s := New("doc1", doc(), store, selection.ClearerFunc(func() { cleared++ }), zerolog.Nop())
	t.Cleanup(s.Close)
	return s, store, &cleared
}

func rawRange(anchorPath []int, anchor int, focusPath []int, focus int) selection.Raw {
	return selection.Raw{
		Anchor: selection.Point{Path: anchorPath, Offset: anchor},
		Focus:  selection.Point{Path: focusPath, Offset: focus},
	}
}

func TestShell_SelectCommentRender(t *testing.T) {
	s, store, cleared := newShell(t)
	s.Render()

	res, ok := s.HandlePointerUp(rawRange([]int{0}, 4, []int{1, 0}, 5))
	require.True(t, ok)
	assert.Equal(t, "quick brown", res.Text)
	assert.Equal(t, 1, *cleared)
	assert.True(t, store.IsComposerOpen())
	assert.Equal(t, &highlight.PendingSelection{DocumentID: s.DocumentID(), Text: "quick brown", StartOffset: 4, EndOffset: 15}, store.PendingSelection())

	h, ok := store.AddComment("note", "Ana", "u1", s.DocumentID())
	require.True(t, ok)

	out, err := content.RenderHTML(s.Render())
	require.NoError(t, err)
	assert.Equal(t,
		`<p>The <mark class="highlight highlight--active" data-highlight-id="`+h.ID+`">quick </mark>`+
			`<b><mark class="highlight highlight--active" data-highlight-id="`+h.ID+`">brown</mark></b> fox</p>`,
		out,
	)
}

func TestShell_CaptureDisabledWhileComposerOpen(t *testing.T) {
	s, store, _ := newShell(t)

	_, ok := s.HandlePointerUp(rawRange([]int{0}, 0, []int{0}, 3))
	require.True(t, ok)
	first := store.PendingSelection()

	_, ok = s.HandlePointerUp(rawRange([]int{2}, 1, []int{2}, 4))
	assert.False(t, ok)
	assert.Equal(t, first, store.PendingSelection(), "pending selection is not replaced mid-composition")

	store.CloseComposer()
	_, ok = s.HandlePointerUp(rawRange([]int{2}, 1, []int{2}, 4))
	assert.True(t, ok)
}

func TestShell_CaptureAgainstRenderedTree(t *testing.T) {
	s, store, _ := newShell(t)
	store.SetPendingSelection(&highlight.PendingSelection{Text: "The", StartOffset: 0, EndOffset: 3})
	_, ok := store.AddComment("article", "Ana", "u1", "doc1")
	require.True(t, ok)
	s.Render()

	// p > [mark "The", " quick ", b, " fox"]; select inside " quick ".
	res, ok := s.HandlePointerUp(rawRange([]int{1}, 1, []int{1}, 6))
	require.True(t, ok)
	assert.Equal(t, "quick", res.Text)
	assert.Equal(t, 4, res.StartOffset)
	assert.Equal(t, 9, res.EndOffset)
}

func TestShell_HandleClick(t *testing.T) {
	s, store, _ := newShell(t)
	store.SetPendingSelection(&highlight.PendingSelection{Text: "brown", StartOffset: 10, EndOffset: 15})
	h, ok := store.AddComment("colour", "Ana", "u1", "doc1")
	require.True(t, ok)
	store.SetActiveHighlight("")
	s.Render()

	assert.True(t, s.HandleClick([]int{1, 0, 0}), "p > b > mark > text")
	assert.Equal(t, h.ID, store.ActiveHighlightID())

	assert.False(t, s.HandleClick([]int{2}))
	assert.Empty(t, store.ActiveHighlightID(), "a click outside every highlight deselects")
}

func TestShell_OtherDocumentsAreIgnored(t *testing.T) {
	s, store, _ := newShell(t)
	store.SetPendingSelection(&highlight.PendingSelection{Text: "The", StartOffset: 0, EndOffset: 3})
	_, ok := store.AddComment("elsewhere", "Ana", "u1", "doc2")
	require.True(t, ok)

	out := s.Render()
	assert.Equal(t, content.PlainText(doc()), content.PlainText(out))
	_, isText := out.(*content.Container).Children[0].(*content.Text)
	assert.True(t, isText)
}

func TestShell_SetContent(t *testing.T) {
	s, store, _ := newShell(t)
	store.SetPendingSelection(&highlight.PendingSelection{Text: "The", StartOffset: 0, EndOffset: 3})
	_, ok := store.AddComment("note", "Ana", "u1", "doc1")
	require.True(t, ok)

	s.SetContent(content.NewContainer("p", nil, content.NewText("A different text")))
	out, err := content.RenderHTML(s.Render())
	require.NoError(t, err)
	assert.Contains(t, out, `>A d</mark>ifferent text</p>`, "offsets apply to the new text as they are")
}

func TestShell_Close(t *testing.T) {
	s, store, _ := newShell(t)
	s.Close()

	store.OpenComposer()
	_, ok := s.HandlePointerUp(rawRange([]int{0}, 0, []int{0}, 3))
	assert.True(t, ok, "a detached shell no longer follows the composer state")
}
