package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
	"clinsync/internal/domain/message"
)

func TestMessageRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository()

	_, err := repo.Get(ctx, "case-1")
	require.ErrorIs(t, err, message.ErrNotFound)

	e := edit.NewText("case-1", crdt.Element{ID: "a1", Char: "H", Visible: true}, time.Now())
	state, err := edit.Apply(crdt.Empty(crdt.KindText), e)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, message.Change{Document: "case-1", State: state, Edits: []edit.Edit{e}, Created: true}))

	doc, err := repo.Get(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "H", doc.State.Render())

	doc.State.Text[0].Visible = false
	again, err := repo.Get(ctx, "case-1")
	require.NoError(t, err)
	assert.Equal(t, "H", again.State.Render(), "stored state must not alias returned state")

	seen, err := repo.Seen(ctx, []string{e.ID, "other"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{e.ID: true}, seen)
}
