package editstore

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "edits.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func textEdit(doc, id string) edit.Edit {
	return edit.NewText(doc, crdt.Element{ID: id, Char: "x", Visible: true}, time.Now())
}

func TestBoltStore_AppendAndPeekInOrder(t *testing.T) {
	s := newTestStore(t)

	var want []string
	for i := 0; i < 5; i++ {
		e := textEdit("case-1", fmt.Sprintf("p%d", i))
		require.NoError(t, s.Append(e))
		want = append(want, e.ID)
	}

	got, err := s.PeekAll("case-1")
	require.NoError(t, err)
	assert.Equal(t, want, edit.IDs(got))

	// peek does not remove
	n, err := s.Len("case-1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestBoltStore_AppendIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	first := textEdit("case-1", "a")
	second := textEdit("case-1", "b")
	require.NoError(t, s.Append(first))
	require.NoError(t, s.Append(second))
	require.NoError(t, s.Append(first))

	got, err := s.PeekAll("case-1")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, edit.IDs(got), "duplicate keeps its original position")
}

func TestBoltStore_ClearRemovesOnlyNamed(t *testing.T) {
	s := newTestStore(t)

	a, b, c := textEdit("case-1", "a"), textEdit("case-1", "b"), textEdit("case-1", "c")
	for _, e := range []edit.Edit{a, b, c} {
		require.NoError(t, s.Append(e))
	}

	require.NoError(t, s.Clear("case-1", []string{a.ID, c.ID, "unknown"}))

	got, err := s.PeekAll("case-1")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, edit.IDs(got))

	// a cleared id can be queued again
	require.NoError(t, s.Append(a))
	got, err = s.PeekAll("case-1")
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, edit.IDs(got))
}

func TestBoltStore_Partitions(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Append(textEdit("case-1", "a")))
	require.NoError(t, s.Append(edit.NewFields("case-2", map[string]any{"status": "draft"}, time.Now())))

	docs, err := s.Documents()
	require.NoError(t, err)
	assert.Equal(t, []string{"case-1", "case-2"}, docs)

	one, err := s.PeekAll("case-1")
	require.NoError(t, err)
	require.NoError(t, s.Clear("case-1", edit.IDs(one)))

	docs, err = s.Documents()
	require.NoError(t, err)
	assert.Equal(t, []string{"case-2"}, docs)

	empty, err := s.PeekAll("case-404")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestBoltStore_RejectsInvalidEdit(t *testing.T) {
	s := newTestStore(t)

	err := s.Append(edit.Edit{ID: "not-a-uuid", Document: "case-1", Kind: edit.KindText})
	assert.ErrorIs(t, err, edit.ErrInvalidEdit)
}

func TestBoltStore_ClosedDatabase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Append(textEdit("case-1", "a")), ErrStorageUnavailable)

	_, err := s.PeekAll("case-1")
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.ErrorIs(t, s.Clear("case-1", []string{"x"}), ErrStorageUnavailable)
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edits.db")
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := NewBoltStore(path, log)
	require.NoError(t, err)
	e := textEdit("case-1", "a")
	require.NoError(t, s.Append(e))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, log)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.PeekAll("case-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, *e.Element, *got[0].Element)
}

func TestBoltStore_ConcurrentAppendAndClear(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, s.Append(textEdit("case-1", fmt.Sprintf("w%d-%d", w, i))))
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			pending, err := s.PeekAll("case-1")
			assert.NoError(t, err)
			if len(pending) > 0 {
				assert.NoError(t, s.Clear("case-1", edit.IDs(pending[:1])))
			}
		}
	}()
	wg.Wait()

	pending, err := s.PeekAll("case-1")
	require.NoError(t, err)
	n, err := s.Len("case-1")
	require.NoError(t, err)
	assert.Equal(t, len(pending), n)
	assert.LessOrEqual(t, 90, n)
}
