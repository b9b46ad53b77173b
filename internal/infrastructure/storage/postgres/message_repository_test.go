package postgres

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"clinsync/internal/app/server/config"
	"clinsync/internal/domain/crdt"
	"clinsync/internal/domain/edit"
	"clinsync/internal/domain/message"
)

// Runs against a real database when TEST_DATABASE_URI is set.
func newTestRepository(t *testing.T) *MessageRepository {
	t.Helper()
	uri := os.Getenv("TEST_DATABASE_URI")
	if uri == "" {
		t.Skip("TEST_DATABASE_URI not set")
	}

	_, file, _, _ := runtime.Caller(0)
	cfg := &config.Config{DB: config.DB{
		DatabaseURI: uri,
		Migrations:  filepath.Join(filepath.Dir(file), "..", "..", "..", "..", "migrations"),
	}}

	ctx := context.Background()
	st, err := New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = st.Pool().Exec(ctx, `TRUNCATE documents CASCADE`)
		_ = st.Close()
	})
	return NewMessageRepository(st.Pool(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMessageRepository_RoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Ping(ctx))

	_, err := repo.Get(ctx, "case-1-meta")
	require.ErrorIs(t, err, message.ErrNotFound)

	e := edit.NewFields("case-1-meta", map[string]any{"status": "submitted", "owner": "Dr. Lee"}, time.Now())
	state, err := edit.Apply(crdt.Empty(crdt.KindJSON), e)
	require.NoError(t, err)

	change := message.Change{Document: "case-1-meta", State: state, Edits: []edit.Edit{e}, Created: true}
	require.NoError(t, repo.Save(ctx, change))
	require.NoError(t, repo.Save(ctx, change))

	doc, err := repo.Get(ctx, "case-1-meta")
	require.NoError(t, err)
	assert.True(t, state.Equal(doc.State))

	seen, err := repo.Seen(ctx, []string{e.ID, "b8a0f1a4-94d5-4a0e-9a3b-4b2c8d1f0e11"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{e.ID: true}, seen)
}
