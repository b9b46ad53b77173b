package crdt

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_TextScenario(t *testing.T) {
	local := NewText(Element{ID: "a", Char: "H", Visible: true})
	remote := NewText(
		Element{ID: "a", Char: "H", Visible: true},
		Element{ID: "b", Char: "i", Visible: true},
	)

	merged, err := Merge(local, remote)
	require.NoError(t, err)
	assert.Equal(t, "Hi", merged.Render())
	assert.Len(t, merged.Text, 2)
}

func TestMerge_JSONScenario(t *testing.T) {
	local := NewJSON(map[string]any{"status": "draft"})
	remote := NewJSON(map[string]any{"status": "submitted", "owner": "Dr.Lee"})

	merged, err := Merge(local, remote)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "submitted", "owner": "Dr.Lee"}, merged.Fields)
	assert.Nil(t, merged.Revisions)
}

func TestMerge_JSONRevisions(t *testing.T) {
	tests := []struct {
		name   string
		local  ReplicaState
		remote ReplicaState
		want   any
	}{
		{
			name:   "newer local revision is kept",
			local:  ReplicaState{Kind: KindJSON, Fields: map[string]any{"status": "signed"}, Revisions: map[string]int64{"status": 20}},
			remote: ReplicaState{Kind: KindJSON, Fields: map[string]any{"status": "draft"}, Revisions: map[string]int64{"status": 10}},
			want:   "signed",
		},
		{
			name:   "newer remote revision wins",
			local:  ReplicaState{Kind: KindJSON, Fields: map[string]any{"status": "draft"}, Revisions: map[string]int64{"status": 10}},
			remote: ReplicaState{Kind: KindJSON, Fields: map[string]any{"status": "signed"}, Revisions: map[string]int64{"status": 20}},
			want:   "signed",
		},
		{
			name:   "equal revisions go to remote",
			local:  ReplicaState{Kind: KindJSON, Fields: map[string]any{"status": "a"}, Revisions: map[string]int64{"status": 10}},
			remote: ReplicaState{Kind: KindJSON, Fields: map[string]any{"status": "b"}, Revisions: map[string]int64{"status": 10}},
			want:   "b",
		},
		{
			name:   "remote without revision overwrites",
			local:  ReplicaState{Kind: KindJSON, Fields: map[string]any{"status": "a"}, Revisions: map[string]int64{"status": 99}},
			remote: NewJSON(map[string]any{"status": "b"}),
			want:   "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := Merge(tt.local, tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.want, merged.Fields["status"])
		})
	}
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	local := NewText(Element{ID: "b", Char: "x", Visible: true})
	remote := NewText(Element{ID: "a", Char: "y", Visible: false}, Element{ID: "b", Char: "x", Visible: false})
	localCopy, remoteCopy := local.Clone(), remote.Clone()

	_, err := MergeWith(local, remote, TombstoneWins)
	require.NoError(t, err)
	assert.True(t, local.Equal(localCopy))
	assert.True(t, remote.Equal(remoteCopy))
}

func TestMerge_VisibilityPolicies(t *testing.T) {
	shown := NewText(Element{ID: "a", Char: "x", Visible: true})
	hidden := NewText(Element{ID: "a", Char: "x", Visible: false})

	merged, err := MergeWith(shown, hidden, VisibleWins)
	require.NoError(t, err)
	assert.Equal(t, "x", merged.Render())

	merged, err = MergeWith(shown, hidden, TombstoneWins)
	require.NoError(t, err)
	assert.Equal(t, "", merged.Render())
}

func TestMerge_TombstoneDurability(t *testing.T) {
	a := NewText(Element{ID: "a", Char: "x", Visible: false}, Element{ID: "b", Char: "y", Visible: true})
	b := NewText(Element{ID: "a", Char: "x", Visible: false})

	for _, policy := range []Policy{VisibleWins, TombstoneWins} {
		merged, err := MergeWith(a, b, policy)
		require.NoError(t, err)
		again, err := MergeWith(merged, NewText(Element{ID: "b", Char: "y", Visible: true}), policy)
		require.NoError(t, err)
		assert.Equal(t, "y", again.Render(), policy.String())
	}
}

func TestMerge_KindMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = Merge(Empty(KindText), Empty(KindJSON))
	})
	assert.ErrorIs(t, CheckKind(Empty(KindText), Empty(KindJSON)), ErrKindMismatch)
}

func TestMerge_MalformedInputRejected(t *testing.T) {
	tests := []struct {
		name   string
		local  ReplicaState
		remote ReplicaState
		side   string
		field  string
	}{
		{
			name:   "missing id",
			local:  NewText(Element{ID: "a", Char: "x", Visible: true}),
			remote: ReplicaState{Kind: KindText, Text: []Element{{Char: "y", Visible: true}}},
			side:   "remote",
			field:  "id",
		},
		{
			name:   "missing char",
			local:  ReplicaState{Kind: KindText, Text: []Element{{ID: "a", Visible: true}}},
			remote: NewText(),
			side:   "local",
			field:  "char",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, err := Merge(tt.local, tt.remote)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)

			var me *MalformedError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.side, me.Side)
			assert.Equal(t, tt.field, me.Field)
			assert.Empty(t, merged.Text)
		})
	}
}

func TestReplicaState_UnmarshalJSON(t *testing.T) {
	t.Run("text", func(t *testing.T) {
		var s ReplicaState
		err := json.Unmarshal([]byte(`{"type":"text","data":[{"id":"b","char":"i","visible":true},{"id":"a","char":"H","visible":true}]}`), &s)
		require.NoError(t, err)
		assert.Equal(t, KindText, s.Kind)
		assert.Equal(t, "Hi", s.Render())
	})

	t.Run("json", func(t *testing.T) {
		var s ReplicaState
		err := json.Unmarshal([]byte(`{"type":"json","data":{"status":"draft"},"revisions":{"status":7}}`), &s)
		require.NoError(t, err)
		assert.Equal(t, "draft", s.Fields["status"])
		assert.Equal(t, int64(7), s.Revisions["status"])
	})

	t.Run("empty data", func(t *testing.T) {
		var s ReplicaState
		require.NoError(t, json.Unmarshal([]byte(`{"type":"text"}`), &s))
		assert.Equal(t, "", s.Render())
	})

	missing := map[string]string{
		"id":      `{"type":"text","data":[{"char":"H","visible":true}]}`,
		"char":    `{"type":"text","data":[{"id":"a","visible":true}]}`,
		"visible": `{"type":"text","data":[{"id":"a","char":"H"}]}`,
	}
	for field, body := range missing {
		t.Run("missing "+field, func(t *testing.T) {
			var s ReplicaState
			err := json.Unmarshal([]byte(body), &s)
			var me *MalformedError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, field, me.Field)
			assert.Equal(t, 0, me.Index)
		})
	}

	t.Run("unknown type", func(t *testing.T) {
		var s ReplicaState
		err := json.Unmarshal([]byte(`{"type":"xml","data":[]}`), &s)
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestReplicaState_MarshalRoundTrip(t *testing.T) {
	in := NewText(Element{ID: "a", Char: "H", Visible: true}, Element{ID: "b", Char: "i", Visible: false})
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"text","data":[{"id":"a","char":"H","visible":true},{"id":"b","char":"i","visible":false}]}`, string(data))

	var out ReplicaState
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.Equal(out))

	empty, err := json.Marshal(Empty(KindJSON))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"json","data":{}}`, string(empty))
}

// randomStates draws n text replicas from a shared pool of ids so that
// replicas overlap and disagree on visibility.
func randomStates(r *rand.Rand, n int) []ReplicaState {
	pool := make([]Element, 12)
	for i := range pool {
		pool[i] = Element{ID: fmt.Sprintf("%c%d", 'a'+r.Intn(6), r.Intn(100)), Char: string(rune('a' + r.Intn(26)))}
	}

	states := make([]ReplicaState, n)
	for i := range states {
		var elems []Element
		seen := map[string]bool{}
		for _, e := range pool {
			if r.Intn(2) == 0 || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			e.Visible = r.Intn(3) != 0
			elems = append(elems, e)
		}
		states[i] = NewText(elems...)
	}
	return states
}

func mustMerge(t *testing.T, a, b ReplicaState, p Policy) ReplicaState {
	t.Helper()
	m, err := MergeWith(a, b, p)
	require.NoError(t, err)
	return m
}

func TestMerge_TextProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for _, policy := range []Policy{VisibleWins, TombstoneWins} {
		t.Run(policy.String(), func(t *testing.T) {
			for i := 0; i < 300; i++ {
				s := randomStates(r, 3)
				a, b, c := s[0], s[1], s[2]

				ab := mustMerge(t, a, b, policy)
				ba := mustMerge(t, b, a, policy)
				assert.True(t, ab.Equal(ba), "commutativity: %v vs %v", ab.Text, ba.Text)
				assert.Equal(t, ab.Render(), ba.Render())

				left := mustMerge(t, ab, c, policy)
				right := mustMerge(t, a, mustMerge(t, b, c, policy), policy)
				assert.True(t, left.Equal(right), "associativity: %v vs %v", left.Text, right.Text)

				assert.True(t, mustMerge(t, a, a, policy).Equal(a), "idempotence: %v", a.Text)
			}
		})
	}
}
