// Package crdt implements the replicated document values exchanged by the
// sync engine and the pure merge that reconciles them.
//
// Text documents are RGA-style sequences: every character is an Element
// with a globally unique id, the document order is the lexicographic order
// of ids and deletions only hide elements. JSON documents are flat maps
// merged last-writer-wins.
package crdt

import (
	"fmt"
	"sort"
	"strings"
)

// Policy decides the visibility of an element observed with conflicting
// flags.
type Policy int

const (
	// VisibleWins keeps a character visible if any replica shows it.
	VisibleWins Policy = iota
	// TombstoneWins makes deletions sticky: one tombstone hides the
	// character for good.
	TombstoneWins
)

func (p Policy) String() string {
	switch p {
	case VisibleWins:
		return "visible-wins"
	case TombstoneWins:
		return "tombstone-wins"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts "visible-wins" and "tombstone-wins". An empty string
// selects VisibleWins.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "visible-wins":
		return VisibleWins, nil
	case "tombstone-wins":
		return TombstoneWins, nil
	default:
		return 0, fmt.Errorf("crdt: unknown tombstone policy %q", s)
	}
}

// CheckKind returns ErrKindMismatch when the two states cannot be merged.
// Callers holding untrusted input check this before calling Merge.
func CheckKind(local, remote ReplicaState) error {
	if local.Kind != remote.Kind {
		return fmt.Errorf("%w: %q and %q", ErrKindMismatch, local.Kind, remote.Kind)
	}
	return nil
}

// Merge reconciles two replicas using VisibleWins.
func Merge(local, remote ReplicaState) (ReplicaState, error) {
	return MergeWith(local, remote, VisibleWins)
}

// MergeWith reconciles two replicas of the same kind into a new state.
// Merging states of different kinds is a programming error and panics.
// Malformed input rejects the whole merge with a *MalformedError.
func MergeWith(local, remote ReplicaState, policy Policy) (ReplicaState, error) {
	if err := CheckKind(local, remote); err != nil {
		panic(err)
	}
	if err := local.validate("local"); err != nil {
		return ReplicaState{}, err
	}
	if err := remote.validate("remote"); err != nil {
		return ReplicaState{}, err
	}

	if local.Kind == KindText {
		return ReplicaState{Kind: KindText, Text: mergeText(local.Text, remote.Text, policy)}, nil
	}
	return mergeJSON(local, remote), nil
}

func mergeText(local, remote []Element, policy Policy) []Element {
	byID := make(map[string]Element, len(local)+len(remote))
	observe := func(e Element) {
		prev, ok := byID[e.ID]
		if !ok {
			byID[e.ID] = e
			return
		}
		byID[e.ID] = combine(prev, e, policy)
	}
	for _, e := range local {
		observe(e)
	}
	for _, e := range remote {
		observe(e)
	}

	out := make([]Element, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sortElements(out)
	return out
}

// combine is commutative and associative in both policies: OR/AND over
// visibility and max over the character.
func combine(a, b Element, policy Policy) Element {
	out := a
	if b.Char > out.Char {
		out.Char = b.Char
	}
	switch policy {
	case TombstoneWins:
		out.Visible = a.Visible && b.Visible
	default:
		out.Visible = a.Visible || b.Visible
	}
	return out
}

// mergeJSON is a shallow right-biased union. A key defined on both sides
// keeps the local value only when both carry a revision and the local one
// is strictly newer.
func mergeJSON(local, remote ReplicaState) ReplicaState {
	out := ReplicaState{Kind: KindJSON}
	if len(local.Fields)+len(remote.Fields) > 0 {
		out.Fields = make(map[string]any, len(local.Fields)+len(remote.Fields))
	}
	revs := make(map[string]int64)

	for k, v := range local.Fields {
		out.Fields[k] = v
		if r, ok := local.Revisions[k]; ok {
			revs[k] = r
		}
	}
	for k, v := range remote.Fields {
		rr, rok := remote.Revisions[k]
		if _, exists := local.Fields[k]; exists {
			if lr, lok := local.Revisions[k]; lok && rok && lr > rr {
				continue
			}
		}
		out.Fields[k] = v
		if rok {
			revs[k] = rr
		} else {
			delete(revs, k)
		}
	}

	if len(revs) > 0 {
		out.Revisions = revs
	}
	return out
}

func sortElements(elems []Element) {
	sort.SliceStable(elems, func(i, j int) bool { return elems[i].ID < elems[j].ID })
}
