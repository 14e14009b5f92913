package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/recera/scattershare/pkg/point"
	"github.com/recera/scattershare/pkg/render"
	"github.com/recera/scattershare/pkg/resolve"
)

// scriptedResolver answers links from a table.
type scriptedResolver struct {
	answers map[string]resolve.Result
	errs    map[string]error
	seen    []string
}

func (s *scriptedResolver) ResolveURL(_ context.Context, link string) (resolve.Result, error) {
	s.seen = append(s.seen, link)
	if err, ok := s.errs[link]; ok {
		return resolve.Result{}, err
	}
	return s.answers[link], nil
}

var sample = point.Dataset{
	{X: 0, Y: 0, Z: 0, Label: "a"},
	{X: 1, Y: 2, Z: 3, Label: "b"},
	{X: -1, Y: 4, Z: 1, Label: "c"},
}

func newScripted() *scriptedResolver {
	return &scriptedResolver{
		answers: map[string]resolve.Result{
			"l1":    {Outcome: resolve.Waiting, Source: resolve.SourceChunks, Received: 1, Total: 3},
			"l2":    {Outcome: resolve.Waiting, Source: resolve.SourceChunks, Received: 2, Total: 3},
			"l3":    {Outcome: resolve.Loaded, Source: resolve.SourceChunks, Received: 3, Total: 3, Dataset: sample},
			"plain": {Outcome: resolve.NoOp},
		},
		errs: map[string]error{"bad": errors.New("codec: decode failed")},
	}
}

// submit types line into the model and runs the resulting resolve command.
func submit(t *testing.T, m CollectModel, line string) CollectModel {
	t.Helper()
	m.input.SetValue(line)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(CollectModel)
	if m.state != stateResolving {
		t.Fatalf("state after enter = %v", m.state)
	}
	if cmd == nil {
		t.Fatal("enter produced no command")
	}
	next, _ = m.Update(cmd())
	return next.(CollectModel)
}

func TestCollect_OneByOne(t *testing.T) {
	r := newScripted()
	m := NewCollectModel(context.Background(), r, render.DefaultViewConfig())

	m = submit(t, m, "l1")
	if m.received != 1 || m.total != 3 || m.state != stateInput {
		t.Fatalf("after l1: %d/%d state %v", m.received, m.total, m.state)
	}
	if _, ok := m.Result(); ok {
		t.Fatal("result before completion")
	}

	m = submit(t, m, "l2")
	m = submit(t, m, "l3")
	res, ok := m.Result()
	if !ok || m.state != stateDone || !res.Dataset.Equal(sample) {
		t.Fatalf("not finished: state %v, result %+v", m.state, res)
	}
	if !strings.Contains(m.View(), "loaded 3 points") {
		t.Errorf("view = %q", m.View())
	}

	// Any key ends the finished screen.
	if _, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")}); cmd == nil {
		t.Error("expected quit")
	}
}

func TestCollect_SeveralLinksAtOnce(t *testing.T) {
	r := newScripted()
	m := NewCollectModel(context.Background(), r, render.DefaultViewConfig())

	m = submit(t, m, "l2 l1   l3 l1")
	if _, ok := m.Result(); !ok {
		t.Fatal("expected a result")
	}
	// Resolution stops at the completing link.
	if strings.Join(r.seen, ",") != "l2,l1,l3" {
		t.Errorf("resolved %v", r.seen)
	}
}

func TestCollect_Errors(t *testing.T) {
	r := newScripted()
	m := NewCollectModel(context.Background(), r, render.DefaultViewConfig())

	m = submit(t, m, "bad")
	if m.state != stateInput || len(m.log) != 1 || !strings.Contains(m.log[0], "decode failed") {
		t.Errorf("after bad link: state %v, log %q", m.state, m.log)
	}

	m = submit(t, m, "plain")
	if !strings.Contains(m.log[len(m.log)-1], ErrNoShare.Error()) {
		t.Errorf("log = %q", m.log)
	}

	// Progress made before a failing link is kept.
	m = submit(t, m, "l1 bad")
	if m.received != 1 || m.total != 3 {
		t.Errorf("progress = %d/%d", m.received, m.total)
	}
}

func TestCollect_EmptySubmitAndQuit(t *testing.T) {
	m := NewCollectModel(context.Background(), newScripted(), render.DefaultViewConfig())

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd != nil || next.(CollectModel).state != stateInput {
		t.Error("empty input should do nothing")
	}

	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil || !next.(CollectModel).quitting {
		t.Error("esc should quit")
	}
	if next.View() != "" {
		t.Error("view should be empty after quitting")
	}
}

func TestPreview(t *testing.T) {
	out := Preview(sample, render.DefaultViewConfig(), 40, 12)
	if !strings.Contains(out, "+") {
		t.Errorf("frame corners missing:\n%s", out)
	}
	if !strings.ContainsAny(out, "●•·") {
		t.Errorf("points missing:\n%s", out)
	}
	if n := len(strings.Split(out, "\n")); n < 5 {
		t.Errorf("preview has %d lines", n)
	}
}
