package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/ritzau/knowledge-map/pkg/graph"
	"github.com/ritzau/knowledge-map/pkg/metrics"
	"github.com/ritzau/knowledge-map/pkg/model"
	"github.com/ritzau/knowledge-map/pkg/pubsub"
)

func fragment(nodes []*model.GraphNode, links ...model.GraphLink) *model.Graph {
	return &model.Graph{Nodes: nodes, Links: links}
}

func node(id, label string, nodeType model.NodeType) *model.GraphNode {
	return &model.GraphNode{ID: id, Label: label, Type: nodeType}
}

func nodeIDs(g *model.Graph) []string {
	out := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, n.ID)
	}
	return out
}

func linkKeys(g *model.Graph) []string {
	out := make([]string, 0, len(g.Links))
	for _, l := range g.Links {
		out = append(out, l.Key())
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func turn() *model.Graph {
	return fragment(
		[]*model.GraphNode{
			node("q-9", "What is a graph?", model.NodeTypeQuestion),
			node("a-9", "Nodes and links", model.NodeTypeAnswer),
			node("k-graph", "graph", model.NodeTypeKeyword),
		},
		model.NewLink("q-9", "a-9"),
		model.NewLink("a-9", "k-graph"),
	)
}

func TestMergeIdempotent(t *testing.T) {
	s := New()

	first := s.MergeGraph(turn())
	snapshot := s.Graph()
	second := s.MergeGraph(turn())
	after := s.Graph()

	if first.NodesAdded != 3 || first.LinksAdded != 2 {
		t.Errorf("Unexpected first merge result: %+v", first)
	}
	if second.Changed() {
		t.Errorf("Second merge should change nothing, got %+v", second)
	}
	if second.LinksDuplicate != 2 {
		t.Errorf("Expected 2 duplicate links on re-merge, got %d", second.LinksDuplicate)
	}
	if !equal(nodeIDs(snapshot), nodeIDs(after)) || !equal(linkKeys(snapshot), linkKeys(after)) {
		t.Errorf("Graph changed on re-merge: %v/%v -> %v/%v",
			nodeIDs(snapshot), linkKeys(snapshot), nodeIDs(after), linkKeys(after))
	}
}

func TestMergeAppendOnly(t *testing.T) {
	s := New(WithSeed(SampleGraph()))
	before := len(s.Graph().Nodes)

	fragments := []*model.Graph{
		turn(),
		fragment(nil),
		fragment([]*model.GraphNode{node("k-1", "Keywords", model.NodeTypeKeyword)}),
		fragment(nil, model.NewLink("q-1", "k-graph")),
	}

	for i, f := range fragments {
		s.MergeGraph(f)
		count := len(s.Graph().Nodes)
		if count < before {
			t.Fatalf("Merge %d shrank node set from %d to %d", i, before, count)
		}
		before = count
	}

	// Sample nodes keep their positions; new nodes follow in incoming order
	got := nodeIDs(s.Graph())
	want := []string{"q-1", "a-1", "q-2", "a-2", "k-1", "k-2", "k-3", "k-4", "q-9", "a-9", "k-graph"}
	if !equal(got, want) {
		t.Errorf("Node order = %v, want %v", got, want)
	}
}

func TestMergeUpdateByID(t *testing.T) {
	s := New(WithSeed(SampleGraph()))
	before := s.Graph()

	result := s.MergeGraph(fragment([]*model.GraphNode{
		node("a-1", "Conversation grows a map", model.NodeTypeAnswer),
	}))

	after := s.Graph()
	if result.NodesUpdated != 1 || result.NodesAdded != 0 {
		t.Errorf("Expected one update, got %+v", result)
	}
	if len(after.Nodes) != len(before.Nodes) {
		t.Errorf("Node count changed from %d to %d", len(before.Nodes), len(after.Nodes))
	}
	if after.Nodes[1].ID != "a-1" || after.Nodes[1].Label != "Conversation grows a map" {
		t.Errorf("Expected a-1 relabeled in place at index 1, got %+v", after.Nodes[1])
	}
}

func TestMergeUpdatesTypeInPlace(t *testing.T) {
	s := New()
	s.MergeGraph(fragment([]*model.GraphNode{node("x", "x", model.NodeTypeKeyword)}))
	s.MergeGraph(fragment([]*model.GraphNode{node("x", "x", model.NodeTypeAnswer)}))

	g := s.Graph()
	if len(g.Nodes) != 1 || g.Nodes[0].Type != model.NodeTypeAnswer {
		t.Errorf("Expected single node retyped to answer, got %+v", g.Nodes)
	}
}

func TestMergeEdgeDedup(t *testing.T) {
	s := New()
	nodes := []*model.GraphNode{node("a", "A", model.NodeTypeAnswer), node("b", "B", model.NodeTypeKeyword)}

	s.MergeGraph(fragment(nodes, model.NewLink("a", "b")))
	s.MergeGraph(fragment(nil, model.NewLink("a", "b")))
	s.MergeGraph(fragment(nil, model.NewLink("b", "a")))

	count := 0
	for _, key := range linkKeys(s.Graph()) {
		if key == "a->b" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("Expected exactly one a->b link, got %d", count)
	}
	if got := len(s.Graph().Links); got != 2 {
		t.Errorf("Expected reverse edge b->a to be kept, got %d links", got)
	}
}

func TestMergeDedupWithinFragment(t *testing.T) {
	s := New()
	result := s.MergeGraph(fragment(
		[]*model.GraphNode{
			node("k", "first", model.NodeTypeKeyword),
			node("k", "second", model.NodeTypeKeyword),
		},
		model.NewLink("k", "k"),
		model.NewLink("k", "k"),
	))

	g := s.Graph()
	if len(g.Nodes) != 1 || g.Nodes[0].Label != "second" {
		t.Errorf("Expected one node labeled by the last occurrence, got %+v", g.Nodes)
	}
	if result.LinksAdded != 1 || result.LinksDuplicate != 1 {
		t.Errorf("Unexpected link counts: %+v", result)
	}
}

func TestMergeResolvedAndUnresolvableLinks(t *testing.T) {
	a := node("a", "A", model.NodeTypeAnswer)
	s := New(WithSeed(&model.Graph{
		Nodes: []*model.GraphNode{a, node("b", "B", model.NodeTypeKeyword)},
		Links: []model.GraphLink{{Source: model.Ref(a), Target: model.RawID("b")}},
	}))

	result := s.MergeGraph(fragment(nil,
		model.NewLink("a", "b"),
		model.GraphLink{Source: model.Ref(&model.GraphNode{ID: "b"}), Target: model.Ref(a)},
		model.NewLink("", "b"),
		model.GraphLink{Source: model.Ref(nil), Target: model.RawID("a")},
	))

	if result.LinksDuplicate != 1 {
		t.Errorf("Expected resolved seed link to dedupe raw a->b, got %+v", result)
	}
	if result.LinksAdded != 1 || result.LinksUnresolvable != 2 {
		t.Errorf("Unexpected link counts: %+v", result)
	}

	g := s.Graph()
	last := g.Links[len(g.Links)-1]
	if last.Source.IsRef() || last.Target.IsRef() || last.Key() != "b->a" {
		t.Errorf("Expected appended link stored with raw ids b->a, got %q", last.Key())
	}
}

func TestMergeKeepsDanglingLinks(t *testing.T) {
	s := New()
	result := s.MergeGraph(fragment(nil, model.NewLink("ghost", "phantom")))
	if result.LinksAdded != 1 {
		t.Errorf("Referential integrity is not enforced at merge time, got %+v", result)
	}
}

func TestMergeSkipsNodesWithoutID(t *testing.T) {
	s := New()
	result := s.MergeGraph(fragment([]*model.GraphNode{nil, node("", "no id", model.NodeTypeKeyword)}))
	if result.NodesInvalid != 2 || len(s.Graph().Nodes) != 0 {
		t.Errorf("Expected invalid nodes skipped, got %+v", result)
	}
}

func TestMergeDoesNotAliasFragment(t *testing.T) {
	s := New()
	f := turn()
	s.MergeGraph(f)
	f.Nodes[0].Label = "mutated by caller"

	if s.Graph().Nodes[0].Label != "What is a graph?" {
		t.Error("Store node aliases the caller's fragment")
	}
}

func TestSnapshotIsolation(t *testing.T) {
	s := New(WithSeed(SampleGraph()))
	snapshot := s.Graph()
	snapshot.Nodes[0].Label = "changed"
	snapshot.Nodes = snapshot.Nodes[:1]

	if g := s.Graph(); len(g.Nodes) != 8 || g.Nodes[0].Label != "How does context expand?" {
		t.Error("Mutating a snapshot leaked into the store")
	}
}

func TestMessageLifecycle(t *testing.T) {
	s := New()
	s.AddMessage(model.ChatMessage{ID: "u1", Role: model.RoleUser, Content: "Hello"})
	s.AddMessage(model.ChatMessage{ID: "r1", Role: model.RoleAssistant, Content: "...", Status: model.StatusPending})

	content := "Hi"
	status := model.StatusComplete
	if !s.UpdateMessage("r1", model.MessageUpdate{Content: &content, Status: &status, Keywords: []string{"greeting"}}) {
		t.Fatal("Expected update to match r1")
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "Hello" || msgs[0].Status != "" {
		t.Errorf("User message changed: %+v", msgs[0])
	}
	if msgs[1].Content != "Hi" || msgs[1].Status != model.StatusComplete || msgs[1].Keywords[0] != "greeting" {
		t.Errorf("Assistant message not updated: %+v", msgs[1])
	}
}

func TestUpdateUnknownMessageIsNoop(t *testing.T) {
	s := New()
	s.AddMessage(model.ChatMessage{ID: "u1", Role: model.RoleUser, Content: "Hello"})

	content := "x"
	if s.UpdateMessage("missing", model.MessageUpdate{Content: &content}) {
		t.Error("Expected no match for unknown id")
	}
	if msgs := s.Messages(); len(msgs) != 1 || msgs[0].Content != "Hello" {
		t.Errorf("Transcript changed: %+v", msgs)
	}
}

func TestAddMessageAllowsDuplicateIDs(t *testing.T) {
	s := New()
	s.AddMessage(model.ChatMessage{ID: "same", Role: model.RoleUser, Content: "a"})
	s.AddMessage(model.ChatMessage{ID: "same", Role: model.RoleUser, Content: "b"})

	if got := len(s.Messages()); got != 2 {
		t.Errorf("Expected 2 messages, got %d", got)
	}
}

func TestFocusClearIndependentOfGraph(t *testing.T) {
	s := New(WithSeed(SampleGraph()))
	g := s.Graph()

	before := graph.Neighbors("a-1", g)
	s.SetFocus(model.FocusContext{Node: g.Nodes[1], Neighbors: before})
	if s.Focus() == nil || s.Focus().Node.ID != "a-1" {
		t.Fatalf("Expected focus on a-1, got %+v", s.Focus())
	}

	s.ClearFocus()
	if s.Focus() != nil {
		t.Errorf("Expected focus absent after clear, got %+v", s.Focus())
	}

	after := graph.Neighbors("a-1", s.Graph())
	if len(after) != len(before) || len(after) != 3 {
		t.Errorf("Neighbor query affected by focus state: before %d, after %d", len(before), len(after))
	}
}

func TestSetFocusDoesNotValidate(t *testing.T) {
	s := New()
	s.SetFocus(model.FocusContext{Node: node("nowhere", "x", model.NodeTypeKeyword)})
	if s.Focus() == nil || s.Focus().Node.ID != "nowhere" {
		t.Error("SetFocus should accept nodes outside the graph")
	}
}

func TestFocusNode(t *testing.T) {
	s := New(WithSeed(SampleGraph()))

	focus, err := s.FocusNode("k-3")
	if err != nil {
		t.Fatalf("FocusNode failed: %v", err)
	}

	var got []string
	for _, n := range focus.Neighbors {
		got = append(got, n.ID)
	}
	if focus.Node.Label != "Bloom" || !equal(got, []string{"a-2", "k-1"}) {
		t.Errorf("Unexpected focus: node %s neighbors %v", focus.Node.ID, got)
	}

	if _, err := s.FocusNode("nope"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Expected ErrNodeNotFound, got %v", err)
	}
	if s.Focus().Node.ID != "k-3" {
		t.Error("Failed focus lookup should keep the previous focus")
	}
}

func TestStorePublishesEvents(t *testing.T) {
	pub := pubsub.NewSSEPublisher()
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := pub.Subscribe(ctx, pubsub.TopicGraph)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	s := New(WithPublisher(pub))
	s.MergeGraph(turn())
	s.MergeGraph(turn()) // no change, no event

	select {
	case event := <-sub.Events():
		var payload pubsub.GraphMerged
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if payload.NodesAdded != 3 || payload.TotalLinks != 2 {
			t.Errorf("Unexpected payload: %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for merge event")
	}

	select {
	case event := <-sub.Events():
		t.Errorf("Unexpected event for no-op merge: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStoreRecordsMetrics(t *testing.T) {
	c := metrics.NewCollector("test")
	s := New(WithSeed(SampleGraph()), WithMetrics(c))

	s.MergeGraph(fragment(nil, model.NewLink("q-1", "a-1"), model.NewLink("", "x")))

	if got := testutil.ToFloat64(c.GraphNodes); got != 8 {
		t.Errorf("Expected graph_nodes 8, got %v", got)
	}
	if got := testutil.ToFloat64(c.LinksSkipped.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("Expected 1 duplicate skip, got %v", got)
	}
	if got := testutil.ToFloat64(c.LinksSkipped.WithLabelValues("unresolvable")); got != 1 {
		t.Errorf("Expected 1 unresolvable skip, got %v", got)
	}
}

func TestLoadGraphFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	data := `{"nodes":[{"id":"q","label":"Q","type":"question"}],"links":[{"source":"q","target":{"id":"q"}}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := LoadGraphFile(path)
	if err != nil {
		t.Fatalf("LoadGraphFile failed: %v", err)
	}
	if len(g.Nodes) != 1 || g.Links[0].Key() != "q->q" {
		t.Errorf("Unexpected graph: %v %v", nodeIDs(g), linkKeys(g))
	}

	if _, err := LoadGraphFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestSeedIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	data := `{"nodes":[{"id":"a","label":"A","type":"keyword"},null,{"id":"a","label":"A2","type":"keyword"},{"id":""},{"id":"b","label":"B","type":"keyword"}],
		"links":[{"source":"a","target":"b"},{"source":"a","target":"b"},{"source":1,"target":"b"},{"source":"b","target":"a"}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	g, err := LoadGraphFile(path)
	if err != nil {
		t.Fatalf("LoadGraphFile failed: %v", err)
	}

	s := New(WithSeed(g))
	got := s.Graph()
	if !equal(nodeIDs(got), []string{"a", "b"}) {
		t.Errorf("Expected unique seed nodes [a b], got %v", nodeIDs(got))
	}
	if !equal(linkKeys(got), []string{"a->b", "b->a"}) {
		t.Errorf("Expected unique seed links, got %v", linkKeys(got))
	}
	if got.Nodes[0].Label != "A2" {
		t.Errorf("Expected last label for a repeated id, got %q", got.Nodes[0].Label)
	}

	result := s.MergeGraph(fragment([]*model.GraphNode{node("a", "A3", model.NodeTypeKeyword)}))
	if result.NodesUpdated != 1 || len(s.Graph().Nodes) != 2 {
		t.Errorf("Expected in-place update of the single seeded a, got %+v", result)
	}
}
