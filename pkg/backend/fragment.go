package backend

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ritzau/knowledge-map/pkg/model"
)

// KeywordID is the node id shared by every answer mentioning keyword, so
// repeated keywords collapse into one node when fragments are merged.
// Keywords that differ only in case share an id. When the slug drops
// characters ("C++", "C#") a short name hash keeps the ids apart.
func KeywordID(keyword string) string {
	slug := Slug(keyword)
	if slug == "" {
		return ""
	}

	name := strings.ToLower(strings.TrimSpace(keyword))
	if strings.Join(strings.Fields(name), "-") == slug {
		return "k-" + slug
	}
	return "k-" + slug + "-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()[:8]
}

// BuildFragment turns one answered question into a graph fragment:
// question -> answer -> each keyword.
func BuildFragment(question, answer string, keywords []string) *model.Graph {
	return buildFragment(uuid.NewString(), question, answer, keywords)
}

func buildFragment(turnID, question, answer string, keywords []string) *model.Graph {
	questionID := "q-" + turnID
	answerID := "a-" + turnID

	g := model.NewGraph()
	g.Nodes = append(g.Nodes,
		&model.GraphNode{ID: questionID, Label: question, Type: model.NodeTypeQuestion},
		&model.GraphNode{ID: answerID, Label: answer, Type: model.NodeTypeAnswer},
	)
	g.Links = append(g.Links, model.NewLink(questionID, answerID))

	seen := make(map[string]bool, len(keywords))
	for _, keyword := range keywords {
		id := KeywordID(keyword)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		g.Nodes = append(g.Nodes, &model.GraphNode{ID: id, Label: keyword, Type: model.NodeTypeKeyword})
		g.Links = append(g.Links, model.NewLink(answerID, id))
	}
	return g
}
