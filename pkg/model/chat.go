package model

// ChatRequest is the body posted to /api/chat
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// ChatResponse is the success body of /api/chat. Graph may be nil or have
// no nodes, in which case there is nothing to merge.
type ChatResponse struct {
	Status   string   `json:"status"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Keywords []string `json:"keywords"`
	Graph    *Graph   `json:"graph"`
}

// HasGraph returns true if the response carries nodes to merge
func (r *ChatResponse) HasGraph() bool {
	return r.Graph != nil && len(r.Graph.Nodes) > 0
}
