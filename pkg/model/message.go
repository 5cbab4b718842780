package model

// Role identifies who authored a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Status tracks the lifecycle of an assistant message
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusError    Status = "error"
)

// ChatMessage is one entry of the conversation transcript
type ChatMessage struct {
	ID       string   `json:"id"`
	Role     Role     `json:"role"`
	Content  string   `json:"content"`
	Status   Status   `json:"status,omitempty"`   // assistant messages only
	Keywords []string `json:"keywords,omitempty"`
}

// MessageUpdate is a partial update; nil fields are left untouched
type MessageUpdate struct {
	Content  *string
	Status   *Status
	Keywords []string
}

// Apply shallow-merges the set fields of u into m
func (u MessageUpdate) Apply(m *ChatMessage) {
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Keywords != nil {
		m.Keywords = append([]string(nil), u.Keywords...)
	}
}

// FocusContext is the selected node and its direct neighbors
type FocusContext struct {
	Node      *GraphNode   `json:"node"`
	Neighbors []*GraphNode `json:"neighbors"`
}
