package conversation

// Project returns the messages on the current path, root first. Ids missing
// from the node map are skipped. A nil tree projects to an empty conversation.
func Project(ct *ConversationTree) Conversation {
	if ct == nil {
		return Conversation{}
	}
	ret := make(Conversation, 0, len(ct.CurrentPath))
	for _, id := range ct.CurrentPath {
		if msg, ok := ct.Nodes[id]; ok {
			ret = append(ret, msg)
		}
	}
	return ret
}

// BranchView describes where a projected message sits among its siblings.
type BranchView struct {
	Message *Message
	// Index is the position among the parent's children, Count their number.
	Index int
	Count int
}

func (b BranchView) HasSiblings() bool {
	return b.Count > 1
}

// ProjectBranches is Project with sibling information for each message, used
// to draw "2/3" branch indicators.
func ProjectBranches(ct *ConversationTree) []BranchView {
	messages := Project(ct)
	ret := make([]BranchView, 0, len(messages))
	for _, msg := range messages {
		index, count := ct.BranchInfo(msg.ID)
		ret = append(ret, BranchView{Message: msg, Index: index, Count: count})
	}
	return ret
}
