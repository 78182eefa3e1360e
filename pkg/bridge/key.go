package bridge

// ConversationRef identifies one chat conversation on one bridge. Identity is
// derived from the triple, never stored: two refs with equal fields are the
// same conversation.
type ConversationRef struct {
	BridgeID  string `json:"bridge_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id,omitempty"`
}

// threadSentinel stands in for an absent thread id so that keys stay
// injective over the (bridge, channel, thread) triple.
const threadSentinel = "-"

// Key returns the canonical string identity for the conversation. Pure and
// total: no side effects, no failure mode.
func (r ConversationRef) Key() string {
	thread := r.ThreadID
	if thread == "" {
		thread = threadSentinel
	}
	return r.BridgeID + ":" + r.ChannelID + ":" + thread
}
