package gateway

// inbound message types accepted from clients
const (
	msgNewDiscussion    = "new_discussion"
	msgLoadDiscussion   = "load_discussion"
	msgGenerate         = "generate_msg"
	msgGenerateFrom     = "generate_msg_from"
	msgContinueFrom     = "continue_generate_msg_from"
	msgCancelGeneration = "cancel_generation"
	msgStatus           = "status"
)

type inboundMessage struct {
	Type   string `json:"type"`
	Title  string `json:"title,omitempty"`
	ID     int64  `json:"id,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}
