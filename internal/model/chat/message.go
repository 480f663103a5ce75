package chat

// Inbound is a text message delivered by the chat transport.
type Inbound struct {
	ChatID    int64  `json:"chatId"`
	MessageID int64  `json:"messageId"`
	Sender    string `json:"sender,omitempty"`
	Text      string `json:"text"`
}

// Keyboard is a reply keyboard made of fixed button labels.
type Keyboard struct {
	Rows [][]string `json:"rows"`
}

// Empty reports whether the keyboard carries no buttons.
func (k *Keyboard) Empty() bool {
	if k == nil {
		return true
	}
	for _, row := range k.Rows {
		if len(row) > 0 {
			return false
		}
	}
	return true
}
