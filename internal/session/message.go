package session

// Message 是一条收到的聊天消息, 构造后不可修改
type Message struct {
	text   string
	sender string
}

func NewMessage(text, sender string) Message {
	return Message{text: text, sender: sender}
}

func (m Message) Text() string { return m.text }

// Sender 可能为空: 还没有收到任何 "new user" 事件
func (m Message) Sender() string { return m.sender }

// Render 把文本和发送者直接拼接, 中间没有分隔符.
// 保留现有页面的显示效果; 是否应该加分隔符尚未确定.
func (m Message) Render() string {
	return m.text + m.sender
}

// Identity 在会话开始时由外部注入, 之后只读
type Identity struct {
	currentUser string
}

func NewIdentity(currentUser string) Identity {
	return Identity{currentUser: currentUser}
}

func (i Identity) CurrentUser() string { return i.currentUser }
