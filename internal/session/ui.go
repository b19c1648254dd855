package session

// UI 是外部渲染端: 显示消息, 以及执行自己的登出跳转/清理
type UI interface {
	Show(msg Message)
	Logout()
}

// UIFuncs 用两个函数实现 UI
type UIFuncs struct {
	ShowFunc   func(msg Message)
	LogoutFunc func()
}

func (u UIFuncs) Show(msg Message) {
	if u.ShowFunc != nil {
		u.ShowFunc(msg)
	}
}

func (u UIFuncs) Logout() {
	if u.LogoutFunc != nil {
		u.LogoutFunc()
	}
}
