package relay

// 连接管理接口
type ConnectionManager interface {
	Register(client *Client)
	Unregister(client *Client)
}
