package connection

import (
	"net/url"
	"strings"
)

const DefaultPath = "/ws/socket.io/"

// Options 是 Connect 识别的配置项.
// Secure 由调用方根据宿主页面的协议决定, 这里不做推断.
type Options struct {
	Path   string
	Secure bool
	// Query 附加在握手地址上, 例如中继用来识别用户的 username
	Query url.Values
}

// EndpointURL 由宿主 host 和选项拼出中继握手地址
func EndpointURL(host string, opts Options) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", ErrEmptyHost
	}

	scheme := "ws"
	if opts.Secure {
		scheme = "wss"
	}

	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u := url.URL{Scheme: scheme, Host: host, Path: path}
	if len(opts.Query) > 0 {
		u.RawQuery = opts.Query.Encode()
	}
	return u.String(), nil
}
