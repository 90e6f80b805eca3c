// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
)

// ProviderHosts はOAuthプロバイダー呼び出しで接続を許可するホスト。
var ProviderHosts = []string{
	"github.com",
	"api.github.com",
	"accounts.google.com",
	"oauth2.googleapis.com",
	"www.googleapis.com",
}

// NewProviderClient はOAuthプロバイダー呼び出し専用のHTTPクライアントを生成する。
// 接続先はProviderHostsのhttps:443に限定される。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスも検証するため、
// プライベートIP・ループバック・メタデータIPへの接続もブロックされる。
func NewProviderClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		SetAllowedHosts(ProviderHosts...).
		Build()

	return safeurl.Client(config).Client
}
