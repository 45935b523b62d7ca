package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// =============================================================================
// Gateway — 消息网关基础客户端
// 提供token管理和通用HTTP请求，邮件与短信发送共用
// =============================================================================

// Gateway 消息网关客户端
type Gateway struct {
	baseURL     string
	apiKey      string       // 网关API key
	apiSecret   string       // 网关API secret
	tokenCache  string       // 缓存的access token
	tokenExpire time.Time    // token过期时间
	mu          sync.RWMutex // 保护token缓存的读写锁
	httpClient  *http.Client
}

// NewGateway 创建消息网关客户端实例
func NewGateway(baseURL, apiKey, apiSecret string) *Gateway {
	return &Gateway{
		baseURL:   baseURL,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// getAccessToken 获取访问令牌
// 使用双重检查锁定模式缓存token，提前60秒刷新避免过期
func (g *Gateway) getAccessToken(ctx context.Context) (string, error) {
	g.mu.RLock()
	if g.tokenCache != "" && time.Now().Before(g.tokenExpire) {
		token := g.tokenCache
		g.mu.RUnlock()
		return token, nil
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	// 双重检查：其他goroutine可能已经刷新了token
	if g.tokenCache != "" && time.Now().Before(g.tokenExpire) {
		return g.tokenCache, nil
	}

	reqBody := map[string]string{
		"api_key":    g.apiKey,
		"api_secret": g.apiSecret,
	}
	bodyBytes, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST",
		g.baseURL+"/v1/auth/token",
		bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request gateway token: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Code        int    `json:"code"`
		Msg         string `json:"msg"`
		AccessToken string `json:"access_token"`
		Expire      int    `json:"expire"` // seconds
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if result.Code != 0 {
		return "", fmt.Errorf("gateway token error[%d]: %s", result.Code, result.Msg)
	}

	g.tokenCache = result.AccessToken
	g.tokenExpire = time.Now().Add(time.Duration(result.Expire-60) * time.Second)

	return result.AccessToken, nil
}

// doRequest 执行网关API请求
// 自动获取token并添加Authorization头，处理网关统一错误码
func (g *Gateway) doRequest(ctx context.Context, path string, body interface{}) error {
	token, err := g.getAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	var result struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if result.Code != 0 {
		return fmt.Errorf("gateway error[%d]: %s", result.Code, result.Msg)
	}
	return nil
}

// SendEmail 发送邮件
func (g *Gateway) SendEmail(ctx context.Context, to, subject, body string) error {
	return g.doRequest(ctx, "/v1/messages/email", map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	})
}

// SendSMS 发送短信
func (g *Gateway) SendSMS(ctx context.Context, phone, text string) error {
	return g.doRequest(ctx, "/v1/messages/sms", map[string]string{
		"phone": phone,
		"text":  text,
	})
}
