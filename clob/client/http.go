package client

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// HTTP 调试输出默认关闭（开启方式：设置环境变量 LADDERMM_HTTP_DEBUG=1）
var httpDebug = os.Getenv("LADDERMM_HTTP_DEBUG") != ""

// httpClient HTTP 客户端封装，连接池在全部场内调用间共享
type httpClient struct {
	client     *http.Client
	host       string
	authConfig *AuthConfig
}

// newHTTPClient 创建新的 HTTP 客户端
func newHTTPClient(host string, authConfig *AuthConfig, proxyURL *url.URL) *httpClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &httpClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
		},
		host:       strings.TrimSuffix(host, "/"),
		authConfig: authConfig,
	}
}

// get 执行 GET 请求
func (h *httpClient) get(endpoint string, headers map[string]string, params map[string]string) (*http.Response, error) {
	reqURL := h.host + endpoint
	if len(params) > 0 {
		u, err := url.Parse(reqURL)
		if err != nil {
			return nil, fmt.Errorf("解析 URL 失败: %w", err)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
		reqURL = u.String()
	}
	if httpDebug {
		fmt.Printf("[HTTP DEBUG] GET %s\n", reqURL)
	}

	req, err := http.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	h.setDefaultHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return h.client.Do(req)
}

// post 执行 POST 请求。
// 注意：body 必须与 L2 签名时使用的字节完全一致，所以调用方传入
// 已序列化好的 rawBody 而不是再 Marshal 一次。
func (h *httpClient) post(endpoint string, headers map[string]string, rawBody []byte) (*http.Response, error) {
	return h.sendWithBody(http.MethodPost, endpoint, headers, rawBody)
}

// del 执行 DELETE 请求（CLOB 的批量撤单用带 body 的 DELETE）
func (h *httpClient) del(endpoint string, headers map[string]string, rawBody []byte) (*http.Response, error) {
	return h.sendWithBody(http.MethodDelete, endpoint, headers, rawBody)
}

func (h *httpClient) sendWithBody(method, endpoint string, headers map[string]string, rawBody []byte) (*http.Response, error) {
	reqURL := h.host + endpoint

	var bodyReader io.Reader
	if rawBody != nil {
		bodyReader = bytes.NewReader(rawBody)
	}
	if httpDebug {
		fmt.Printf("[HTTP DEBUG] %s %s\n", method, reqURL)
		if rawBody != nil {
			fmt.Printf("[HTTP DEBUG] Body: %s\n", string(rawBody))
		}
	}

	req, err := http.NewRequest(method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	h.setDefaultHeaders(req)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	startTime := time.Now()
	resp, err := h.client.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		if httpDebug {
			fmt.Printf("[HTTP DEBUG] 请求失败 (耗时: %v): %v\n", duration, err)
		}
		return nil, err
	}
	if httpDebug {
		fmt.Printf("[HTTP DEBUG] 请求完成 (耗时: %v), 状态码: %d\n", duration, resp.StatusCode)
	}
	return resp, nil
}

// setDefaultHeaders 设置默认请求头
func (h *httpClient) setDefaultHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "laddermm-clob")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Content-Type", "application/json")

	if req.Method == http.MethodGet {
		req.Header.Set("Accept-Encoding", "gzip")
	}
}

// parseResponse 解析响应（处理 gzip，非 2xx 返回带响应体的错误）
func parseResponse(resp *http.Response, result interface{}) error {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("创建 gzip 读取器失败: %w", err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(reader)
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if result != nil {
		bodyBytes, err := io.ReadAll(reader)
		if err != nil {
			return fmt.Errorf("读取响应体失败: %w", err)
		}
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			return fmt.Errorf("解析响应失败: %w, 响应体: %s", err, string(bodyBytes))
		}
	}
	return nil
}

// APIError 场内返回的非 2xx 响应
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP 错误 %d: %s", e.StatusCode, e.Body)
}

// IsAuthError 401/403，凭证失效必须停机
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRateLimited 429，退避后重试
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransient 5xx，可重试
func (e *APIError) IsTransient() bool {
	return e.StatusCode >= 500
}
