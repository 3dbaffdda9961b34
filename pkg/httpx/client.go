package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client 通用HTTP客户端工具。普通请求走 Do（响应体整体读入内存，可重复读），
// 流式请求走 DoStream（不设整体超时，调用方通过 context 控制生命周期）。
type Client struct {
	Client       *http.Client
	StreamClient *http.Client
	BaseUrl      string
}

// NewClient 创建一个新的HTTPClient实例
func NewClient(baseUrl string, timeout time.Duration) *Client {
	return &Client{
		Client: &http.Client{
			Timeout: timeout,
		},
		StreamClient: &http.Client{},
		BaseUrl:      baseUrl,
	}
}

// NewDefaultClient 创建一个新的HTTPClient实例，默认超时时间为30秒
func NewDefaultClient(baseUrl string) *Client {
	return NewClient(baseUrl, 30*time.Second)
}

// buildRequest 构建HTTP请求
func (c *Client) buildRequest(ctx context.Context, options *RequestOption) (*http.Request, error) {
	var body io.Reader
	if options.Body != nil {
		switch b := options.Body.(type) {
		case []byte:
			body = bytes.NewBuffer(b)
		case io.Reader:
			body = b
		default:
			jsonData, err := json.Marshal(options.Body)
			if err != nil {
				return nil, fmt.Errorf("序列化请求体失败: %v", err)
			}
			body = bytes.NewBuffer(jsonData)
			if options.ContentType == "" {
				options.ContentType = "application/json"
			}
		}
	}
	reqURL := c.BaseUrl + options.Path
	if len(options.Query) > 0 {
		params := url.Values{}
		for key, value := range options.Query {
			params.Add(key, value)
		}
		reqURL = fmt.Sprintf("%s?%s", reqURL, params.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, options.Method.String(), reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %v", err)
	}
	if options.ContentType != "" {
		req.Header.Set("Content-Type", options.ContentType)
	}
	for key, value := range options.Headers {
		req.Header.Set(key, value)
	}
	return req, nil
}

// Do 发送HTTP请求并返回响应，响应体已读入缓冲区，可重复读取
func (c *Client) Do(ctx context.Context, options *RequestOption) (*http.Response, error) {
	requestTime := time.Now()
	request, err := c.buildRequest(ctx, options)
	if err != nil {
		return nil, err
	}
	if options.PrintLog {
		c.logRequest(request, options, requestTime)
	}
	response, err := c.Client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	bodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	response.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	response.ContentLength = int64(len(bodyBytes))

	if options.PrintLog {
		responseTime := time.Now()
		LogResponseJSON(&ResponseLog{
			Timestamp:  responseTime.Format("2006-01-02 15:04:05.000"),
			StatusCode: response.StatusCode,
			RequestID:  options.RequestID,
			DurationMs: responseTime.Sub(requestTime).Milliseconds(),
			Body:       string(bodyBytes),
		})
	}
	return response, nil
}

// DoStream 发送HTTP请求并返回原始响应，响应体不缓冲，由调用方负责关闭
func (c *Client) DoStream(ctx context.Context, options *RequestOption) (*http.Response, error) {
	requestTime := time.Now()
	request, err := c.buildRequest(ctx, options)
	if err != nil {
		return nil, err
	}
	if options.PrintLog {
		c.logRequest(request, options, requestTime)
	}
	return c.StreamClient.Do(request)
}

// DoWithPtr 发送HTTP请求并将响应体反序列化到resp
func (c *Client) DoWithPtr(ctx context.Context, options *RequestOption, resp interface{}) error {
	response, err := c.Do(ctx, options)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	bodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(bodyBytes, resp)
}

func (c *Client) logRequest(request *http.Request, options *RequestOption, requestTime time.Time) {
	r := &RequestLog{
		Timestamp: requestTime.Format("2006-01-02 15:04:05.000"),
		Method:    options.Method.String(),
		URL:       request.URL.String(),
		Headers:   options.Headers,
		RequestID: options.RequestID,
	}
	if b, ok := options.Body.([]byte); ok {
		r.Body = string(b)
	} else if options.Body != nil {
		if jsonData, err := json.Marshal(options.Body); err == nil {
			r.Body = string(jsonData)
		}
	}
	LogRequestJSON(r, options.Sensitive)
}
