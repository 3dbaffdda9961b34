package httpx

import (
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/hatcher/kbchat/pkg/util"
)

type HttpMethod string

const (
	GET    HttpMethod = "GET"
	POST   HttpMethod = "POST"
	PUT    HttpMethod = "PUT"
	DELETE HttpMethod = "DELETE"
	PATCH  HttpMethod = "PATCH"
)

func (m HttpMethod) String() string {
	return string(m)
}

type RequestOption struct {
	Method      HttpMethod
	Path        string
	Headers     map[string]string
	Body        interface{}
	Query       map[string]string
	ContentType string
	PrintLog    bool
	Sensitive   bool
	RequestID   string
}

type Option func(option *RequestOption)

func WithMethod(method HttpMethod) Option {
	return func(option *RequestOption) {
		option.Method = method
	}
}

func WithMethodGet() Option {
	return WithMethod(GET)
}

func WithMethodPost() Option {
	return WithMethod(POST)
}

func WithMethodPut() Option {
	return WithMethod(PUT)
}

func WithMethodDelete() Option {
	return WithMethod(DELETE)
}

func WithPath(path string) Option {
	return func(option *RequestOption) {
		option.Path = path
	}
}

func WithHeader(key, value string) Option {
	return func(option *RequestOption) {
		option.Headers[key] = value
	}
}

func WithHeaders(headers map[string]string) Option {
	return func(option *RequestOption) {
		for k, v := range headers {
			option.Headers[k] = v
		}
	}
}

func WithBody(body interface{}) Option {
	return func(option *RequestOption) {
		option.Body = body
	}
}

func WithContentType(contentType string) Option {
	return func(option *RequestOption) {
		option.ContentType = contentType
	}
}

func WithQuery(query map[string]string) Option {
	return func(option *RequestOption) {
		for k, v := range query {
			option.Query[k] = v
		}
	}
}

func WithQueryParam(key, value string) Option {
	return func(option *RequestOption) {
		option.Query[key] = value
	}
}

func WithPrintLog(printLog bool) Option {
	return func(option *RequestOption) {
		option.PrintLog = printLog
	}
}

func WithSensitive(sensitive bool) Option {
	return func(option *RequestOption) {
		option.Sensitive = sensitive
	}
}

func NewRequestOption(options ...Option) *RequestOption {
	option := &RequestOption{
		Headers:   make(map[string]string),
		Query:     make(map[string]string),
		PrintLog:  false,
		RequestID: uuid.New().String(),
	}
	for _, opt := range options {
		opt(option)
	}
	return option
}

type RequestLog struct {
	Timestamp string            `json:"timestamp"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      interface{}       `json:"body,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

type ResponseLog struct {
	Timestamp  string      `json:"timestamp"`
	StatusCode int         `json:"status_code"`
	Body       interface{} `json:"body,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// LogRequestJSON 请求日志（JSON单行）
func LogRequestJSON(req *RequestLog, isSensitive bool) {
	if isSensitive {
		req.Headers = sensitiveHeaders(req.Headers)
	}
	if jsonStr := util.ToJsonIgnoreError(req); jsonStr != "" {
		log.Printf("HTTP_REQUEST: %s", jsonStr)
	}
}

// LogResponseJSON 响应日志（JSON单行）
func LogResponseJSON(resp *ResponseLog) {
	if jsonStr := util.ToJsonIgnoreError(resp); jsonStr != "" {
		log.Printf("HTTP_RESPONSE: %s", jsonStr)
	}
}

func sensitiveHeaders(headers map[string]string) map[string]string {
	clean := make(map[string]string)
	sensitive := []string{"authorization", "cookie", "token", "password", "secret", "api_key", "apikey"}

	for k, v := range headers {
		keyLower := strings.ToLower(k)
		isSensitive := false

		for _, s := range sensitive {
			if strings.Contains(keyLower, s) {
				isSensitive = true
				break
			}
		}

		if isSensitive {
			clean[k] = "***REDACTED***"
		} else {
			clean[k] = v
		}
	}

	return clean
}
