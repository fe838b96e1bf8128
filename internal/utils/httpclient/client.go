package httpclient

import (
	"net/http"
	"net/url"
	"time"

	"FestSync/internal/config"

	"github.com/sirupsen/logrus"
)

// NewHTTPClient 表格接口底层HTTP客户端（支持代理、超时）；OAuth2 认证在其上包装
func NewHTTPClient(cfg *config.SheetsConfig, logger *logrus.Logger) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	// 配置代理
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			logger.WithError(err).WithField("proxy", cfg.Proxy).Warn("代理地址解析失败，将不使用代理")
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
			logger.WithField("proxy", cfg.Proxy).Info("HTTP客户端已配置代理")
		}
	}

	return &http.Client{
		Timeout:   time.Duration(cfg.Timeout) * time.Second,
		Transport: &loggingTransport{transport: transport, logger: logger},
	}
}

// loggingTransport 记录表格接口的非 2xx 响应，便于人工对账
type loggingTransport struct {
	transport http.RoundTripper
	logger    *logrus.Logger
}

func (l *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := l.transport.RoundTrip(req)
	if err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
		}).Warn("表格接口请求失败")
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		l.logger.WithFields(logrus.Fields{
			"method":  req.Method,
			"path":    req.URL.Path,
			"status":  resp.StatusCode,
			"elapsed": time.Since(start).String(),
		}).Warn("表格接口返回错误状态")
	}
	return resp, nil
}
