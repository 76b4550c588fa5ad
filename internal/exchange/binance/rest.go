package binance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/A2K/binance-trading-cli-sub000/internal/model"
	"github.com/A2K/binance-trading-cli-sub000/internal/pkg/logger"
	"github.com/A2K/binance-trading-cli-sub000/internal/signer"
	"github.com/adshao/go-binance/v2/common"
	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"
)

const headerAPIKey = "X-MBX-APIKEY"

const (
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// RESTClient issues raw REST calls for endpoints the SDK does not wrap
// (simple earn, cancelReplace).
type RESTClient struct {
	baseURL    string
	apiKey     string
	signer     *signer.Signer
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewRESTClient(baseURL, apiKey string, s *signer.Signer) *RESTClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 20
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 90 * time.Second

	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		signer:  s,
		httpClient: &http.Client{
			Transport: transport,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "binance-rest",
			Timeout: breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			IsSuccessful: breakerSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// breakerSuccess counts only transport and server failures against the
// breaker. Rejections carrying an exchange error code mean the API is up.
func breakerSuccess(err error) bool {
	var apiErr *common.APIError
	return err == nil || errors.As(err, &apiErr) || errors.Is(err, context.Canceled)
}

// Do sends req and returns the body of a 2xx response. Exchange error
// payloads come back as *common.APIError.
func (c *RESTClient) Do(ctx context.Context, req model.RawRequest) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var query string
	if req.Signed {
		if c.signer == nil {
			return nil, fmt.Errorf("%s %s: signed request without api secret", method, req.Path)
		}
		query = c.signer.SignQuery(req.Params)
	} else if len(req.Params) > 0 {
		query = req.Params.Encode()
	}

	target := c.baseURL + req.Path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if query != "" {
			target += "?" + query
		}
	} else {
		body = strings.NewReader(query)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		httpReq.Header.Set(headerAPIKey, c.apiKey)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.send(httpReq, method, req.Path)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *RESTClient) send(httpReq *http.Request, method, path string) ([]byte, error) {
	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode/100 != 2 {
		apiErr := &common.APIError{}
		if jsonErr := sonic.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Code == 0 {
			return nil, fmt.Errorf("%s %s: http %d: %s", method, path, res.StatusCode, string(data))
		}
		return nil, apiErr
	}
	return data, nil
}
