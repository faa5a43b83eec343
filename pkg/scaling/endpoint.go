package scaling

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"
)

// EndpointScaler sets capacity by calling an HTTP endpoint with
// ?cluster-name=<cluster>&cpu-limit=<n>
type EndpointScaler struct {
	client *req.Client
	url    string
	logger *zap.Logger
}

func NewEndpointScaler(logger *zap.Logger, url string, timeout time.Duration) *EndpointScaler {
	client := req.C().SetTimeout(timeout)
	client.SetCommonContentType("application/json")
	return &EndpointScaler{
		client: client,
		url:    url,
		logger: logger.Named("endpointScaler"),
	}
}

func (s *EndpointScaler) SetClusterCapacity(ctx context.Context, cluster string, cpuLimit int64) error {
	if cpuLimit < 0 {
		return fmt.Errorf("SetClusterCapacity - %s: negative cpu limit %d", cluster, cpuLimit)
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"cluster-name": cluster,
			"cpu-limit":    strconv.FormatInt(cpuLimit, 10),
		}).
		Get(s.url)
	if err != nil {
		return fmt.Errorf("SetClusterCapacity - %s: %w", cluster, err)
	}
	if !resp.IsSuccessState() {
		return fmt.Errorf("SetClusterCapacity - %s: %s, Status Code: %d", cluster, resp.String(), resp.StatusCode)
	}
	s.logger.Info("capacity endpoint called", zap.String("cluster", cluster), zap.Int64("cpuLimit", cpuLimit), zap.Int("statusCode", resp.StatusCode))
	return nil
}
