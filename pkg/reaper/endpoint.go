package reaper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"
)

// EndpointReaper terminates workers by calling an HTTP endpoint with ?cluster-name=<cluster>.
// The endpoint answers with the terminated instance ids, either as a bare JSON array or
// as {"instances": [...]}.
type EndpointReaper struct {
	client *req.Client
	url    string
	logger *zap.Logger
}

func NewEndpointReaper(logger *zap.Logger, url string, timeout time.Duration) *EndpointReaper {
	client := req.C().SetTimeout(timeout)
	client.SetCommonContentType("application/json")
	return &EndpointReaper{
		client: client,
		url:    url,
		logger: logger.Named("endpointReaper"),
	}
}

type terminateResponse struct {
	Instances []string `json:"instances"`
}

func (r *EndpointReaper) TerminateWorkers(ctx context.Context, cluster string) ([]string, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParam("cluster-name", cluster).
		Get(r.url)
	if err != nil {
		return nil, fmt.Errorf("TerminateWorkers - %s: %w", cluster, err)
	}
	body := resp.Bytes()
	if !resp.IsSuccessState() {
		return nil, fmt.Errorf("TerminateWorkers - %s: %s, Status Code: %d", cluster, body, resp.StatusCode)
	}

	instances, err := decodeInstances(body)
	if err != nil {
		return nil, fmt.Errorf("TerminateWorkers - %s: %w", cluster, err)
	}
	r.logger.Info("terminate endpoint called", zap.String("cluster", cluster), zap.Strings("instances", instances))
	return instances, nil
}

func decodeInstances(body []byte) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err == nil {
		return ids, nil
	}
	var wrapped terminateResponse
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode instances: %w", err)
	}
	return wrapped.Instances, nil
}
