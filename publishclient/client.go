package publishclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/anyproto/any-sync/app"

	"github.com/gameforge/publish-worker/publishclient/publishapi"
)

const defaultTimeout = 5 * time.Minute

func New() Client {
	return new(publishClient)
}

// NewWithConfig returns a client usable without an app.
func NewWithConfig(conf Config) Client {
	c := new(publishClient)
	c.setConfig(conf)
	return c
}

const CName = "publish.client"

type Client interface {
	app.Component
	// Trigger asks the worker to process jobId, or the oldest queued job when jobId is empty.
	// A worker answering with success=false is returned as an error.
	Trigger(ctx context.Context, jobId string) (resp publishapi.TriggerResponse, err error)
	Health(ctx context.Context) (err error)
}

type publishClient struct {
	conf   Config
	client *http.Client
}

func (p *publishClient) Init(a *app.App) (err error) {
	p.setConfig(a.MustComponent("config").(configGetter).GetPublishClient())
	return
}

func (p *publishClient) setConfig(conf Config) {
	p.conf = conf
	timeout := defaultTimeout
	if conf.TimeoutSec > 0 {
		timeout = time.Duration(conf.TimeoutSec) * time.Second
	}
	p.client = &http.Client{Timeout: timeout}
}

func (p *publishClient) Name() (name string) {
	return CName
}

func (p *publishClient) Trigger(ctx context.Context, jobId string) (resp publishapi.TriggerResponse, err error) {
	body, err := json.Marshal(publishapi.TriggerRequest{JobId: jobId})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.conf.Url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if p.conf.WorkerKey != "" {
		req.Header.Set(publishapi.WorkerKeyHeader, p.conf.WorkerKey)
	}
	httpResp, err := p.client.Do(req)
	if err != nil {
		return
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	switch httpResp.StatusCode {
	case http.StatusUnauthorized:
		return resp, publishapi.ErrUnauthorized
	case http.StatusMethodNotAllowed:
		return resp, publishapi.ErrMethodNotAllowed
	}
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return
	}
	if err = json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("unexpected response (%d): %s", httpResp.StatusCode, string(data))
	}
	if httpResp.StatusCode != http.StatusOK || !resp.Success {
		if resp.Error == "" {
			resp.Error = http.StatusText(httpResp.StatusCode)
		}
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

func (p *publishClient) Health(ctx context.Context) (err error) {
	healthUrl, err := url.JoinPath(p.conf.Url, "health")
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthUrl, nil)
	if err != nil {
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker is unhealthy: %s", resp.Status)
	}
	return nil
}
