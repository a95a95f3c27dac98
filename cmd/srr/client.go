// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/juju/errors"

	"github.com/juju/srr/rpc/params"
)

// client talks to the HTTP interface of srrd.
type client struct {
	addr string
	http *http.Client
}

func newClient(addr string, httpClient *http.Client) *client {
	return &client{addr: strings.TrimSuffix(addr, "/"), http: httpClient}
}

func (c *client) List(ctx context.Context) (params.ListResponse, error) {
	var resp params.ListResponse
	err := c.call(ctx, http.MethodGet, "/srr/list", nil, &resp)
	return resp, errors.Trace(err)
}

func (c *client) Save(ctx context.Context, req params.SaveRequest) (params.SaveResponse, error) {
	var resp params.SaveResponse
	err := c.call(ctx, http.MethodPost, "/srr/save", req, &resp)
	return resp, errors.Trace(err)
}

func (c *client) Restore(ctx context.Context, req params.RestoreRequest, force bool) (params.RestoreResponse, error) {
	path := "/srr/restore"
	if force {
		path += "?force=true"
	}
	var resp params.RestoreResponse
	err := c.call(ctx, http.MethodPost, path, req, &resp)
	return resp, errors.Trace(err)
}

func (c *client) Reset(ctx context.Context, req params.ResetRequest) (params.ResetResponse, error) {
	var resp params.ResetResponse
	err := c.call(ctx, http.MethodPost, "/srr/reset", req, &resp)
	return resp, errors.Trace(err)
}

func (c *client) call(ctx context.Context, method, path string, req, resp any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return errors.Annotate(err, "encoding request")
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.addr+path, body)
	if err != nil {
		return errors.Trace(err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return errors.Annotatef(err, "%s %s", method, path)
	}
	defer httpResp.Body.Close()
	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errors.Annotatef(err, "reading response to %s %s", method, path)
	}

	if httpResp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &failure) == nil && failure.Error != "" {
			return errors.Errorf("%s", failure.Error)
		}
		return errors.Errorf("%s %s: %s", method, path, httpResp.Status)
	}
	return errors.Annotate(json.Unmarshal(data, resp), "decoding response")
}
