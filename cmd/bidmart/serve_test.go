// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 BidMart Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidmart/bidmart/internal/api"
	"github.com/bidmart/bidmart/internal/bulk"
	"github.com/bidmart/bidmart/internal/config"
)

func TestRunServe_ServesAPIUntilCancelled(t *testing.T) {
	a, _ := sharedMemory(t)
	cfg := config.Default()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = "127.0.0.1:0"
	a.cfg = cfg
	a.logger = discardLogger()

	seed := writeFile(t, "seed.yaml", productsSeed)
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- runServe(ctx, cmd, a, &serveConfig{seedFile: seed}, ready)
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for API listener")
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+addr+"/v1/bulk",
		strings.NewReader(`{"resourceCollection":"products","action":"softDelete","ids":["p1"]}`))
	require.NoError(t, err)
	req.Header.Set(api.CallerHeader, "seller-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result bulk.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 1, result.SuccessCount)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("timeout waiting for shutdown")
	}
}

func TestRunServe_ListenFailure(t *testing.T) {
	a, _ := sharedMemory(t)
	cfg := config.Default()
	cfg.HTTP.Addr = "256.0.0.1:0"
	cfg.Metrics.Addr = ""
	a.cfg = cfg
	a.logger = discardLogger()

	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})

	err := runServe(context.Background(), cmd, a, &serveConfig{}, nil)
	require.Error(t, err)
}
