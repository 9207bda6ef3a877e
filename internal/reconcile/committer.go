// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: June 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reconcile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCommitter finalizes orders through the orchestrator's
// /commit_checkout endpoint.
type HTTPCommitter struct {
	// BaseURL is the order service root, e.g. "http://order:8000".
	BaseURL string
	Client  *http.Client
}

// NewHTTPCommitter builds a committer with a bounded request timeout.
func NewHTTPCommitter(baseURL string) *HTTPCommitter {
	return &HTTPCommitter{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 2 * time.Second},
	}
}

func (h *HTTPCommitter) CommitCheckout(ctx context.Context, tid string) error {
	url := h.BaseURL + "/commit_checkout/" + tid
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("reconcile: commit request %s: %w", tid, err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("reconcile: commit %s: %w", tid, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reconcile: commit %s: status %d", tid, resp.StatusCode)
	}
	return nil
}
