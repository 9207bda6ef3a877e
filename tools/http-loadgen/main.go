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

// http-loadgen is a tiny HTTP load generator for the checkout fabric. It
// reuses connections (keep-alive) and supports concurrency so benchmark
// scripts run fast without relying on external tools.
//
// Modes:
//   - seed:     POST /batch_init to create n orders over n_items/n_users
//   - checkout: storm POST /checkout/{i} over the seeded order ids
//
// Usage examples:
//
//	http-loadgen -base=http://127.0.0.1:8000 -mode=seed -n=10000 -items=100 -users=1000 -price=5
//	http-loadgen -base=http://127.0.0.1:8000 -mode=checkout -n=10000 -c=32
//
// Prints a one-line summary with duration, accept/reject counts and
// approximate throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		base  = flag.String("base", "http://127.0.0.1:8000", "Order service base URL including scheme and host")
		modeS = flag.String("mode", "checkout", "Mode: seed|checkout")
		n     = flag.Int("n", 5000, "Number of orders to seed, or checkout requests to send")
		conc  = flag.Int("c", 8, "Number of concurrent workers")
		items = flag.Int("items", 100, "Item id space for seed mode")
		users = flag.Int("users", 1000, "User id space for seed mode")
		price = flag.Int("price", 5, "Item price for seed mode")
		// Timeouts & transport tuning
		timeout    = flag.Duration("timeout", 60*time.Second, "Overall timeout for the run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	baseURL := strings.TrimRight(*base, "/")
	if *n <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdlePer,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	post := func(path string) (int, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, nil)
		if err != nil {
			return 0, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return 0, err
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode, nil
	}

	switch *modeS {
	case "seed":
		start := time.Now()
		code, err := post(fmt.Sprintf("/batch_init/%d/%d/%d/%d", *n, *items, *users, *price))
		if err != nil || code != http.StatusOK {
			fmt.Fprintf(os.Stderr, "seed failed: status=%d err=%v\n", code, err)
			os.Exit(1)
		}
		fmt.Printf("seeded %d orders in %s\n", *n, time.Since(start).Round(time.Millisecond))

	case "checkout":
		var accepted, rejected, failed int64
		var next int64 = -1
		start := time.Now()
		var wg sync.WaitGroup
		for w := 0; w < *conc; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					i := atomic.AddInt64(&next, 1)
					if i >= int64(*n) || ctx.Err() != nil {
						return
					}
					code, err := post(fmt.Sprintf("/checkout/%d", i))
					switch {
					case err != nil:
						atomic.AddInt64(&failed, 1)
					case code == http.StatusOK:
						atomic.AddInt64(&accepted, 1)
					default:
						atomic.AddInt64(&rejected, 1)
					}
				}
			}()
		}
		wg.Wait()
		elapsed := time.Since(start)
		fmt.Printf("checkouts: %d accepted, %d rejected, %d failed in %s (%.0f req/s)\n",
			accepted, rejected, failed, elapsed.Round(time.Millisecond),
			float64(*n)/elapsed.Seconds())

	default:
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want seed|checkout)\n", *modeS)
		os.Exit(2)
	}
}
