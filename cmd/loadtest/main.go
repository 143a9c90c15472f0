// Command loadtest exercises a running election server and its Redis.
//
//	loadtest [-addr URL] [-voters N] [-dup N] [ballots] [lock] [bloom]
//
// With no scenario named, all of them run. The ballots scenario needs the
// server in development mode, where /api/auth/token is exposed.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"campus-election-backend/cache"
	"campus-election-backend/config"
)

var (
	addr      = flag.String("addr", "http://localhost:8090", "server base URL")
	voters    = flag.Int("voters", 50, "distinct voters in the ballots scenario")
	dup       = flag.Int("dup", 5, "concurrent ballots fired per voter")
	redisAddr = flag.String("redis", "localhost:16379", "redis address for lock and bloom")
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path, token string, body, out interface{}) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, raw)
	}
	return resp.StatusCode, nil
}

func (c *client) token(userID, role string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	_, err := c.call(http.MethodPost, "/api/auth/token", "", map[string]string{"user_id": userID, "role": role}, &out)
	return out.Token, err
}

type entity struct {
	ID uint `json:"id"`
}

// ballots opens an election and lets every voter race several ballots at
// once. Exactly one ballot per voter may be accepted.
func ballots(l *zap.Logger, c *client) error {
	admin, err := c.token("loadtest-admin", "admin")
	if err != nil {
		return err
	}

	var e entity
	now := time.Now()
	_, err = c.call(http.MethodPost, "/api/elections", admin, map[string]interface{}{
		"title":      fmt.Sprintf("Load test %s", now.Format(time.RFC3339)),
		"start_time": now.Add(-time.Minute),
		"end_time":   now.Add(time.Hour),
		"positions":  []string{"President"},
	}, &e)
	if err != nil {
		return err
	}

	var cand entity
	_, err = c.call(http.MethodPost, "/api/candidates", admin, map[string]interface{}{
		"election_id": e.ID,
		"user_id":     "loadtest-candidate",
		"position":    "President",
		"name":        "Load Test Candidate",
	}, &cand)
	if err != nil {
		return err
	}
	if _, err := c.call(http.MethodPut, fmt.Sprintf("/api/candidates/%d/approve", cand.ID), admin, nil, nil); err != nil {
		return err
	}
	l.Info("election ready", zap.Uint("election_id", e.ID), zap.Uint("candidate_id", cand.ID))

	var accepted, duplicates, other int64
	var wg sync.WaitGroup
	start := time.Now()
	for v := 0; v < *voters; v++ {
		tok, err := c.token(fmt.Sprintf("loadtest-voter-%d", v), "student")
		if err != nil {
			return err
		}
		for i := 0; i < *dup; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				status, err := c.call(http.MethodPost, "/api/votes", tok,
					map[string]uint{"election_id": e.ID, "candidate_id": cand.ID}, nil)
				switch {
				case status == http.StatusCreated:
					atomic.AddInt64(&accepted, 1)
				case status == http.StatusConflict:
					atomic.AddInt64(&duplicates, 1)
				default:
					atomic.AddInt64(&other, 1)
					l.Warn("unexpected ballot response", zap.Int("status", status), zap.Error(err))
				}
			}()
		}
	}
	wg.Wait()

	l.Info("ballots done",
		zap.Duration("took", time.Since(start)),
		zap.Int64("accepted", accepted),
		zap.Int64("duplicates", duplicates),
		zap.Int64("other", other))

	var report struct {
		Consistent bool `json:"consistent"`
		Results    struct {
			TotalVotes int64 `json:"total_votes"`
		} `json:"results"`
	}
	if _, err := c.call(http.MethodGet, fmt.Sprintf("/api/admin/elections/%d/tally", e.ID), admin, nil, &report); err != nil {
		return err
	}
	l.Info("tally", zap.Bool("consistent", report.Consistent), zap.Int64("total_votes", report.Results.TotalVotes))

	if accepted != int64(*voters) || report.Results.TotalVotes != accepted || !report.Consistent {
		return errors.New("ballot integrity check failed")
	}
	return nil
}

// lock has workers contend for one distributed lock without retries. Only
// one of them should get it.
func lock(l *zap.Logger) error {
	rdb, err := cache.GetClient()
	if err != nil {
		return err
	}
	locks := cache.NewLockService(rdb)

	const workers = 10
	var acquired int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locks.TryWithLock(context.Background(), "loadtest:lock", 5*time.Second, func() error {
				atomic.AddInt64(&acquired, 1)
				time.Sleep(time.Second)
				return nil
			})
			if err != nil && !errors.Is(err, cache.ErrLockNotAcquired) {
				l.Warn("lock error", zap.Error(err))
			}
		}()
	}
	wg.Wait()

	l.Info("lock contention done", zap.Int("workers", workers), zap.Int64("acquired", acquired))
	if acquired != 1 {
		return fmt.Errorf("%d workers held the lock", acquired)
	}
	return nil
}

// bloom checks that added members are always found and counts false
// positives among a disjoint set.
func bloom(l *zap.Logger) error {
	rdb, err := cache.GetClient()
	if err != nil {
		return err
	}
	ctx := context.Background()
	filter := cache.NewBloomFilter(rdb, "loadtest:bloom", 1000, 0.01)
	defer func() { _ = filter.Reset(ctx) }()

	const n = 1000
	for i := 0; i < n; i++ {
		if err := filter.Add(ctx, fmt.Sprintf("member:%d", i)); err != nil {
			return err
		}
	}
	falsePositives := 0
	for i := 0; i < n; i++ {
		ok, err := filter.Contains(ctx, fmt.Sprintf("member:%d", i))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("member %d missing from filter", i)
		}
		if ok, _ := filter.Contains(ctx, fmt.Sprintf("stranger:%d", i)); ok {
			falsePositives++
		}
	}
	l.Info("bloom filter checked", zap.Int("members", n), zap.Int("false_positives", falsePositives))
	return nil
}

func main() {
	flag.Parse()
	l, _ := zap.NewDevelopment()
	defer func() { _ = l.Sync() }()
	zap.ReplaceGlobals(l)

	scenarios := flag.Args()
	if len(scenarios) == 0 {
		scenarios = []string{"ballots", "lock", "bloom"}
	}

	c := &client{base: *addr, http: &http.Client{Timeout: 10 * time.Second}}
	failed := false
	for _, name := range scenarios {
		var err error
		switch name {
		case "ballots":
			err = ballots(l, c)
		case "lock", "bloom":
			_ = cache.InitRedis(config.RedisConfig{Addr: *redisAddr})
			if name == "lock" {
				err = lock(l)
			} else {
				err = bloom(l)
			}
		default:
			err = fmt.Errorf("unknown scenario %q", name)
		}
		if err != nil {
			failed = true
			l.Error("scenario failed", zap.String("scenario", name), zap.Error(err))
			continue
		}
		l.Info("scenario passed", zap.String("scenario", name))
	}

	cache.CloseRedis()
	if failed {
		_ = l.Sync()
		os.Exit(1)
	}
}
