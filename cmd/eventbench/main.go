package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/d60-Lab/livepost/internal/liveview"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

// 针对运行中的服务：N 个会话同步，发出 CREATES 次创建，统计事件落到每个会话的延迟
func main() {
	base := "http://localhost:4000"
	if s := os.Getenv("BASE_URL"); s != "" {
		base = s
	}
	SESSIONS := envInt("SESSIONS", 20)
	CREATES := envInt("CREATES", 200)
	prefix := fmt.Sprintf("bench-%d-", time.Now().UnixNano())

	ctx := context.Background()
	api := must(liveview.NewAPIClient(base, nil))

	sessions := make([]*liveview.Session, SESSIONS)
	for i := range sessions {
		s := must(liveview.NewSession(base, liveview.Options{}))
		if err := s.Init(ctx); err != nil {
			panic(err)
		}
		sessions[i] = s
	}
	defer func() {
		for _, s := range sessions {
			s.Dispose()
		}
	}()

	var sent sync.Map // title -> time.Time
	var mu sync.Mutex
	land := make([]time.Duration, 0, SESSIONS*CREATES)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for _, s := range sessions {
		wg.Add(1)
		go func(s *liveview.Session) {
			defer wg.Done()
			seen := make(map[string]bool, CREATES)
			for len(seen) < CREATES {
				select {
				case <-s.Changes():
				case <-done:
					return
				}
				now := time.Now()
				for _, p := range s.Posts() {
					if !strings.HasPrefix(p.Title, prefix) || seen[p.Title] {
						continue
					}
					v, ok := sent.Load(p.Title)
					if !ok {
						continue
					}
					seen[p.Title] = true
					mu.Lock()
					land = append(land, now.Sub(v.(time.Time)))
					mu.Unlock()
				}
			}
		}(s)
	}

	createLat := make([]time.Duration, 0, CREATES)
	ids := make([]int64, 0, CREATES)
	for i := 0; i < CREATES; i++ {
		title := fmt.Sprintf("%s%d", prefix, i)
		st := time.Now()
		sent.Store(title, st)
		p, err := api.Create(ctx, title, "eventbench")
		if err != nil {
			panic(err)
		}
		createLat = append(createLat, time.Since(st))
		ids = append(ids, p.ID)
	}

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Minute):
		fmt.Println("timeout while waiting for events")
		close(done)
		<-waitCh
	}

	mu.Lock()
	defer mu.Unlock()
	fmt.Printf("BASE_URL=%s SESSIONS=%d CREATES=%d\n", base, SESSIONS, CREATES)
	fmt.Printf("Create latency: avg=%v p95=%v p99=%v\n", avg(createLat), pct(createLat, 0.95), pct(createLat, 0.99))
	fmt.Printf("Event landing: samples=%d/%d avg=%v p95=%v p99=%v\n", len(land), SESSIONS*CREATES, avg(land), pct(land, 0.95), pct(land, 0.99))

	if os.Getenv("CLEANUP") != "" {
		for _, id := range ids {
			_ = api.Delete(ctx, id)
		}
	}
}
