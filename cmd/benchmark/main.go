package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/signetfin/signet/internal/client"
	"github.com/signetfin/signet/internal/wire"
)

// Config holds the benchmark settings
var (
	identityURL   string
	accountingURL string
	concurrency   int
	duration      time.Duration
	workload      string
)

// Metrics
var (
	totalRequests uint64
	successOps    uint64
	failRemote    uint64 // rejected by the service
	failOther     uint64
)

func init() {
	flag.StringVar(&identityURL, "identity", "http://localhost:8080", "Identity service URL")
	flag.StringVar(&accountingURL, "accounting", "http://localhost:8081", "Accounting service URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "reads", "Workload type: reads | sessions")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(i, &wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker registers its own user with one account, then loops the
// selected workload over the encrypted channel until time is up.
func worker(id int, wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	ctx := context.Background()
	c := client.New()

	username := fmt.Sprintf("bench-%d-%d", id, time.Now().UnixNano())
	password := "bench-password"
	_, otpSecret, err := client.Register(ctx, c, identityURL, username, password)
	if err != nil {
		log.Printf("worker %d: register failed: %v", id, err)
		return
	}

	login := func() (*client.User, error) {
		code, err := totp.GenerateCode(otpSecret, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		return client.Login(ctx, c, identityURL, username, password, code)
	}

	user, err := login()
	if err != nil {
		log.Printf("worker %d: login failed: %v", id, err)
		return
	}
	account, err := client.CreateAccount(ctx, user, accountingURL, "bench", "")
	if err != nil {
		log.Printf("worker %d: create account failed: %v", id, err)
		return
	}

	for time.Since(start) < duration {
		switch workload {
		case "sessions":
			// full login/logout cycle per iteration
			u, err := login()
			record(err)
			if err != nil {
				continue
			}
			_, err = u.Logout(ctx)
			record(err)
		default:
			_, err := account.ForceUpdate(ctx)
			record(err)
		}
	}

	user.Logout(ctx)
}

func record(err error) {
	atomic.AddUint64(&totalRequests, 1)
	switch {
	case err == nil:
		atomic.AddUint64(&successOps, 1)
	case isRemote(err):
		atomic.AddUint64(&failRemote, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func isRemote(err error) bool {
	var remote *wire.RemoteError
	return errors.As(err, &remote)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&successOps)
	remote := atomic.LoadUint64(&failRemote)
	other := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": tps,
		"success":        ok,
		"rejected":       remote,
		"errors":         other,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
