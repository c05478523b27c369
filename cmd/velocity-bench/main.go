// velocity-bench is a load generator for the engine's order endpoint.
//
// It spawns C workers that each place N/C random limit orders as fast as
// the server allows, records per-request latency, and prints a throughput
// and latency-quantile report from an HDR histogram.
//
//	velocity-bench -count 10000 -concurrency 50 -url http://localhost:8080
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"velocity/internal/api"
	"velocity/pkg/client"
	"velocity/pkg/types"
)

func main() {
	count := flag.Int("count", 10_000, "total orders to send")
	concurrency := flag.Int("concurrency", 50, "concurrent workers")
	url := flag.String("url", "http://localhost:8080", "engine base URL")
	flag.Parse()

	if *count < 1 || *concurrency < 1 {
		fmt.Fprintln(os.Stderr, "count and concurrency must be >= 1")
		os.Exit(1)
	}

	fmt.Printf("starting benchmark: %d orders | %d workers\ntarget: %s\n", *count, *concurrency, *url)

	ordersPerWorker := *count / *concurrency
	results := make([][]int64, *concurrency)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c := client.New(*url)
			latencies := make([]int64, 0, ordersPerWorker)

			// Wait for all workers to be ready
			<-start

			for j := 0; j < ordersPerWorker; j++ {
				side := types.Bid
				if rand.IntN(2) == 0 {
					side = types.Ask
				}
				req := api.PlaceOrderRequest{
					UserID:   rand.Uint64N(999) + 1,
					OrderID:  rand.Uint64(),
					Side:     side.String(),
					Price:    rand.Uint64N(20) + 90,
					Quantity: rand.Uint64N(99) + 1,
				}

				begin := time.Now()
				_, err := c.PlaceOrder(context.Background(), req)
				elapsed := time.Since(begin)
				if err != nil {
					continue
				}
				latencies = append(latencies, elapsed.Microseconds())
			}
			results[worker] = latencies
		}(i)
	}

	wallStart := time.Now()
	close(start)
	wg.Wait()
	wallElapsed := time.Since(wallStart)

	hist := hdrhistogram.New(1, 60_000_000, 3)
	sent := 0
	for _, latencies := range results {
		for _, lat := range latencies {
			hist.RecordValue(lat)
			sent++
		}
	}

	throughput := float64(sent) / wallElapsed.Seconds()

	fmt.Println("\n========================================")
	fmt.Println("BENCHMARK COMPLETE")
	fmt.Println("========================================")
	fmt.Printf("total time     : %v\n", wallElapsed.Round(time.Millisecond))
	fmt.Printf("completed      : %d/%d\n", sent, ordersPerWorker*(*concurrency))
	fmt.Printf("throughput     : %.2f orders/sec\n", throughput)
	fmt.Println("----------------------------------------")
	fmt.Println("latency (microseconds):")
	fmt.Printf("  avg          : %.2f\n", hist.Mean())
	fmt.Printf("  min          : %d\n", hist.Min())
	fmt.Printf("  p50          : %d\n", hist.ValueAtQuantile(50))
	fmt.Printf("  p90          : %d\n", hist.ValueAtQuantile(90))
	fmt.Printf("  p99          : %d\n", hist.ValueAtQuantile(99))
	fmt.Printf("  max          : %d\n", hist.Max())
	fmt.Println("========================================")
}
