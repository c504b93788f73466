// Package main - agitator
// Load generator for the colony server: many concurrent WebSocket clients
// spamming BUILD, TICK and SNAPSHOT commands at one shared colony.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Config for the agitator
type Config struct {
	ServerURL      string
	NumClients     int
	ActionInterval time.Duration
	TestDuration   time.Duration
	GridSize       int
	Output         string
}

// Stats tracks performance metrics
type Stats struct {
	MessagesSent     int64
	MessagesReceived int64
	TickFrames       int64
	BuildsOK         int64
	RateLimited      int64
	Errors           int64

	mu           sync.Mutex
	Latencies    []time.Duration
	BuildsFailed map[string]int64
	LastTick     int
}

// Command types for simulation, weighted towards builds.
var commandTypes = []string{"BUILD", "BUILD", "BUILD", "TICK", "SNAPSHOT"}

var buildingTypes = []string{"SOLAR_PANEL", "HYDROPONIC_FARM", "WATER_EXTRACTOR", "MINE", "HABITAT"}

type reply struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Error   string          `json:"error"`
	Payload json.RawMessage `json:"payload"`
}

func main() {
	// Parse flags
	serverURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	numClients := flag.Int("clients", 50, "Number of concurrent clients")
	interval := flag.Duration("interval", 100*time.Millisecond, "Command interval per client")
	duration := flag.Duration("duration", 60*time.Second, "Test duration")
	grid := flag.Int("grid", 32, "Grid size to aim builds at")
	output := flag.String("out", "stress_test_results.json", "Results file (empty to skip)")
	flag.Parse()

	config := Config{
		ServerURL:      *serverURL,
		NumClients:     *numClients,
		ActionInterval: *interval,
		TestDuration:   *duration,
		GridSize:       *grid,
		Output:         *output,
	}

	fmt.Println("=========================================")
	fmt.Println("🔥 AGITATOR - Colony Stress Test Tool")
	fmt.Println("=========================================")
	fmt.Printf("Server: %s\n", config.ServerURL)
	fmt.Printf("Clients: %d\n", config.NumClients)
	fmt.Printf("Interval: %v\n", config.ActionInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)
	fmt.Println("=========================================")

	// Setup graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		fmt.Println("\n⚠️ Interrupt received, stopping...")
		cancel()
	}()

	// Run the stress test
	stats := runStressTest(ctx, config)

	// Print results
	printResults(stats, config)
}

func runStressTest(ctx context.Context, config Config) *Stats {
	stats := &Stats{
		Latencies:    make([]time.Duration, 0, 10000),
		BuildsFailed: make(map[string]int64),
	}

	var wg sync.WaitGroup

	fmt.Println("\n🚀 Starting clients...")

	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}

	fmt.Printf("✅ All %d clients started\n\n", config.NumClients)

	// Progress updates
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sent := atomic.LoadInt64(&stats.MessagesSent)
				recv := atomic.LoadInt64(&stats.MessagesReceived)
				errs := atomic.LoadInt64(&stats.Errors)
				stats.mu.Lock()
				tick := stats.LastTick
				stats.mu.Unlock()
				fmt.Printf("📊 Progress: Sent=%d Recv=%d Errors=%d Tick=%d\n", sent, recv, errs, tick)
			}
		}
	}()

	wg.Wait()
	return stats
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, config.ServerURL, nil)
	if err != nil {
		log.Printf("Client %d: Connection failed: %v", clientID, err)
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	var pending sync.Map // command id -> send time

	// Start receiver goroutine
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			// The server batches queued messages into one frame.
			for _, line := range bytes.Split(frame, []byte{'\n'}) {
				atomic.AddInt64(&stats.MessagesReceived, 1)
				handleReply(line, &pending, stats)
			}
		}
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(clientID)))
	ticker := time.NewTicker(config.ActionInterval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			seq++
			id := fmt.Sprintf("c%03d-%d", clientID, seq)
			cmd := generateRandomCommand(rng, id, config.GridSize)

			pending.Store(id, time.Now())
			if err := conn.WriteJSON(cmd); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.MessagesSent, 1)
		}
	}
}

func handleReply(line []byte, pending *sync.Map, stats *Stats) {
	var r reply
	if err := json.Unmarshal(line, &r); err != nil {
		atomic.AddInt64(&stats.Errors, 1)
		return
	}

	if r.ID != "" {
		if sent, ok := pending.LoadAndDelete(r.ID); ok {
			stats.mu.Lock()
			stats.Latencies = append(stats.Latencies, time.Since(sent.(time.Time)))
			stats.mu.Unlock()
		}
	}

	switch r.Type {
	case "TICK":
		atomic.AddInt64(&stats.TickFrames, 1)
		var t struct {
			Tick int `json:"tick"`
		}
		if json.Unmarshal(r.Payload, &t) == nil {
			stats.mu.Lock()
			if t.Tick > stats.LastTick {
				stats.LastTick = t.Tick
			}
			stats.mu.Unlock()
		}
	case "BUILD_RESULT":
		var b struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		if json.Unmarshal(r.Payload, &b) != nil {
			atomic.AddInt64(&stats.Errors, 1)
			return
		}
		if b.Success {
			atomic.AddInt64(&stats.BuildsOK, 1)
			return
		}
		stats.mu.Lock()
		stats.BuildsFailed[b.Error]++
		stats.mu.Unlock()
	case "ERROR":
		if r.Error == "rate limit exceeded" {
			atomic.AddInt64(&stats.RateLimited, 1)
			return
		}
		atomic.AddInt64(&stats.Errors, 1)
	}
}

func generateRandomCommand(rng *rand.Rand, id string, grid int) map[string]interface{} {
	cmdType := commandTypes[rng.Intn(len(commandTypes))]

	cmd := map[string]interface{}{
		"type": cmdType,
		"id":   id,
	}

	if cmdType == "BUILD" {
		cmd["building"] = buildingTypes[rng.Intn(len(buildingTypes))]
		// Aim slightly past the edge so out-of-bounds gets exercised too.
		cmd["x"] = rng.Intn(grid+2) - 1
		cmd["y"] = rng.Intn(grid+2) - 1
	}

	return cmd
}

func printResults(stats *Stats, config Config) {
	fmt.Println("\n=========================================")
	fmt.Println("📊 STRESS TEST RESULTS")
	fmt.Println("=========================================")

	sent := atomic.LoadInt64(&stats.MessagesSent)
	recv := atomic.LoadInt64(&stats.MessagesReceived)
	errs := atomic.LoadInt64(&stats.Errors)
	limited := atomic.LoadInt64(&stats.RateLimited)

	fmt.Printf("Commands Sent:     %d\n", sent)
	fmt.Printf("Messages Received: %d (tick frames %d)\n", recv, atomic.LoadInt64(&stats.TickFrames))
	fmt.Printf("Builds OK:         %d\n", atomic.LoadInt64(&stats.BuildsOK))

	stats.mu.Lock()
	codes := make([]string, 0, len(stats.BuildsFailed))
	for code := range stats.BuildsFailed {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("Builds %-22s %d\n", code+":", stats.BuildsFailed[code])
	}
	lastTick := stats.LastTick
	latencies := append([]time.Duration(nil), stats.Latencies...)
	stats.mu.Unlock()

	fmt.Printf("Rate Limited:      %d\n", limited)
	fmt.Printf("Errors:            %d\n", errs)
	fmt.Printf("Error Rate:        %.2f%%\n", float64(errs)/float64(sent+1)*100)
	fmt.Printf("Last Tick Seen:    %d\n", lastTick)

	// Calculate throughput
	throughput := float64(sent) / config.TestDuration.Seconds()
	fmt.Printf("Throughput:        %.2f cmd/sec\n", throughput)

	// Latency stats
	var p50, p99, slowest time.Duration
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		p50 = latencies[len(latencies)/2]
		p99 = latencies[len(latencies)*99/100]
		slowest = latencies[len(latencies)-1]

		fmt.Printf("\nReply latency:\n")
		fmt.Printf("  Min: %v\n", latencies[0])
		fmt.Printf("  P50: %v\n", p50)
		fmt.Printf("  P99: %v\n", p99)
		fmt.Printf("  Max: %v\n", slowest)
	}

	// Verdict
	fmt.Println("\n-----------------------------------------")
	if errs == 0 {
		fmt.Println("✅ TEST PASSED: System handled the load")
	} else if float64(errs)/float64(sent+1) < 0.05 {
		fmt.Println("⚠️ TEST WARNING: Some errors detected")
	} else {
		fmt.Println("❌ TEST FAILED: High error rate")
	}
	fmt.Println("=========================================")

	if config.Output == "" {
		return
	}

	// Export results as JSON
	results := map[string]interface{}{
		"commands_sent":      sent,
		"messages_received":  recv,
		"builds_ok":          atomic.LoadInt64(&stats.BuildsOK),
		"rate_limited":       limited,
		"errors":             errs,
		"last_tick":          lastTick,
		"throughput_per_sec": throughput,
		"latency_p50_ms":     float64(p50) / 1e6,
		"latency_p99_ms":     float64(p99) / 1e6,
		"config": map[string]interface{}{
			"clients":  config.NumClients,
			"interval": config.ActionInterval.String(),
			"duration": config.TestDuration.String(),
		},
	}

	jsonData, _ := json.MarshalIndent(results, "", "  ")
	os.WriteFile(config.Output, jsonData, 0644)
	fmt.Printf("\n📁 Results saved to %s\n", config.Output)
}
