package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nicktill/tinyseries/pkg/config"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 30 * time.Second
)

var (
	addr            string
	dataDir         string
	maxStorageGB    int64
	maxMemoryMB     int64
	maxWorkers      int
	retentionPeriod time.Duration
	persistPeriod   time.Duration
)

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "./data/tsdbd", "Badger persistence directory")
	serveCmd.Flags().Int64Var(&maxStorageGB, "max-storage-gb", config.DefaultMaxStorageGB, "maximum on-disk storage in GB")
	serveCmd.Flags().Int64Var(&maxMemoryMB, "max-memory-mb", config.DefaultMaxMemoryMB, "Badger memtable/cache budget in MB (0 = auto)")
	serveCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "query worker pool size (0 = GOMAXPROCS)")
	serveCmd.Flags().DurationVar(&retentionPeriod, "retention-interval", config.CompactionInterval, "retention sweep interval")
	serveCmd.Flags().DurationVar(&persistPeriod, "persist-interval", 5*time.Second, "dirty-series flush interval")
	rootCmd.AddCommand(serveCmd)

	queryCmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "tsdbd address to query")
	queryCmd.Flags().Int64Var(&rangeStartFlag, "start", 0, "range start, unix ms (0 = now - window)")
	queryCmd.Flags().Int64Var(&rangeEndFlag, "end", 0, "range end, unix ms (0 = now)")
	queryCmd.Flags().DurationVar(&windowFlag, "window", config.QueryDefaultWindow, "lookback window when --start is omitted")
	queryCmd.Flags().DurationVar(&stepFlag, "step", config.QueryDefaultStep, "step for range queries")
	rootCmd.AddCommand(queryCmd)

	statsCmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "tsdbd address to query")
	rootCmd.AddCommand(statsCmd)
}

var rootCmd = &cobra.Command{
	Use:   "tsdbd",
	Short: "tsdbd is an illustrative standalone host for the tinyseries engine",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tsdbd HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var (
	rangeStartFlag int64
	rangeEndFlag   int64
	windowFlag     time.Duration
	stepFlag       time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query [expr]",
	Short: "Run a one-shot metricsql query against a running tsdbd",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(args[0])
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print storage and cardinality stats from a running tsdbd",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func runServe() error {
	log.Println("tsdbd: starting...")

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	log.Printf("tsdbd: data directory %s", dataDir)

	host, err := NewHost(HostConfig{
		DataDir:                dataDir,
		MaxStorageBytes:        maxStorageGB * 1024 * 1024 * 1024,
		MaxMemoryMB:            maxMemoryMB,
		MaxWorkers:             maxWorkers,
		RetentionSweepInterval: retentionPeriod,
		PersistInterval:        persistPeriod,
	})
	if err != nil {
		return fmt.Errorf("start host: %w", err)
	}
	log.Println("tsdbd: engine and Badger keyspace ready")

	hub := NewSeriesHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		host.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	log.Println("tsdbd: retention sweep, persistence flush, and websocket hub started")

	router := newRouter(host, hub)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	go func() {
		log.Printf("tsdbd: listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("tsdbd: server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("tsdbd: shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("tsdbd: http shutdown warning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Println("tsdbd: background tasks stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Println("tsdbd: background tasks did not stop in time, forcing exit")
	}

	if err := host.Close(); err != nil {
		log.Printf("tsdbd: error closing host: %v", err)
	}
	log.Println("tsdbd: exited cleanly")
	return nil
}

func runQuery(expr string) error {
	end := rangeEndFlag
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	start := rangeStartFlag
	if start == 0 {
		start = end - windowFlag.Milliseconds()
	}

	u := fmt.Sprintf("%s/v1/query_range?expr=%s&start=%d&end=%d&step=%dms",
		addr, urlEscape(expr), start, end, stepFlag.Milliseconds())
	body, err := httpGet(u)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runStats() error {
	body, err := httpGet(addr + "/v1/stats")
	if err != nil {
		return err
	}
	return printJSON(body)
}

func httpGet(endpoint string) ([]byte, error) {
	resp, err := http.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("tsdbd returned %s: %s", resp.Status, body)
	}
	return body, nil
}

func printJSON(body []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func urlEscape(s string) string {
	return url.QueryEscape(s)
}
