// Command loadgen publishes synthetic keyed records to a Kafka topic in any
// of the supported metadata encodings and reports publish throughput and
// latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/kafka"
)

type Config struct {
	Brokers     []string
	Topic       string
	Format      action.MetadataSource
	Concurrency int
	Duration    time.Duration
}

type Stats struct {
	published   atomic.Int64
	errorCount  atomic.Int64
	byAction    [4]atomic.Int64
	latencies   []time.Duration
	latenciesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{latencies: make([]time.Duration, 0, 100000)}
}

func (s *Stats) RecordPublish(duration time.Duration, a action.Action, err error) {
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	s.published.Add(1)
	s.byAction[a].Add(1)
	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "comma-separated Kafka brokers")
	topic := flag.String("topic", "app-logs", "topic to publish to")
	format := flag.String("format", "key_json", "metadata encoding: key_doc_id, key_binary, key_json or embedded")
	concurrency := flag.Int("concurrency", 4, "number of concurrent publishers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	flag.Parse()

	src, err := action.ParseMetadataSource(*format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	cfg := Config{
		Brokers:     strings.Split(*brokers, ","),
		Topic:       *topic,
		Format:      src,
		Concurrency: *concurrency,
		Duration:    *duration,
	}

	fmt.Println("=== es-push Load Generator ===")
	fmt.Printf("Brokers:     %s\n", strings.Join(cfg.Brokers, ","))
	fmt.Printf("Topic:       %s\n", cfg.Topic)
	fmt.Printf("Format:      %s\n", cfg.Format)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Println()

	stats := run(cfg)
	printReport(stats, cfg.Duration)
}

func run(cfg Config) *Stats {
	stats := NewStats()
	producer := kafka.NewProducer(config.KafkaConfig{Brokers: cfg.Brokers}, cfg.Topic)
	defer producer.Close()
	gen := newGenerator(cfg.Format)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for seq := 0; ; seq++ {
				if ctx.Err() != nil {
					return
				}
				event, a, err := gen.next(workerID, seq, time.Now())
				if err != nil {
					stats.RecordPublish(0, a, err)
					continue
				}
				start := time.Now()
				err = producer.Publish(ctx, event)
				if ctx.Err() != nil {
					return
				}
				stats.RecordPublish(time.Since(start), a, err)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

type generator struct {
	format action.MetadataSource
	binary *codec.Binary
	json   *codec.JSON
}

func newGenerator(format action.MetadataSource) *generator {
	return &generator{format: format, binary: codec.NewBinary(), json: codec.NewJSON()}
}

// next builds one record. Every fifth record of a worker updates and every
// twentieth deletes the document indexed just before it; structured formats
// only, since the others can express INDEX alone.
func (g *generator) next(worker, seq int, now time.Time) (kafka.Event, action.Action, error) {
	a := action.ActionIndex
	docSeq := seq
	if g.format == action.SourceKeyBinary || g.format == action.SourceKeyJSON {
		switch {
		case seq > 0 && seq%20 == 0:
			a, docSeq = action.ActionDelete, seq-1
		case seq > 0 && seq%5 == 0:
			a, docSeq = action.ActionUpdate, seq-1
		}
	}
	id := fmt.Sprintf("w%d-%d", worker, docSeq)
	ts := now.UnixMilli()
	doc := map[string]any{
		"worker":  worker,
		"seq":     seq,
		"message": "synthetic record " + id,
	}

	var event kafka.Event
	switch g.format {
	case action.SourceKeyDocID:
		body, err := g.json.EncodeMap(doc)
		if err != nil {
			return event, a, err
		}
		event = kafka.Event{Key: []byte(id), Value: []byte(body)}
	case action.SourceEmbedded:
		doc["_id"] = id
		doc["@timestamp"] = ts
		body, err := g.json.EncodeMap(doc)
		if err != nil {
			return event, a, err
		}
		event = kafka.Event{Value: []byte(body)}
	default:
		key := action.Key{
			Action:            a,
			ID:                action.String(id),
			PartitionTsUnixMs: action.Int64(ts),
			EventTsUnixMs:     action.Int64(ts),
		}
		var keyBytes []byte
		if g.format == action.SourceKeyBinary {
			keyBytes = g.binary.EncodeKey(key)
		} else {
			var err error
			if keyBytes, err = g.json.EncodeKey(key); err != nil {
				return event, a, err
			}
		}
		event = kafka.Event{Key: keyBytes}
		if a != action.ActionDelete {
			body, err := g.json.EncodeMap(doc)
			if err != nil {
				return event, a, err
			}
			event.Value = []byte(body)
		}
	}
	return event, a, nil
}

func printReport(stats *Stats, duration time.Duration) {
	published := stats.published.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Published:       %d\n", published)
	fmt.Printf("Errors:          %d\n", errors)
	fmt.Printf("  INDEX:         %d\n", stats.byAction[action.ActionIndex].Load())
	fmt.Printf("  UPDATE:        %d\n", stats.byAction[action.ActionUpdate].Load())
	fmt.Printf("  DELETE:        %d\n", stats.byAction[action.ActionDelete].Load())
	if total := published + errors; total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(errors)/float64(total)*100)
		fmt.Printf("Records/sec:     %.2f\n", float64(published)/duration.Seconds())
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Println("=== Publish Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	if published == 0 {
		fmt.Println()
		fmt.Println("WARNING: No records published. Is Kafka running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
