package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// GameResult mirrors the wire format consumed by the server
type GameResult struct {
	MatchID      string        `json:"match_id"`
	Participants []Participant `json:"participants"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Participant is one side of a simulated match
type Participant struct {
	ID      string `json:"id"`
	Outcome string `json:"outcome"`
}

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

func playerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// randomResult builds a match between two distinct players from the
// population. 10% of matches are draws.
func randomResult(totalPlayers int) GameResult {
	a := rand.Intn(totalPlayers)
	b := rand.Intn(totalPlayers - 1)
	if b >= a {
		b++
	}

	outcomeA, outcomeB := "win", "loss"
	switch {
	case rand.Intn(10) == 0:
		outcomeA, outcomeB = "draw", "draw"
	case rand.Intn(2) == 0:
		outcomeA, outcomeB = "loss", "win"
	}

	return GameResult{
		MatchID: uuid.New().String(),
		Participants: []Participant{
			{ID: playerName(a), Outcome: outcomeA},
			{ID: playerName(b), Outcome: outcomeB},
		},
		Timestamp: time.Now().UTC(),
	}
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "match-results", "Kafka topic")
	totalPlayers := flag.Int("players", 1000, "Size of the simulated player population")
	matchesPerSecond := flag.Int("rate", 100, "Match results per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	log.Printf("match producer starting: brokers=%s topic=%s players=%d rate=%d/s",
		*brokers, *topic, *totalPlayers, *matchesPerSecond)

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	// Create producer
	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	sendResult := func(result GameResult) {
		data, err := json.Marshal(result)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		// Keyed by the first participant so one player's matches stay ordered
		// within a partition.
		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(result.Participants[0].ID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	interval := time.Second / time.Duration(*matchesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var matchCount int64

	shutdown := func(reason string) {
		log.Printf("%s, shutting down...", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		log.Printf("completed: matches=%d sent=%d errors=%d",
			atomic.LoadInt64(&matchCount),
			atomic.LoadInt64(&successCount),
			atomic.LoadInt64(&errorCount),
		)
	}

	for {
		select {
		case <-sigChan:
			shutdown("interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("duration reached")
				return
			}

			sendResult(randomResult(*totalPlayers))
			atomic.AddInt64(&matchCount, 1)

		case <-statsTicker.C:
			log.Printf("matches=%d sent=%d errors=%d",
				atomic.LoadInt64(&matchCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
