package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/annel0/arena/internal/eventbus"
	"github.com/nats-io/nats.go"
)

const timeFormat = "2006-01-02T15:04:05Z"

// knownTypes события, которые публикует сервер арены
var knownTypes = []struct {
	Type        string
	Description string
}{
	{eventbus.EventPlayerJoined, "игрок создан"},
	{eventbus.EventPlayerConsumed, "успешное поглощение еды или игрока"},
	{eventbus.EventPlayerDied, "игрок съеден"},
	{eventbus.EventPlayerLeft, "соединение игрока закрыто"},
	{eventbus.EventPlayerRemoved, "игрок удалён из мира"},
	{eventbus.EventFoodSpawned, "появилась пачка еды"},
}

func main() {
	var (
		serverURL  = flag.String("nats", nats.DefaultURL, "NATS server URL")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		players    = flag.String("players", "", "Player IDs filter (comma-separated)")
		since      = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m) or RFC3339 time")
		limit      = flag.Int("limit", 100, "Maximum number of events")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
	)
	flag.Parse()

	if *command == "types" {
		showTypes()
		return
	}

	start, err := parseSinceTime(*since, time.Now())
	if err != nil {
		log.Fatalf("❌ Invalid since time: %v", err)
	}

	nc, err := nats.Connect(*serverURL)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		log.Fatalf("❌ JetStream unavailable: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	filter := eventFilter{types: parseStringList(*eventTypes), players: parseStringList(*players)}

	switch *command {
	case "tail":
		err = tailEvents(ctx, js, filter, start, *limit, *follow)
	case "stats":
		err = showStats(ctx, js, filter, start)
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("❌ %s failed: %v", *command, err)
	}
}

type eventFilter struct {
	types   []string
	players []string
}

func (f eventFilter) match(ev *eventbus.Envelope) bool {
	if len(f.types) > 0 && !contains(f.types, ev.EventType) {
		return false
	}
	if len(f.players) == 0 {
		return true
	}
	var payload map[string]interface{}
	if err := ev.Decode(&payload); err != nil {
		return false
	}
	for _, key := range []string{"playerId", "consumerId", "consumedId"} {
		if id, ok := payload[key].(string); ok && contains(f.players, id) {
			return true
		}
	}
	return false
}

// replay читает сообщения потока начиная с start, пока не наступит тишина idle
func replay(ctx context.Context, js nats.JetStreamContext, start time.Time, idle time.Duration, fn func(*eventbus.Envelope) bool) error {
	sub, err := js.SubscribeSync(eventbus.SubjectPrefix+".*", nats.OrderedConsumer(), nats.StartTime(start))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for ctx.Err() == nil {
		waitCtx := ctx
		var cancel context.CancelFunc = func() {}
		if idle > 0 {
			waitCtx, cancel = context.WithTimeout(ctx, idle)
		}
		msg, err := sub.NextMsgWithContext(waitCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil || idle > 0 {
				return nil
			}
			return err
		}

		var ev eventbus.Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			fmt.Printf("⚠️ Skipping malformed event on %s: %v\n", msg.Subject, err)
			continue
		}
		if !fn(&ev) {
			return nil
		}
	}
	return nil
}

// tailEvents выводит события, при follow продолжает ждать новые
func tailEvents(ctx context.Context, js nats.JetStreamContext, f eventFilter, start time.Time, limit int, follow bool) error {
	fmt.Printf("🎬 Tailing events since %s (limit: %d, follow: %v)\n", start.UTC().Format(timeFormat), limit, follow)

	idle := 2 * time.Second
	if follow {
		idle = 0
	}

	count := 0
	err := replay(ctx, js, start, idle, func(ev *eventbus.Envelope) bool {
		if !f.match(ev) {
			return true
		}
		printEvent(ev)
		count++
		return follow || count < limit
	})

	fmt.Printf("\n📊 Total events: %d\n", count)
	return err
}

// showStats считает события по типам
func showStats(ctx context.Context, js nats.JetStreamContext, f eventFilter, start time.Time) error {
	fmt.Println("📊 Event statistics")

	counts := make(map[string]int)
	total := 0
	err := replay(ctx, js, start, 2*time.Second, func(ev *eventbus.Envelope) bool {
		if f.match(ev) {
			counts[ev.EventType]++
			total++
		}
		return true
	})
	if err != nil {
		return err
	}

	fmt.Printf("Period: %s - now\n", start.UTC().Format(timeFormat))
	fmt.Printf("Total events: %d\n", total)
	fmt.Println("\nBy event type:")

	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %s: %d events\n", t, counts[t])
	}
	return nil
}

// showTypes выводит доступные типы событий
func showTypes() {
	fmt.Println("📋 Available event types")
	for _, t := range knownTypes {
		fmt.Printf("  %-16s %s (subject %s)\n", t.Type, t.Description, eventbus.Subject(t.Type))
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Local().Format("15:04:05"),
		ev.Source,
		ev.EventType,
		ev.ID)
	if len(ev.Payload) > 0 {
		fmt.Printf("  %s\n", ev.Payload)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m"
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return from, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		// Пробуем парсить как абсолютное время
		return time.Parse(timeFormat, since)
	}

	return from.Add(-duration), nil
}
