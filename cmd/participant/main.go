package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"go-traderoom/internal/account"
	"go-traderoom/internal/broker"
	"go-traderoom/internal/config"
	"go-traderoom/internal/db"
	"go-traderoom/internal/infra"
	"go-traderoom/internal/push"
	"go-traderoom/internal/room"
	"go-traderoom/internal/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	roomID := flag.String("room", "", "room (transaction) id to join")
	self := flag.String("as", "", "account id to act as")
	relayURL := flag.String("relay", "", "relay websocket url, e.g. ws://localhost:8080/ws; overrides BROKER")
	token := flag.String("token", "", "access token for the relay")
	flag.Parse()

	logger := infra.SetupLogger(cfg)
	if *roomID == "" || *self == "" {
		fmt.Fprintln(os.Stderr, "usage: participant -room <id> -as <account id> [-relay ws://host/ws -token <jwt>]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		logger.Error("❌ Failed to connect to DB", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	records := store.NewPostgres(database.Conn)
	accounts := account.NewService(account.NewRepository(database.Conn), cfg.JWTSecret)

	me, peer, err := participants(ctx, records, accounts, *roomID, *self)
	if err != nil {
		logger.Error("❌ Cannot join room", "room_id", *roomID, "error", err)
		os.Exit(1)
	}

	transport, closeTransport, err := connectTransport(ctx, cfg, *relayURL, *token, logger)
	if err != nil {
		logger.Error("❌ Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer closeTransport()

	pusher := push.NewClient(cfg.PushURL, logger)
	defer pusher.Wait()

	changed := make(chan struct{}, 1)
	r, err := room.Open(ctx, room.Config{
		RoomID:        *roomID,
		Self:          me,
		Counterparty:  peer,
		Transport:     transport,
		Store:         records,
		Freshness:     cfg.ReceiptFreshness,
		Heartbeat:     cfg.HeartbeatInterval,
		RetryInterval: 5 * time.Second,
		Logger:        logger,
		Notifier:      pusher,
		OnChange: func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		logger.Error("❌ Failed to open room", "error", err)
		os.Exit(1)
	}
	logger.Info("✅ Joined room", "room_id", *roomID, "as", me.Name, "with", peer.Name)

	var out lockedWriter
	out.w = os.Stdout
	go printChanges(ctx, r, changed, &out)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			err := execute(ctx, r, line, &out)
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				fmt.Fprintln(&out, "! "+describe(err))
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Close(closeCtx); err != nil {
		logger.Warn("room close failed", "error", err)
	}
	logger.Info("👋 Left room", "room_id", *roomID)
}

// participants resolves both sides of the room for account selfID.
func participants(ctx context.Context, records *store.Postgres, accounts *account.Service, roomID, selfID string) (room.Participant, room.Participant, error) {
	tx, err := records.GetTransaction(ctx, roomID)
	if err != nil {
		return room.Participant{}, room.Participant{}, err
	}
	if !tx.HasParticipant(selfID) {
		return room.Participant{}, room.Participant{}, fmt.Errorf("%s is not a participant", selfID)
	}
	if tx.Status != store.TransactionOngoing {
		return room.Participant{}, room.Participant{}, room.ErrFinished
	}

	me, err := accounts.Participant(ctx, selfID)
	if err != nil {
		return room.Participant{}, room.Participant{}, err
	}
	peer, err := accounts.Participant(ctx, tx.Counterparty(selfID))
	if err != nil {
		return room.Participant{}, room.Participant{}, err
	}
	return me, peer, nil
}

func connectTransport(ctx context.Context, cfg *config.Config, relayURL, token string, logger *slog.Logger) (broker.Transport, func(), error) {
	switch {
	case relayURL != "":
		return broker.NewWebSocket(relayURL, token, logger), func() {}, nil
	case cfg.Broker == "rabbitmq":
		mq, err := broker.NewRabbitMQ(cfg.RabbitMQURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return mq, func() { mq.Close() }, nil
	default:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, err
		}
		return broker.NewRedis(client, logger), func() { client.Close() }, nil
	}
}

// printChanges echoes log entries as they arrive.
func printChanges(ctx context.Context, r *room.Room, changed <-chan struct{}, out io.Writer) {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}

		entries := r.Interactions()
		slices.Reverse(entries)
		for _, it := range entries[min(printed, len(entries)):] {
			fmt.Fprintln(out, formatInteraction(it))
		}
		printed = len(entries)
	}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
