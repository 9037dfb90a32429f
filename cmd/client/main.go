package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/tbasson/pigeon/internal/client"
	"github.com/tbasson/pigeon/internal/conversation"
	"github.com/tbasson/pigeon/internal/presence"
	"github.com/tbasson/pigeon/internal/roster"
	"github.com/tbasson/pigeon/pkg/protocol"
)

// Config is read from the environment with the PIGEON_ prefix. Tokens come
// from `pigeon-server -mint <email>`.
type Config struct {
	ServerURL string `envconfig:"SERVER_URL" default:"ws://localhost:8080/ws"`
	RosterURL string `envconfig:"ROSTER_URL" default:"http://localhost:8080"`
	Token     string `envconfig:"TOKEN" validate:"required"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var config Config
	if err := envconfig.Process("PIGEON", &config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("logger setup failed: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := presence.NewTracker()
	conversations := conversation.NewStore()
	manager := client.NewManager(log, nil, config.ServerURL, tracker, conversations)
	session := client.NewSession(
		log,
		client.NewMemoryStore(config.Token),
		roster.New(log, config.RosterURL),
		manager,
		tracker,
		conversations,
	)
	defer session.Deactivate()

	if err := session.Activate(ctx); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}

	go printEvents(session)

	fmt.Println("Commands: /users, /open <email>, /quit. Anything else goes to the open conversation.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/users":
			for _, identity := range session.Users() {
				marker := " "
				if session.Online(identity) {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, identity)
			}
		case strings.HasPrefix(line, "/open "):
			identity := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			session.Select(identity)
			for _, msg := range session.Thread(identity) {
				printMessage(identity, msg)
			}
		default:
			if err := session.SendToActive(line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
	return scanner.Err()
}

// printEvents surfaces inbound traffic as it arrives; conversation history
// stays in the session's store either way.
func printEvents(session *client.Session) {
	for event := range session.Events() {
		switch e := event.(type) {
		case protocol.MessageEvent:
			fmt.Printf("[%s] %s: %s\n", e.SentAt.Local().Format("15:04:05"), e.From, e.Content)
		case protocol.UserStatusEvent:
			state := "offline"
			if e.Online {
				state = "online"
			}
			fmt.Printf("* %s is now %s\n", e.Email, state)
		}
	}
}

func printMessage(peer string, msg conversation.Message) {
	sender := msg.Sender
	if sender == conversation.SelfSender {
		sender = "me"
	} else {
		sender = peer
	}
	fmt.Printf("[%s] %s: %s\n", msg.SentAt.Local().Format("15:04:05"), sender, msg.Content)
}
