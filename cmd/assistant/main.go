package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/routewise/assistant/internal/auth"
	"github.com/routewise/assistant/internal/config"
	"github.com/routewise/assistant/internal/event"
	"github.com/routewise/assistant/internal/model/chat"
	"github.com/routewise/assistant/internal/service/api"
	chatservice "github.com/routewise/assistant/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	creds, err := auth.NewStore(cfg.API.TokenFile)
	if err != nil {
		log.Fatalf("failed to open credential store: %v", err)
	}
	if creds.Expired(time.Now()) {
		fmt.Println("stored session has expired, please /login again")
	}

	client := api.NewClient(api.Config{
		BaseURL:        cfg.API.BaseURL,
		UserEmail:      cfg.API.UserEmail,
		RequestTimeout: cfg.API.RequestTimeout,
		StreamTimeout:  cfg.API.StreamTimeout,
	}, creds)

	bus := event.NewBus()
	svc := chatservice.NewService(client, creds, bus)
	defer svc.Close()

	svc.SetOnDelta(func(fragment string) {
		fmt.Print(fragment)
	})

	events, cancelSub := bus.Subscribe(16)
	defer cancelSub()
	go watchEvents(events)

	fmt.Printf("assistant client connected to %s\n", cfg.API.BaseURL)
	fmt.Println("commands: /login <email> <password>, /new, /list, /open <id>, /regen, /edit <text>, /attach <path> [description], /feedback up|down [comment], /quit")

	repl(ctx, svc, client)
}

func watchEvents(events <-chan event.Event) {
	for e := range events {
		switch e.Kind {
		case event.ConversationSelected:
			log.Printf("[ui] conversation %s selected", e.ID)
		case event.ConversationsRefreshed:
			log.Printf("[ui] conversation list refreshed")
		case event.LoggedOut:
			fmt.Println("\nsession expired, please /login again")
		}
	}
}

func repl(ctx context.Context, svc *chatservice.Service, client *api.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		if !strings.HasPrefix(line, "/") {
			runTurn(func() (*chatservice.TurnResult, error) {
				return svc.Send(ctx, line)
			})
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "/quit", "/exit":
			return

		case "/login":
			email, password, _ := strings.Cut(rest, " ")
			if email == "" || password == "" {
				fmt.Println("usage: /login <email> <password>")
				continue
			}
			if err := client.Login(ctx, email, strings.TrimSpace(password)); err != nil {
				fmt.Printf("login failed: %v\n", err)
				continue
			}
			fmt.Println("logged in")

		case "/new":
			svc.NewChat()
			fmt.Println("started a new chat")

		case "/list":
			summaries, err := svc.Conversations(ctx)
			if err != nil {
				fmt.Printf("list failed: %v\n", err)
				continue
			}
			for _, s := range summaries {
				fmt.Printf("%s  %-50s  %d messages\n", s.ID, s.Title, s.MessageCount)
			}

		case "/open":
			if rest == "" {
				fmt.Println("usage: /open <conversation-id>")
				continue
			}
			if err := svc.SelectConversation(ctx, rest); err != nil {
				fmt.Printf("open failed: %v\n", err)
				continue
			}
			printTranscript(svc.Messages())

		case "/regen":
			runTurn(func() (*chatservice.TurnResult, error) {
				return svc.Regenerate(ctx)
			})

		case "/edit":
			if rest == "" {
				fmt.Println("usage: /edit <new message text>")
				continue
			}
			runTurn(func() (*chatservice.TurnResult, error) {
				return svc.EditResend(ctx, rest)
			})

		case "/attach":
			path, description, _ := strings.Cut(rest, " ")
			if path == "" {
				fmt.Println("usage: /attach <path> [description]")
				continue
			}
			f, err := os.Open(path)
			if err != nil {
				fmt.Printf("attach failed: %v\n", err)
				continue
			}
			svc.Stage(chatservice.Attachment{
				Name:        filepath.Base(path),
				Description: strings.TrimSpace(description),
				Content:     f,
			})
			fmt.Printf("staged %s for the next message\n", filepath.Base(path))

		case "/feedback":
			sentiment, comment, _ := strings.Cut(rest, " ")
			if err := sendFeedback(ctx, svc, sentiment, strings.TrimSpace(comment)); err != nil {
				fmt.Printf("feedback failed: %v\n", err)
				continue
			}
			fmt.Println("feedback recorded")

		default:
			fmt.Printf("unknown command %s\n", cmd)
		}
	}
}

func runTurn(turn func() (*chatservice.TurnResult, error)) {
	result, err := turn()
	fmt.Println()
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return
		}
		fmt.Printf("turn failed: %v\n", err)
		return
	}
	if len(result.Message.Sources) > 0 {
		fmt.Printf("sources: %s\n", strings.Join(result.Message.Sources, ", "))
	}
	if result.Truncated {
		fmt.Println("(response may be incomplete: the stream ended early)")
	}
}

func sendFeedback(ctx context.Context, svc *chatservice.Service, sentiment, comment string) error {
	messages := svc.Messages()
	var question, answer string
	for i := len(messages) - 1; i >= 0; i-- {
		if answer == "" && messages[i].Role == chat.RoleAssistant {
			answer = messages[i].Content
		} else if answer != "" && messages[i].Role == chat.RoleUser {
			question = messages[i].Content
			break
		}
	}
	if answer == "" {
		return errors.New("no assistant answer to rate yet")
	}

	fb := api.Feedback{
		Question:  question,
		Answer:    answer,
		Comment:   comment,
		SessionID: svc.ConversationID(),
	}
	switch sentiment {
	case "up":
		fb.Type = api.FeedbackThumbsUp
	case "down":
		fb.Type = api.FeedbackThumbsDown
	default:
		return errors.New("usage: /feedback up|down [comment]")
	}
	return svc.SubmitFeedback(ctx, fb)
}

func printTranscript(messages []chat.Message) {
	for _, m := range messages {
		fmt.Printf("[%s] %s\n", m.Role, m.Content)
	}
}
