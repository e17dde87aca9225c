// ABOUTME: Demo customer widget — connects to a gateway and chats from the terminal.
// ABOUTME: Usage: chatsync-widget -server http://localhost:8080 -customer 42 -token TOKEN

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"

	"github.com/storeline/chatsync/internal/conn"
	"github.com/storeline/chatsync/internal/dispatch"
	"github.com/storeline/chatsync/internal/httpapi"
	"github.com/storeline/chatsync/internal/registry"
	"github.com/storeline/chatsync/internal/session"
	"github.com/storeline/chatsync/internal/unread"
	"github.com/storeline/chatsync/internal/wire"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "gateway base URL")
	customerID := flag.Int64("customer", 0, "customer ID")
	token := flag.String("token", "", "bearer token (issue via chatsync-server token)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *customerID == 0 || *token == "" {
		log.Fatal("-customer and -token are required")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*server, *customerID, *token, logger); err != nil {
		log.Fatal(err)
	}
}

func run(server string, customerID int64, token string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	agentStyle := color.New(color.FgCyan, color.Bold)
	meStyle := color.New(color.FgGreen)
	dimStyle := color.New(color.Faint)

	api := httpapi.NewClient(server, token)
	wsURL := strings.Replace(server, "http", "ws", 1) + "/ws"
	mgr := conn.NewManager(conn.WebsocketDialer(wsURL, token), conn.Options{Logger: logger})
	reg := registry.New(mgr, logger)
	disp := dispatch.New(mgr, reg, logger)
	defer disp.Close()
	tracker := unread.New(api, logger)

	mgr.OnError(func(err error) {
		dimStyle.Fprintln(os.Stderr, "connection lost:", err)
	})

	widget := session.NewCustomerController(api, mgr, reg, disp, tracker, customerID,
		func(msg *wire.ChatMessage) {
			if msg.IsAgent {
				agentStyle.Printf("agent> ")
				fmt.Println(msg.Content)
			} else {
				meStyle.Printf("you> ")
				fmt.Println(msg.Content)
			}
		}, logger)

	if err := widget.Open(ctx); err != nil {
		return err
	}
	defer widget.SignOut()

	conv := widget.Conversation()
	dimStyle.Printf("conversation %d, %d earlier messages\n", conv.ID, len(widget.Messages()))
	for _, msg := range widget.Messages() {
		who := "you"
		if msg.IsAgent {
			who = "agent"
		}
		dimStyle.Printf("%s> %s\n", who, msg.Content)
	}
	if err := widget.MarkRead(ctx); err != nil {
		logger.Warn("mark read failed", "err", err)
	}

	// Badge poller keeps an unread indicator fresh even with the widget
	// surface conceptually closed.
	badge := unread.NewBadgePoller(api, customerID, 0, func(count int) {
		if count > 0 {
			dimStyle.Fprintf(os.Stderr, "[%d unread]\n", count)
		}
	}, logger)
	go badge.Run(ctx)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/quit" {
			break
		}
		if _, err := widget.Send(ctx, text); err != nil {
			color.Red("message failed to send, try again: %v", err)
		}
	}
	return scanner.Err()
}
