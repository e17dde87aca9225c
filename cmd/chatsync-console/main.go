// ABOUTME: Demo agent console — lists conversations, claims them, and replies.
// ABOUTME: Usage: chatsync-console -server http://localhost:8080 -agent 99 -token TOKEN

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
	"strconv"
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
	agentID := flag.Int64("agent", 0, "agent ID")
	token := flag.String("token", "", "bearer token (issue via chatsync-server token)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *agentID == 0 || *token == "" {
		log.Fatal("-agent and -token are required")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(*server, *agentID, *token, logger); err != nil {
		log.Fatal(err)
	}
}

func run(server string, agentID int64, token string, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	customerStyle := color.New(color.FgYellow, color.Bold)
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

	console := session.NewAgentController(api, mgr, reg, disp, tracker, agentID,
		func(msg *wire.ChatMessage) {
			if !msg.IsAgent {
				customerStyle.Printf("[conv %d] customer> ", msg.ConversationID)
				fmt.Println(msg.Content)
			}
		}, logger)

	if err := console.Open(ctx); err != nil {
		return err
	}
	defer console.SignOut()

	printQueue(console, dimStyle)
	fmt.Println(`commands: "list", "claim <conv>", "read <conv>", "<conv> <reply text>", "/quit"`)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit":
			return nil
		case line == "list":
			printQueue(console, dimStyle)
		case strings.HasPrefix(line, "claim "):
			convID, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "claim ")), 10, 64)
			if err != nil {
				color.Red("bad conversation id")
				continue
			}
			if err := console.Claim(ctx, convID); err != nil {
				color.Red("claim failed: %v", err)
			}
		case strings.HasPrefix(line, "read "):
			convID, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "read ")), 10, 64)
			if err != nil {
				color.Red("bad conversation id")
				continue
			}
			if err := console.MarkRead(ctx, convID); err != nil {
				color.Red("mark read failed: %v", err)
			}
		default:
			convID, text, ok := parseReply(line)
			if !ok {
				color.Red("expected: <conv> <reply text>")
				continue
			}
			if _, err := console.Reply(ctx, convID, text); err != nil {
				color.Red("reply failed to send, try again: %v", err)
			}
		}
	}
	return scanner.Err()
}

// parseReply splits "<conv> <text>" command lines.
func parseReply(line string) (int64, string, bool) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	convID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return convID, strings.TrimSpace(parts[1]), true
}

func printQueue(console *session.AgentController, style *color.Color) {
	for _, conv := range console.Conversations() {
		assigned := "unassigned"
		if conv.AgentID != nil {
			assigned = fmt.Sprintf("agent %d", *conv.AgentID)
		}
		unreadNote := ""
		if count, ok := console.UnreadCount(conv.ID); ok && count > 0 {
			unreadNote = fmt.Sprintf(" (%d unread)", count)
		}
		style.Printf("conv %d: customer %d, %s%s\n", conv.ID, conv.CustomerID, assigned, unreadNote)
	}
}
