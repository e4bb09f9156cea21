// tail is a terminal viewer built on the sync subsystem: it connects as a
// given viewer, joins conversations and prints messages, typing presence and
// unread counters as they change. Useful for watching a conversation next to
// the portal and for poking the API without a browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/portalchat/internal/client"
	"github.com/portalchat/internal/logger"
	"github.com/portalchat/internal/model"
	"github.com/portalchat/internal/ws"
)

func main() {
	logger.SetPrefix("tail")
	url := flag.String("url", "http://localhost:8080", "API base URL")
	viewer := flag.String("viewer", "", "viewer id (required)")
	name := flag.String("name", "", "viewer display name")
	join := flag.String("join", "", "comma-separated conversation ids to join")
	flag.Parse()

	if *viewer == "" {
		fmt.Fprintln(os.Stderr, "usage: tail -viewer <id> [-name <name>] [-join <conv,conv>] [-url <base>]")
		os.Exit(2)
	}

	s := client.NewSyncer(client.Options{
		BaseURL:    *url,
		ViewerID:   *viewer,
		ViewerName: *name,
	}, client.Callbacks{
		OnMessage: func(convID string, m model.Message) {
			att := ""
			if m.Attachment != nil {
				att = fmt.Sprintf(" [attachment %s]", m.Attachment.Name)
			}
			fmt.Printf("[%s] %s: %s%s\n", short(convID), m.SenderID, m.Content, att)
		},
		OnHistory: func(convID string, msgs []model.Message) {
			fmt.Printf("[%s] history: %d messages\n", short(convID), len(msgs))
		},
		OnTyping: func(convID string, users []string) {
			if len(users) == 0 {
				return
			}
			fmt.Printf("[%s] typing: %s\n", short(convID), strings.Join(users, ", "))
		},
		OnUnread: func(convID string, n int, st client.CounterState) {
			if st == client.Stale {
				fmt.Printf("[%s] unread: stale\n", short(convID))
				return
			}
			fmt.Printf("[%s] unread: %d (%s)\n", short(convID), n, st)
		},
		OnAssigned: func(p ws.AssignedPayload) {
			fmt.Printf("[%s] assigned to %s\n", short(p.ConversationID), p.NewAgentID)
		},
		OnConversationDropped: func(convID string, err error) {
			fmt.Printf("[%s] dropped: %v\n", short(convID), err)
		},
		OnState: func(st client.State) {
			fmt.Printf("-- connection %s\n", st)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Close()
	}()

	for _, id := range strings.Split(*join, ",") {
		if id = strings.TrimSpace(id); id != "" {
			s.Join(id)
		}
	}

	// stdin: "/read <conv>" marks read, "<conv> <text>" sends, ctrl-c quits.
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if rest, ok := strings.CutPrefix(line, "/read "); ok {
				s.MarkRead(strings.TrimSpace(rest))
				continue
			}
			conv, text, ok := strings.Cut(line, " ")
			if !ok {
				fmt.Fprintln(os.Stderr, "expected: <conversation-id> <message>")
				continue
			}
			s.Send(conv, text, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	fmt.Println("bye")
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
