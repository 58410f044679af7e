package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"assistant-proxy/pkg/api"
	"assistant-proxy/pkg/client"

	"github.com/fatih/color"
)

var (
	serverURL   = flag.String("url", "http://localhost:3000", "Chat proxy base URL")
	assistantID = flag.String("assistant", "", "Assistant id overriding the server default")
	threadID    = flag.String("thread", "", "Existing thread to continue")
	timeout     = flag.Duration("timeout", 150*time.Second, "Timeout for each request")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		fmt.Println("\nShutting down...")
		cancel()
		os.Exit(0)
	}()

	chatClient := client.NewChatClient(*serverURL, *timeout)

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	fmt.Println(boldGreen("Assistant chat"))
	fmt.Printf("Server: %s\n", boldCyan(*serverURL))
	fmt.Println("Type your message and press Enter. Type '/history' to show the thread, 'exit' to quit.")
	fmt.Println()

	thread := *threadID
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch {
		case input == "":
			continue
		case strings.ToLower(input) == "exit":
			return
		case input == "/history":
			if thread == "" {
				fmt.Println(yellow("No conversation yet."))
				continue
			}
			history, err := chatClient.History(ctx, thread, 0)
			if err != nil {
				fmt.Fprintln(os.Stderr, red(fmt.Sprintf("Error: %v", err)))
				continue
			}
			for _, msg := range history.Messages {
				fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format(time.Kitchen), msg.Role, msg.Content)
			}
			fmt.Println()
			continue
		}

		req := api.ChatRequest{Message: input}
		if thread != "" {
			req.ThreadID = &thread
		}
		if *assistantID != "" {
			req.AssistantID = assistantID
		}

		resp, quota, err := chatClient.Send(ctx, req)
		if err != nil {
			var limited *client.RateLimitedError
			if errors.As(err, &limited) {
				fmt.Println(yellow(fmt.Sprintf("%s Retry in %v.", limited.Message, limited.RetryAfter)))
			} else {
				fmt.Fprintln(os.Stderr, red(fmt.Sprintf("Error: %v", err)))
			}
			continue
		}

		thread = resp.ThreadID
		if len(resp.Messages) == 0 {
			fmt.Println(yellow("(the assistant did not reply)"))
		}
		for _, msg := range resp.Messages {
			fmt.Printf("%s%s\n", boldCyan("Assistant: "), msg.Content)
		}
		fmt.Println(yellow(fmt.Sprintf("%d requests left in this window", quota.Remaining)))
		fmt.Println()
	}
}
