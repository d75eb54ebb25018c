// Command ask sends one question to the query endpoint and prints the
// answer as it streams in.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/internal/rag"
	"github.com/nikhilbhutani/ragconverse/pkg/eventstream"
)

func main() {
	url := flag.String("url", "http://localhost:8080/api/rag/query", "query endpoint")
	conv := flag.String("conversation", "", "conversation id to continue")
	timeout := flag.Duration("timeout", 3*time.Minute, "overall request timeout")
	verbose := flag.Bool("v", false, "log skipped frames")
	flag.Parse()

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: ask [-url URL] [-conversation ID] question...")
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	req := rag.QueryRequest{Query: query, ConversationID: *conv}
	if err := ask(ctx, http.DefaultClient, *url, req, os.Stdout, logger); err != nil {
		fmt.Fprintf(os.Stderr, "\n[error] %v\n", err)
		os.Exit(1)
	}
}

// ask posts req and writes deltas to out as they arrive. Sources and the
// conversation id follow the answer. An error event ends the output with a
// visible marker after whatever was already printed.
func ask(ctx context.Context, client *http.Client, url string, req rag.QueryRequest, out io.Writer, logger *slog.Logger) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e) != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("server returned %d: %s (%s)", resp.StatusCode, e.Error, e.Code)
	}

	var (
		sources  []eventstream.Source
		convID   string
		failure  error
		finished bool
	)
	err = eventstream.ReadAll(ctx, resp.Body, func(evt eventstream.Event) bool {
		switch evt.Type {
		case eventstream.TypeStream:
			fmt.Fprint(out, evt.Content)
			if len(evt.Sources) > 0 {
				sources = evt.Sources
			}
			convID = evt.ConversationID
		case eventstream.TypeComplete:
			convID = evt.ConversationID
			finished = true
		case eventstream.TypeError:
			failure = fmt.Errorf("%s (%s)", evt.Error, evt.Code)
		}
		return true
	}, eventstream.WithLogger(logger))
	fmt.Fprintln(out)

	if failure != nil {
		return failure
	}
	if err != nil {
		if errors.Is(err, eventstream.ErrIncompleteStream) {
			return fmt.Errorf("%w: %w", models.ErrFrameDecode, err)
		}
		return err
	}
	if !finished {
		return eventstream.ErrIncompleteStream
	}

	if len(sources) > 0 {
		fmt.Fprintln(out, "\nSources:")
		for _, s := range sources {
			fmt.Fprintf(out, "  - %s (%s) %s\n", s.Title, s.ScoreText, s.Link)
		}
	}
	fmt.Fprintf(out, "\nconversation: %s\n", convID)
	return nil
}
