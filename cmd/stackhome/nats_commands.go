package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/stackhome/service/nats"
)

// subscribeCommand streams feed or view events for a wallet.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Stream feed or home view events for a wallet",
		ArgsUsage: "STACKS_ADDRESS",
		Description: `Subscribe to events published to NATS JetStream for one wallet.

Feed events are published to feeds.{address} by the refresh workflow; rendered
home views are published to home.{address}.{session_id} by the server.

Example:
  stackhome --json nats subscribe --kind home SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Event kind to stream: feeds or home",
				Value: "feeds",
			},
			&cli.BoolFlag{
				Name:  "replay",
				Usage: "Replay retained events before streaming new ones",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("wallet address is required")
			}
			stream, subject, err := subscription(c.String("kind"), c.Args().Get(0))
			if err != nil {
				return err
			}
			return streamEvents(c.String("nats-url"), stream, subject, c.Bool("replay"), c.Bool("json"))
		},
	}
}

// subscription maps an event kind to its stream and the subject filter for
// address.
func subscription(kind, address string) (stream, subject string, err error) {
	switch kind {
	case "feeds":
		return natspkg.FeedStreamName, natspkg.FeedSubject(address), nil
	case "home":
		return natspkg.HomeStreamName, natspkg.HomeSubject(address, "*"), nil
	}
	return "", "", fmt.Errorf("unknown event kind %q (want feeds or home)", kind)
}

func streamEvents(natsURL, stream, subject string, replay, jsonOutput bool) error {
	nc, err := natspkg.Connect(natsURL, "stackhome-cli")
	if err != nil {
		return err
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	deliver := jetstream.DeliverNewPolicy
	if replay {
		deliver = jetstream.DeliverAllPolicy
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cons, err := js.OrderedConsumer(ctx, stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  deliver,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("📡 Subscribing to: %s (stream %s)\n", subject, stream)
		fmt.Printf("   NATS: %s\n", natsURL)
		fmt.Printf("\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 16)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	count := 0
	for {
		select {
		case msg := <-msgChan:
			count++
			if jsonOutput {
				fmt.Println(string(msg.Data()))
				continue
			}
			if err := printEvent(stream, msg.Data(), count); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
			}
		case <-sigChan:
			if !jsonOutput {
				fmt.Printf("\n\n✅ Received %d events\n", count)
			}
			return nil
		}
	}
}

func printEvent(stream string, data []byte, n int) error {
	fmt.Printf("─────────────────────────────────────────────────────\n")
	switch stream {
	case natspkg.FeedStreamName:
		var event natspkg.FeedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Printf("Feed #%d\n", n)
		fmt.Printf("Wallet:       %s\n", event.WalletAddress)
		fmt.Printf("Kind:         %s\n", event.Kind)
		fmt.Printf("Observed:     %s\n", event.ObservedAt.Format(time.RFC3339))
		if event.Loading {
			fmt.Printf("Loading:      true\n")
		}
		if event.Error != "" {
			fmt.Printf("Error:        %s\n", event.Error)
		}
		if event.Transactions != nil {
			fmt.Printf("Pending:      %d\n", len(event.Transactions.Pending))
			fmt.Printf("Confirmed:    %d\n", len(event.Transactions.Confirmed))
		}
	case natspkg.HomeStreamName:
		var event natspkg.HomeViewEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return err
		}
		fmt.Printf("View #%d\n", n)
		fmt.Printf("Wallet:       %s\n", event.WalletAddress)
		fmt.Printf("Session:      %s\n", event.SessionID)
		fmt.Printf("Card:         %s\n", event.View.CardState)
		fmt.Printf("Transactions: %d (%d pending)\n", len(event.View.Transactions), event.View.PendingCount)
		fmt.Printf("Published:    %s\n", event.PublishedAt.Format(time.RFC3339))
	}
	fmt.Printf("\n")
	return nil
}

// inspectStreamCommand shows information about a JetStream stream.
func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the FEEDS or HOME JetStream stream",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stream",
				Usage: "Stream name",
				Value: natspkg.FeedStreamName,
			},
		},
		Action: func(c *cli.Context) error {
			nc, err := natspkg.Connect(c.String("nats-url"), "stackhome-cli")
			if err != nil {
				return err
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, c.String("stream"))
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}
			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if done, err := emit(c, info); done {
				return err
			}
			fmt.Printf("Stream: %s\n", info.Config.Name)
			fmt.Printf("─────────────────────────────────────────────────────\n")
			fmt.Printf("Description:  %s\n", info.Config.Description)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			fmt.Printf("Storage:      %s\n", info.Config.Storage)
			return nil
		},
	}
}
