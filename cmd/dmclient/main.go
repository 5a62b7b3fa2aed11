package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"dm-service/api"
	"dm-service/config"
	"dm-service/restclient"
	"dm-service/syncclient"
	"dm-service/utils"
)

func main() {
	app := &cli.App{
		Name:  "dmclient",
		Usage: "terminal client for one-to-one conversations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-url",
				Value:   "http://localhost:8080",
				Usage:   "server base URL",
				EnvVars: []string{"DM_API_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "access token (see the signin command)",
				EnvVars: []string{"DM_TOKEN"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   restclient.DefaultTimeout,
				Usage:   "per-request timeout",
				EnvVars: []string{"DM_TIMEOUT"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log poll failures",
			},
		},
		Before: func(c *cli.Context) error {
			level := "warn"
			if c.Bool("verbose") {
				level = "debug"
			}
			utils.SetupLogger(level, true)
			return nil
		},
		Commands: []*cli.Command{
			signinCommand(),
			conversationsCommand(),
			openCommand(),
			watchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func client(c *cli.Context) *restclient.Client {
	return restclient.New(
		c.String("api-url"),
		restclient.WithTimeout(c.Duration("timeout")),
		restclient.WithAccessToken(c.String("token")),
	)
}

func signinCommand() *cli.Command {
	return &cli.Command{
		Name:  "signin",
		Usage: "sign in and print an access token",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "login", Required: true, Usage: "username or email"},
			&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"DM_PASSWORD"}},
		},
		Action: func(c *cli.Context) error {
			tokens, err := client(c).SignIn(c.Context, c.String("login"), c.String("password"))
			if err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			if tokens.OTP {
				fmt.Fprintln(os.Stderr, "2FA is enabled; validate the token before using it")
			}
			fmt.Println(tokens.Access)
			return nil
		},
	}
}

func conversationsCommand() *cli.Command {
	return &cli.Command{
		Name:    "conversations",
		Aliases: []string{"ls"},
		Usage:   "list your conversations, most recent first",
		Action: func(c *cli.Context) error {
			list, err := client(c).ListConversations(c.Context)
			if err != nil {
				return fmt.Errorf("list conversations: %w", err)
			}
			for _, conv := range list {
				last := "never"
				if conv.LastMessageAt != nil {
					last = conv.LastMessageAt.Local().Format(time.DateTime)
				}
				fmt.Printf("%s  %-20s  unread=%-3d  last=%s\n", conv.ID, conv.OtherParticipant.Name, conv.UnreadCount, last)
			}
			return nil
		},
	}
}

func openCommand() *cli.Command {
	return &cli.Command{
		Name:  "open",
		Usage: "get or create the conversation with another user",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "with", Required: true, Usage: "other user id"},
		},
		Action: func(c *cli.Context) error {
			conv, err := client(c).OpenConversation(c.Context, c.Uint("with"))
			if err != nil {
				return fmt.Errorf("open conversation: %w", err)
			}
			fmt.Println(conv.ID)
			return nil
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "follow a conversation; lines typed on stdin are sent",
		ArgsUsage: "<conversation-id>",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:    "interval",
				Value:   config.Duration("POLL_INTERVAL_MS", syncclient.DefaultInterval),
				Usage:   "poll interval",
				EnvVars: []string{"DM_POLL_INTERVAL"},
			},
			&cli.BoolFlag{Name: "no-backoff", Usage: "poll at a fixed interval even while the server fails"},
		},
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return cli.Exit("conversation id required", 2)
			}

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			seen := 0
			opts := []syncclient.Option{
				syncclient.WithInterval(c.Duration("interval")),
				syncclient.OnUpdate(func(msgs []api.Message) {
					if len(msgs) < seen {
						seen = 0
					}
					for _, m := range msgs[seen:] {
						fmt.Printf("[%s] %d: %s\n", m.CreatedAt.Local().Format(time.TimeOnly), m.SenderID, m.Content)
					}
					seen = len(msgs)
				}),
				syncclient.OnError(func(err error) {
					log.Debug().Err(err).Str("conversation", id).Msg("poll failed")
				}),
			}
			if c.Bool("no-backoff") {
				opts = append(opts, syncclient.WithoutBackoff())
			}

			manager := syncclient.NewManager(client(c), 1)
			view, err := manager.Open(ctx, id, opts...)
			if err != nil {
				return err
			}
			defer manager.CloseAll()

			lines := make(chan string)
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					lines <- scanner.Text()
				}
				close(lines)
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					if strings.TrimSpace(line) == "" {
						continue
					}
					if _, err := view.Send(ctx, line); err != nil {
						fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
					}
				}
			}
		},
	}
}
