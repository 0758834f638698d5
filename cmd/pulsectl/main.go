// pulsectl is a command line client for the fitpulse realtime API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fitpulse/pulse/clients/go/pulse"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pulsectl",
	Short: "fitpulse realtime client",
	Long: `pulsectl talks to the fitpulse realtime API as one user.

Environment:
  PULSE_URL      Server URL (default: http://localhost:8080)
  PULSE_CALLER   Caller user id sent as X-Caller-ID`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("url", envOr("PULSE_URL", "http://localhost:8080"), "Server URL")
	rootCmd.PersistentFlags().String("as", os.Getenv("PULSE_CALLER"), "Caller user id")

	readCmd.Flags().Int("limit", 20, "Number of messages")
	watchCmd.Flags().Duration("interval", 2*time.Second, "Poll interval")
	watchCmd.Flags().Bool("backlog", false, "Print messages already in the conversation")
	waterHistoryCmd.Flags().String("user", "", "User id (default: caller)")

	waterCmd.AddCommand(waterLogCmd, waterHistoryCmd)
	rootCmd.AddCommand(healthCmd, sendCmd, readCmd, typingCmd, watchCmd, waterCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient(cmd *cobra.Command) (*pulse.Client, error) {
	baseURL, _ := cmd.Flags().GetString("url")
	caller, _ := cmd.Flags().GetString("as")
	if caller == "" && cmd.Name() != "health" {
		return nil, fmt.Errorf("caller id required: set --as or PULSE_CALLER")
	}
	return pulse.NewClient(baseURL, caller), nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		resp, err := c.Health(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation> <message>",
	Short: "Send a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		msg, err := c.SendMessage(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Sent: %s\n", msg.ID)
		return nil
	},
}

var readCmd = &cobra.Command{
	Use:   "read <conversation>",
	Short: "Read recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		resp, err := c.ListMessages(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		for _, msg := range resp.Messages {
			printMessage(msg)
		}
		return nil
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing <conversation> [on|off]",
	Short: "Show or set typing state",
	Long: `Without a state, shows whether the other party is typing.
With on or off, starts or stops the caller's typing signal.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		if len(args) == 2 {
			switch args[1] {
			case "on":
				return c.SetTyping(cmd.Context(), args[0], true)
			case "off":
				return c.SetTyping(cmd.Context(), args[0], false)
			default:
				return fmt.Errorf("state must be on or off, got %q", args[1])
			}
		}

		sig, err := c.GetTyping(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if sig == nil {
			fmt.Println("nobody is typing")
			return nil
		}
		fmt.Printf("%s is typing\n", short(sig.ActorID))
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <conversation>",
	Short: "Poll a conversation and print new messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		interval, _ := cmd.Flags().GetDuration("interval")
		backlog, _ := cmd.Flags().GetBool("backlog")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p := &pulse.Poller[pulse.Message]{
			Interval:    interval,
			SkipBacklog: !backlog,
			Key:         func(m pulse.Message) string { return m.ID },
			Fetch: func(ctx context.Context) ([]pulse.Message, error) {
				resp, err := c.ListMessages(ctx, args[0], 0)
				if err != nil {
					return nil, err
				}
				return resp.Messages, nil
			},
			OnError: func(err error) {
				fmt.Fprintln(os.Stderr, "poll failed:", err)
			},
		}

		if err := p.Run(ctx, printMessage); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

var waterCmd = &cobra.Command{
	Use:   "water",
	Short: "Log and read water intake",
}

var waterLogCmd = &cobra.Command{
	Use:   "log <total_ml> [day]",
	Short: "Set the caller's water total for a day (default: today)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}

		var total float64
		if _, err := fmt.Sscanf(args[0], "%g", &total); err != nil {
			return fmt.Errorf("invalid amount %q", args[0])
		}
		day := time.Now().UTC().Format("2006-01-02")
		if len(args) == 2 {
			day = args[1]
		}

		if err := c.LogWater(cmd.Context(), c.CallerID, day, total); err != nil {
			return err
		}
		fmt.Printf("Logged %g ml for %s\n", total, day)
		return nil
	},
}

var waterHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show daily water totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = c.CallerID
		}

		points, err := c.WaterHistory(cmd.Context(), user)
		if err != nil {
			return err
		}
		for _, p := range points {
			fmt.Printf("%s  %6.0f ml\n", p.Day, p.Value)
		}
		return nil
	},
}

func printMessage(msg pulse.Message) {
	fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("2006-01-02 15:04:05"), short(msg.SenderID), msg.Content)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
