package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chatpilot/chatpilot/internal/store"
)

var autopilotCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Manage per-chat autopilot",
}

var (
	autopilotAgentID  string
	autopilotMode     string
	autopilotDuration int
)

var autopilotEnableCmd = &cobra.Command{
	Use:   "enable <chat-id>",
	Short: "Enable autopilot for a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := store.ParseMode(autopilotMode)
		if err != nil {
			return err
		}
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		agentID := autopilotAgentID
		if agentID == "" {
			agentID = store.DefaultAgentID
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := rt.engine.Enable(ctx, args[0], agentID, mode, autopilotDuration); err != nil {
			return err
		}
		fmt.Printf("Autopilot enabled for %s (mode %s, agent %s)\n", args[0], mode, agentID)
		return nil
	},
}

var autopilotDisableCmd = &cobra.Command{
	Use:   "disable <chat-id>",
	Short: "Disable autopilot and cancel pending actions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.engine.Disable(args[0]); err != nil {
			return err
		}
		fmt.Printf("Autopilot disabled for %s\n", args[0])
		return nil
	},
}

var autopilotPauseCmd = &cobra.Command{
	Use:   "pause <chat-id>",
	Short: "Pause autopilot for a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.engine.Pause(args[0]); err != nil {
			return err
		}
		fmt.Printf("Autopilot paused for %s\n", args[0])
		return nil
	},
}

var autopilotResumeCmd = &cobra.Command{
	Use:   "resume <chat-id>",
	Short: "Resume a paused or errored chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.engine.Resume(args[0]); err != nil {
			return err
		}
		fmt.Printf("Autopilot resumed for %s\n", args[0])
		return nil
	},
}

var autopilotApproveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve a pending draft for immediate sending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.engine.Approve(args[0]); err != nil {
			return err
		}
		fmt.Println("Draft approved; it sends on the next scheduler tick.")
		return nil
	},
}

var autopilotRejectCmd = &cobra.Command{
	Use:   "reject <action-id>",
	Short: "Discard a pending draft",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		if err := rt.engine.Reject(args[0]); err != nil {
			return err
		}
		fmt.Println("Draft rejected.")
		return nil
	},
}

var autopilotRedoCmd = &cobra.Command{
	Use:   "redo <action-id>",
	Short: "Discard a pending draft and generate a fresh one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := rt.engine.Redo(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Draft regenerated.")
		return nil
	},
}

var listStatus string

var autopilotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List chats with autopilot state",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		var configs []*store.ChatConfig
		if listStatus != "" {
			status, err := store.ParseStatus(listStatus)
			if err != nil {
				return err
			}
			configs, err = rt.store.ListConfigsByStatus(status)
			if err != nil {
				return err
			}
		} else if configs, err = rt.store.ListChatConfigs(); err != nil {
			return err
		}
		if len(configs) == 0 {
			fmt.Println("No chats match.")
			return nil
		}
		for _, c := range configs {
			line := fmt.Sprintf("%-28s mode=%-15s status=%-14s handled=%d",
				c.ChatID, c.Mode, c.Status, c.MessagesHandled)
			switch c.Status {
			case store.StatusActive:
				fmt.Println(color.GreenString(line))
			case store.StatusError:
				fmt.Println(color.RedString(line + "  (" + c.LastError + ")"))
			default:
				fmt.Println(line)
			}
			if secs, ok, _ := rt.scheduler.SecondsUntilNext(c.ChatID); ok {
				fmt.Printf("  next send in %ds\n", secs)
			}
		}
		return nil
	},
}

var activityLimit int

var autopilotActivityCmd = &cobra.Command{
	Use:   "activity <chat-id>",
	Short: "Show a chat's autopilot activity log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		entries, err := rt.store.ListActivity(args[0], activityLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No activity recorded.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-22s", e.Timestamp.Format("2006-01-02 15:04:05"), e.Type)
			if e.DraftText != "" {
				fmt.Printf("  %q", truncate(e.DraftText, 60))
			} else if e.MessageText != "" {
				fmt.Printf("  %q", truncate(e.MessageText, 60))
			}
			fmt.Println()
		}
		return nil
	},
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

func init() {
	autopilotEnableCmd.Flags().StringVar(&autopilotAgentID, "agent", "", "agent template id (default: built-in assistant)")
	autopilotEnableCmd.Flags().StringVar(&autopilotMode, "mode", string(store.ModeSuggest), "observer | suggest | manual-approval | self-driving")
	autopilotEnableCmd.Flags().IntVar(&autopilotDuration, "duration", 0, "self-driving window in minutes (0 = unlimited)")
	autopilotListCmd.Flags().StringVar(&listStatus, "status", "", "only chats in this status (active, paused, error, ...)")
	autopilotActivityCmd.Flags().IntVar(&activityLimit, "limit", 20, "entries to show")

	autopilotCmd.AddCommand(autopilotEnableCmd)
	autopilotCmd.AddCommand(autopilotDisableCmd)
	autopilotCmd.AddCommand(autopilotPauseCmd)
	autopilotCmd.AddCommand(autopilotResumeCmd)
	autopilotCmd.AddCommand(autopilotApproveCmd)
	autopilotCmd.AddCommand(autopilotRejectCmd)
	autopilotCmd.AddCommand(autopilotRedoCmd)
	autopilotCmd.AddCommand(autopilotListCmd)
	autopilotCmd.AddCommand(autopilotActivityCmd)
}
