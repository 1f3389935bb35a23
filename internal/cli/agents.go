package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/store"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Manage agent templates",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agent templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		agents, err := st.ListAgents()
		if err != nil {
			return err
		}
		for _, a := range agents {
			fmt.Printf("%-16s %s\n", a.ID, a.Name)
			if a.Goal != "" {
				fmt.Printf("  goal: %s\n", a.Goal)
			}
			fmt.Printf("  on goal: %s   busy=%v fatigue=%v emoji=%v closing=%v\n",
				a.GoalBehavior, a.Behavior.SimulateBusy, a.Behavior.FatigueReduction,
				a.Behavior.EmojiAcks, a.Behavior.ClosingSuggestions)
		}
		return nil
	},
}

var (
	agentName         string
	agentGoal         string
	agentSystemPrompt string
	agentGoalBehavior string
)

var agentsCreateCmd = &cobra.Command{
	Use:   "create <agent-id>",
	Short: "Create or update an agent template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		a := &store.Agent{
			ID:           args[0],
			Name:         agentName,
			Goal:         agentGoal,
			SystemPrompt: agentSystemPrompt,
			GoalBehavior: store.GoalBehavior(agentGoalBehavior),
			Behavior: store.AgentBehavior{
				SimulateBusy:       true,
				FatigueReduction:   true,
				EmojiAcks:          true,
				ClosingSuggestions: true,
			},
		}
		if a.Name == "" {
			a.Name = a.ID
		}
		if err := st.SaveAgent(a); err != nil {
			return err
		}
		fmt.Printf("Agent %s saved.\n", a.ID)
		return nil
	},
}

func openStore() (*store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return nil, err
	}
	if err := st.SeedDefaultAgent(); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func init() {
	agentsCreateCmd.Flags().StringVar(&agentName, "name", "", "display name")
	agentsCreateCmd.Flags().StringVar(&agentGoal, "goal", "", "conversation goal")
	agentsCreateCmd.Flags().StringVar(&agentSystemPrompt, "system-prompt", "", "system prompt")
	agentsCreateCmd.Flags().StringVar(&agentGoalBehavior, "on-goal", string(store.GoalContinue), "auto-disable | handoff | continue")

	agentsCmd.AddCommand(agentsListCmd)
	agentsCmd.AddCommand(agentsCreateCmd)
}
