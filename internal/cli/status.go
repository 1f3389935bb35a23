package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatpilot/chatpilot/internal/config"
	"github.com/chatpilot/chatpilot/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ chatpilot Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 chatpilot Status")
		fmt.Printf("Version: %s\n", version)

		path, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				fmt.Println("Config:    ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:    ✗ Not found (defaults in effect)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config:    ✗ Unreadable: %v\n", err)
			return
		}
		if cfg.Providers.OpenAI.APIKey != "" {
			fmt.Println("API Key:   ✓ Found")
		} else {
			fmt.Println("API Key:   ✗ Not found (set CHATPILOT_API_KEY)")
		}
		fmt.Printf("Model:     %s (fallback %s)\n", cfg.Model.Name, cfg.Model.FallbackModel)
		fmt.Printf("Transport: %s\n", cfg.Messenger.Active)

		st, err := store.Open(cfg.Paths.DBPath)
		if err != nil {
			fmt.Printf("Store:     ✗ %v\n", err)
			return
		}
		defer st.Close()

		configs, err := st.ListChatConfigs()
		if err != nil {
			fmt.Printf("Chats:     ✗ %v\n", err)
			return
		}
		var enabled int
		for _, c := range configs {
			if c.Enabled {
				enabled++
			}
		}
		fmt.Printf("Autopilot: %d chat(s) known, %d enabled\n", len(configs), enabled)

		pending, err := st.ListPendingActions()
		if err == nil {
			fmt.Printf("Pending:   %d scheduled action(s)\n", len(pending))
		}
	},
}
