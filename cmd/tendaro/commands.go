package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tendaro/tendaro/internal/api"
	"github.com/tendaro/tendaro/internal/config"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <tenant> [message]",
	Short: "Ask the assistant a question (interactive without a message)",
	Long: `Ask the assistant a question as one of a tenant's customers.

Examples:
  tendaro ask halal-house "do you deliver to E1 6AN"
  tendaro ask halal-house        # interactive session`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant := args[0]
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 1 {
			_, err := sendTurn(cmd.Context(), client, tenant, "", strings.Join(args[1:], " "))
			return err
		}

		// Interactive: keep the session id across turns.
		fmt.Fprintln(os.Stderr, colorize(colorBold, "Interactive session — ctrl-d to quit"))
		scanner := bufio.NewScanner(os.Stdin)
		sessionID := ""
		for {
			fmt.Fprint(os.Stderr, colorize(colorCyan, "> "))
			if !scanner.Scan() {
				fmt.Fprintln(os.Stderr)
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			sid, err := sendTurn(cmd.Context(), client, tenant, sessionID, line)
			if err != nil {
				printError("%v", err)
				continue
			}
			sessionID = sid
		}
	},
}

func sendTurn(ctx context.Context, client *apiClient, tenant, sessionID, text string) (string, error) {
	resp, err := client.post(ctx, "/v1/turn", api.TurnRequestBody{
		Tenant:    tenant,
		SessionID: sessionID,
		Text:      text,
	})
	if err != nil {
		return "", err
	}

	var result api.TurnResponseBody
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}

	fmt.Println(result.Text)
	switch result.Outcome {
	case "escalate":
		printWarning("escalated: %s", result.Reason)
	case "failed":
		printError("turn failed (%s)", result.ErrorKind)
	}
	for _, f := range result.Facts {
		printStatus(f.Key, "%s (v%d)", f.Value, f.Version)
	}
	return result.SessionID, nil
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <tenant> <bundle.json>",
	Short: "Import a tenant data bundle and queue a reindex",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tenant, path := args[0], args[1]

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading bundle: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Importing bundle for %s...", tenant)
		resp, err := client.postRaw(cmd.Context(), "/v1/tenants/"+tenant+"/import", data)
		if err != nil {
			return err
		}

		var result struct {
			Version int64  `json:"version"`
			Status  string `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %s snapshot v%d (%s)", tenant, result.Version, result.Status)
		return nil
	},
}

// --- tenants ---

var tenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "List configured tenants",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/tenants")
		if err != nil {
			return err
		}

		var tenants []struct {
			Key             string `json:"Key"`
			Name            string `json:"Name"`
			SnapshotVersion int64  `json:"SnapshotVersion"`
		}
		if err := decodeJSON(resp, &tenants); err != nil {
			return err
		}

		if len(tenants) == 0 {
			fmt.Println("no tenants configured")
			return nil
		}
		for _, t := range tenants {
			fmt.Printf("  %s %s (snapshot v%d)\n", colorize(colorBold, t.Key), t.Name, t.SnapshotVersion)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
