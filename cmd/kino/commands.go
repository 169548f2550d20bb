package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/satriobp/kino/internal/config"
)

// defaultSession is the session the CLI talks to. The server creates it on
// first use.
const defaultSession = "default"

func sessionPath(suffix string) string {
	return "/sessions/" + defaultSession + suffix
}

func ensureSession(cmd *cobra.Command, client *apiClient) error {
	resp, err := client.post(cmd.Context(), "/sessions", map[string]string{"id": defaultSession})
	if err != nil {
		return err
	}
	var out map[string]string
	return decodeJSON(resp, &out)
}

func sendMessage(cmd *cobra.Command, client *apiClient, text string) (string, error) {
	resp, err := client.post(cmd.Context(), sessionPath("/messages"), map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	var result struct {
		Reply string `json:"reply"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", err
	}
	return result.Reply, nil
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Talk to the movie assistant",
	Long: `Talk to the movie assistant.

With a message argument, sends it and prints the reply. Without arguments,
starts an interactive session (exit with "quit" or Ctrl-D).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		if len(args) > 0 {
			reply, err := sendMessage(cmd, client, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		}

		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 64*1024)
		for {
			fmt.Fprint(os.Stderr, colorize(colorBold, "you> "))
			if !scanner.Scan() {
				fmt.Fprintln(os.Stderr)
				return scanner.Err()
			}
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if text == "quit" || text == "exit" {
				return nil
			}

			reply, err := sendMessage(cmd, client, text)
			if err != nil {
				printError("%v", err)
				continue
			}
			fmt.Printf("%s %s\n", colorize(colorCyan, "kino>"), reply)
		}
	},
}

// --- upload / ask ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a PDF document for Q&A",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		name := filepath.Base(args[0])
		printStep("Indexing %s...", name)
		path := sessionPath("/document") + "?name=" + url.QueryEscape(name)
		resp, err := client.postRaw(cmd.Context(), path, "application/pdf", data)
		if err != nil {
			return err
		}

		var result struct {
			Name   string `json:"name"`
			Pages  int    `json:"pages"`
			Chunks int    `json:"chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Indexed %s (%d pages, %d chunks)", result.Name, result.Pages, result.Chunks)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question about the uploaded document",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		reply, err := sendMessage(cmd, client, "About the uploaded document: "+strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}

// --- watchlist ---

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Show, export, or import the watchlist",
}

var watchlistShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the watchlist in insertion order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), sessionPath("/watchlist"))
		if err != nil {
			return err
		}

		var items []struct {
			Title           string   `json:"title"`
			DurationMinutes int      `json:"duration_minutes"`
			Genres          []string `json:"genres"`
			Rating          float64  `json:"rating"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("Watchlist is empty.")
			return nil
		}
		for i, it := range items {
			line := fmt.Sprintf("%2d. %s", i+1, colorize(colorBold, it.Title))
			if it.DurationMinutes > 0 {
				line += fmt.Sprintf("  %d min", it.DurationMinutes)
			}
			if len(it.Genres) > 0 {
				line += "  [" + strings.Join(it.Genres, ", ") + "]"
			}
			if it.Rating > 0 {
				line += fmt.Sprintf("  %.1f", it.Rating)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var watchlistExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the watchlist as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), sessionPath("/watchlist/export"))
		if err != nil {
			return err
		}

		var payload json.RawMessage
		if err := decodeJSON(resp, &payload); err != nil {
			return err
		}

		if output == "" {
			fmt.Println(string(payload))
			return nil
		}
		if err := os.WriteFile(output, payload, 0o644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		printSuccess("Watchlist exported to %s", output)
		return nil
	},
}

var watchlistImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Replace the watchlist with a previously exported file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		var payload json.RawMessage = data
		resp, err := client.post(cmd.Context(), sessionPath("/watchlist/import"), payload)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Imported %d items", result["imported"])
		return nil
	},
}

func init() {
	watchlistExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	watchlistCmd.AddCommand(watchlistShowCmd)
	watchlistCmd.AddCommand(watchlistExportCmd)
	watchlistCmd.AddCommand(watchlistImportCmd)
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule <minutes>",
	Short: "Plan a movie night from the watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		budget, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid minutes value %q", args[0])
		}
		genre, _ := cmd.Flags().GetString("genre")
		titles, _ := cmd.Flags().GetStringSlice("titles")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		body := map[string]any{"budget_minutes": budget}
		if genre != "" {
			body["genre"] = genre
		}
		if len(titles) > 0 {
			body["titles"] = titles
		}

		resp, err := client.post(cmd.Context(), sessionPath("/schedule"), body)
		if err != nil {
			return err
		}

		var result struct {
			Selected []struct {
				Title           string `json:"title"`
				DurationMinutes int    `json:"duration_minutes"`
			} `json:"selected"`
			TotalMinutes  int `json:"total_minutes"`
			UnusedMinutes int `json:"unused_minutes"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Selected) == 0 {
			fmt.Println("Nothing on the watchlist fits that time budget.")
			return nil
		}
		for i, m := range result.Selected {
			fmt.Printf("%2d. %s  (%d min)\n", i+1, colorize(colorBold, m.Title), m.DurationMinutes)
		}
		fmt.Printf("Total: %d min, %d min to spare.\n", result.TotalMinutes, result.UnusedMinutes)
		return nil
	},
}

func init() {
	scheduleCmd.Flags().String("genre", "", "only consider this genre")
	scheduleCmd.Flags().StringSlice("titles", nil, "only consider these titles")
}

// --- persona ---

var personaCmd = &cobra.Command{
	Use:   "persona [name]",
	Short: "Show or switch the reply persona",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		if len(args) == 0 {
			resp, err := client.get(cmd.Context(), sessionPath("/persona"))
			if err != nil {
				return err
			}
			var result map[string]string
			if err := decodeJSON(resp, &result); err != nil {
				return err
			}
			fmt.Println(result["persona"])
			return nil
		}

		resp, err := client.put(cmd.Context(), sessionPath("/persona"), map[string]string{"persona": args[0]})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Persona set to %s", result["persona"])
		return nil
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent conversation turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := ensureSession(cmd, client); err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("%s?limit=%d", sessionPath("/turns"), limit))
		if err != nil {
			return err
		}

		var turns []struct {
			CreatedAt string `json:"created_at"`
			UserText  string `json:"user_text"`
			ReplyText string `json:"reply_text"`
		}
		if err := decodeJSON(resp, &turns); err != nil {
			return err
		}

		if len(turns) == 0 {
			fmt.Println("No conversation yet.")
			return nil
		}
		for _, turn := range turns {
			fmt.Printf("%s\n", colorize(colorCyan, turn.CreatedAt))
			fmt.Printf("  %s %s\n", colorize(colorBold, "you>"), turn.UserText)
			fmt.Printf("  %s %s\n", colorize(colorBold, "kino>"), turn.ReplyText)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of turns to show")
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
