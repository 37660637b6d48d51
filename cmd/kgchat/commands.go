package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/kgchat/internal/config"
	"github.com/kalambet/kgchat/internal/ingest"
	"github.com/kalambet/kgchat/internal/profile"
)

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Create, show, list and remove user profiles",
}

var profileInitCmd = &cobra.Command{
	Use:   "init <user>",
	Short: "Create an empty profile (resets an existing one)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/kg/init", map[string]string{"user_name": args[0]})
		if err != nil {
			return err
		}

		var result struct {
			Message string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s", result.Message)
		return nil
	},
}

var profileViewCmd = &cobra.Command{
	Use:   "view <user>",
	Short: "Show a profile as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/kg/view/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var p profile.Profile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		summary, _ := cmd.Flags().GetBool("summary")
		if summary {
			fmt.Println(profile.Summarize(p))
			return nil
		}
		return printJSON(p)
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profile names",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		users, err := fetchUsers(cmd.Context(), client)
		if err != nil {
			return err
		}

		if len(users) == 0 {
			fmt.Println("No profiles found.")
			return nil
		}
		for _, u := range users {
			fmt.Println(u)
		}
		return nil
	},
}

var profileRemoveCmd = &cobra.Command{
	Use:   "remove <user>",
	Short: "Delete a profile entirely",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete the profile of %s. Use --confirm to proceed.", args[0])
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/kg/profile/"+url.PathEscape(args[0]), nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}

		printSuccess("Removed profile %s", args[0])
		return nil
	},
}

func init() {
	profileViewCmd.Flags().Bool("summary", false, "print the plain-text summary instead of JSON")
	profileRemoveCmd.Flags().Bool("confirm", false, "confirm profile removal")
	profileCmd.AddCommand(profileInitCmd)
	profileCmd.AddCommand(profileViewCmd)
	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileRemoveCmd)
}

// --- kg ---

var kgCmd = &cobra.Command{
	Use:   "kg",
	Short: "Edit knowledge items of a profile",
	Long: `Edit knowledge items of a profile.

Fields: interests, skills, topics, personality_traits.

Examples:
  kgchat kg add alice interests hiking
  kgchat kg update alice skills Go Rust
  kgchat kg delete alice topics travel`,
}

var kgAddCmd = &cobra.Command{
	Use:   "add <user> <field> <value>",
	Short: "Append a value to a profile field",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := profile.ParseField(args[1])
		if err != nil {
			return err
		}
		body := map[string]string{"user_name": args[0], "field": field.String(), "value": args[2]}
		return sendKnowledgeEdit(cmd.Context(), "POST", "/kg/add", body)
	},
}

var kgUpdateCmd = &cobra.Command{
	Use:   "update <user> <field> <old_value> <new_value>",
	Short: "Replace a value in a profile field",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := profile.ParseField(args[1])
		if err != nil {
			return err
		}
		body := map[string]string{
			"user_name": args[0],
			"field":     field.String(),
			"old_value": args[2],
			"new_value": args[3],
		}
		return sendKnowledgeEdit(cmd.Context(), "PUT", "/kg/update", body)
	},
}

var kgDeleteCmd = &cobra.Command{
	Use:   "delete <user> <field> <value>",
	Short: "Remove a value from a profile field",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, err := profile.ParseField(args[1])
		if err != nil {
			return err
		}
		body := map[string]string{"user_name": args[0], "field": field.String(), "value": args[2]}
		return sendKnowledgeEdit(cmd.Context(), "DELETE", "/kg/delete", body)
	},
}

func sendKnowledgeEdit(ctx context.Context, method, path string, body map[string]string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.do(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	printSuccess("%s %s in %s", result["status"], describeEdit(result), result["field"])
	return nil
}

func describeEdit(result map[string]string) string {
	if result["status"] == "updated" {
		return fmt.Sprintf("%q -> %q", result["old_value"], result["new_value"])
	}
	return fmt.Sprintf("%q", result["value"])
}

func init() {
	kgCmd.AddCommand(kgAddCmd)
	kgCmd.AddCommand(kgUpdateCmd)
	kgCmd.AddCommand(kgDeleteCmd)
}

// --- chat ---

type chatReply struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

var chatCmd = &cobra.Command{
	Use:   "chat <user> [message...]",
	Short: "Chat as a user; reads lines from stdin when no message is given",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userName := args[0]
		sessionID, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 1 {
			reply, err := sendChat(cmd.Context(), client, sessionID, userName, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Println(reply.Response)
			printStatus("Session", "%s", reply.SessionID)
			return nil
		}

		return chatLoop(cmd.Context(), client, sessionID, userName, os.Stdin, os.Stdout)
	},
}

func sendChat(ctx context.Context, client *apiClient, sessionID, userName, input string) (chatReply, error) {
	resp, err := client.post(ctx, "/kg/chat", map[string]string{
		"session_id": sessionID,
		"user_name":  userName,
		"user_input": input,
	})
	if err != nil {
		return chatReply{}, err
	}

	var reply chatReply
	if err := decodeJSON(resp, &reply); err != nil {
		return chatReply{}, err
	}
	return reply, nil
}

// chatLoop sends each non-empty input line and keeps the session the server
// assigned on the first reply.
func chatLoop(ctx context.Context, client *apiClient, sessionID, userName string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, colorize(colorBold, "> "))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(out, colorize(colorBold, "> "))
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		reply, err := sendChat(ctx, client, sessionID, userName, line)
		if err != nil {
			return err
		}
		sessionID = reply.SessionID
		fmt.Fprintln(out, colorize(colorCyan, reply.Response))
		fmt.Fprint(out, colorize(colorBold, "> "))
	}
	fmt.Fprintln(out)
	if sessionID != "" {
		printStatus("Session", "%s", sessionID)
	}
	return scanner.Err()
}

func init() {
	chatCmd.Flags().String("session", "", "continue an existing session")
}

// --- learn ---

var learnCmd = &cobra.Command{
	Use:   "learn <user>",
	Short: "Queue a document to learn profile facts from",
	Long: `Queue a document to learn profile facts from.

Examples:
  kgchat learn alice --text "I love climbing. I'm good at chess."
  kgchat learn alice --file ./about-me.html
  kgchat learn alice --file ./resume.pdf --title "Resume"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		req := map[string]string{"user_name": args[0], "title": title}
		if text != "" {
			req["type"] = ingest.TypeText
			req["content"] = text
		} else {
			printStep("Reading %s", file)
			docType, content, err := readDocument(file)
			if err != nil {
				return err
			}
			req["type"] = docType
			req["content"] = content
			if title == "" {
				req["title"] = filepath.Base(file)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/kg/ingest", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued doc %s", result["id"])
		return nil
	},
}

// readDocument loads a file and picks the document type from its extension.
// PDF bytes are base64 encoded for the JSON body.
func readDocument(path string) (docType, content string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("reading file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return ingest.TypePDF, base64.StdEncoding.EncodeToString(data), nil
	case ".html", ".htm":
		return ingest.TypeHTML, string(data), nil
	default:
		return ingest.TypeText, string(data), nil
	}
}

func init() {
	learnCmd.Flags().String("text", "", "text content to learn from")
	learnCmd.Flags().String("file", "", "file path (.txt, .md, .html, .pdf)")
	learnCmd.Flags().String("title", "", "title for the document")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history <session_id>",
	Short: "Show or clear the messages of a chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clearSession, _ := cmd.Flags().GetBool("clear")
		path := "/kg/sessions/" + url.PathEscape(args[0])

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if clearSession {
			resp, err := client.delete(cmd.Context(), path, nil)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, nil); err != nil {
				return err
			}
			printSuccess("Cleared session %s", args[0])
			return nil
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var msgs []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}

		if len(msgs) == 0 {
			fmt.Println("No messages found.")
			return nil
		}
		for _, m := range msgs {
			role := colorize(colorBold, m.Role)
			if m.Role == "assistant" {
				role = colorize(colorCyan, m.Role)
			}
			fmt.Printf("%s: %s\n", role, m.Content)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("clear", false, "delete the session instead of showing it")
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

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "("+k.EnvVar+")"))
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
			printWarning("valid keys: %s", strings.Join(config.ValidKeys(), ", "))
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
