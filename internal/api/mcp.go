package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/kgchat/internal/chat"
	"github.com/kalambet/kgchat/internal/profile"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Profiles *profile.Manager
	Chat     *chat.Service
}

// NewMCPServer creates an MCP server exposing profile and chat tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"kgchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kgchat keeps a profile of interests, skills, topics and personality traits per user and learns from chat messages."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("init_profile",
			mcp.WithDescription("Create an empty profile for a user. An existing profile is reset."),
			mcp.WithString("user_name", mcp.Description("User name"), mcp.Required()),
		),
		mcpInitProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("view_profile",
			mcp.WithDescription("Return the stored profile of a user as JSON."),
			mcp.WithString("user_name", mcp.Description("User name"), mcp.Required()),
		),
		mcpViewProfile(deps),
	)

	s.AddTool(
		mcp.NewTool("add_knowledge",
			mcp.WithDescription("Add a value to one list of a user's profile."),
			mcp.WithString("user_name", mcp.Description("User name"), mcp.Required()),
			mcp.WithString("field", mcp.Description("One of interest, skill, topic, personality_trait"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to add"), mcp.Required()),
		),
		mcpAddKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("update_knowledge",
			mcp.WithDescription("Replace a value in one list of a user's profile."),
			mcp.WithString("user_name", mcp.Description("User name"), mcp.Required()),
			mcp.WithString("field", mcp.Description("One of interest, skill, topic, personality_trait"), mcp.Required()),
			mcp.WithString("old_value", mcp.Description("Value to replace"), mcp.Required()),
			mcp.WithString("new_value", mcp.Description("Replacement value"), mcp.Required()),
		),
		mcpUpdateKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_knowledge",
			mcp.WithDescription("Remove a value from one list of a user's profile."),
			mcp.WithString("user_name", mcp.Description("User name"), mcp.Required()),
			mcp.WithString("field", mcp.Description("One of interest, skill, topic, personality_trait"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to remove"), mcp.Required()),
		),
		mcpDeleteKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send a message as a user; the assistant learns from it and replies."),
			mcp.WithString("user_name", mcp.Description("User name"), mcp.Required()),
			mcp.WithString("message", mcp.Description("User message"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Existing session id; a new session is started when empty")),
		),
		mcpChat(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kg://users",
			"Known Users",
			mcp.WithResourceDescription("Names of all users with a stored profile"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceUsers(deps),
	)

	return s
}

func mcpInitProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("user_name")
		if err != nil {
			return mcpError("user_name is required"), nil
		}
		p, err := deps.Profiles.Init(name)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to init profile: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Knowledge graph initialized for %s", p.UserName)), nil
	}
}

func mcpViewProfile(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("user_name")
		if err != nil {
			return mcpError("user_name is required"), nil
		}
		p, err := deps.Profiles.Get(name)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to load profile: %v", err)), nil
		}
		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal profile: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

// knowledgeArgs reads the user_name and field arguments shared by the edit tools.
func knowledgeArgs(req mcp.CallToolRequest) (string, profile.Field, *mcp.CallToolResult) {
	name, err := req.RequireString("user_name")
	if err != nil {
		return "", 0, mcpError("user_name is required")
	}
	raw, err := req.RequireString("field")
	if err != nil {
		return "", 0, mcpError("field is required")
	}
	field, err := profile.ParseField(raw)
	if err != nil {
		return "", 0, mcpError(err.Error())
	}
	return name, field, nil
}

func mcpAddKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, field, bad := knowledgeArgs(req)
		if bad != nil {
			return bad, nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		if err := deps.Profiles.Add(name, field, value); err != nil {
			return mcpError(fmt.Sprintf("failed to add: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Added %s %q", field, value)), nil
	}
}

func mcpUpdateKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, field, bad := knowledgeArgs(req)
		if bad != nil {
			return bad, nil
		}
		oldValue, err := req.RequireString("old_value")
		if err != nil {
			return mcpError("old_value is required"), nil
		}
		newValue, err := req.RequireString("new_value")
		if err != nil {
			return mcpError("new_value is required"), nil
		}
		if err := deps.Profiles.Update(name, field, oldValue, newValue); err != nil {
			return mcpError(fmt.Sprintf("failed to update: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Updated %s %q -> %q", field, oldValue, newValue)), nil
	}
}

func mcpDeleteKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, field, bad := knowledgeArgs(req)
		if bad != nil {
			return bad, nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}
		if err := deps.Profiles.Delete(name, field, value); err != nil {
			return mcpError(fmt.Sprintf("failed to delete: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted %s %q", field, value)), nil
	}
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("user_name")
		if err != nil {
			return mcpError("user_name is required"), nil
		}
		msg, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		sessionID := req.GetString("session_id", "")

		resp, err := deps.Chat.Send(ctx, sessionID, name, msg)
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}
		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceUsers(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		names, err := deps.Profiles.List()
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}
		b, err := json.Marshal(names)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal users: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
