// Package command implements the slash commands a user can type in chat to
// manage their memories directly.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Command represents a slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     CommandHandler
}

// CommandHandler is the function signature for command execution.
type CommandHandler func(ctx context.Context, args string, cc *CommandContext) (*CommandResult, error)

// CommandContext identifies who issued the command and where.
type CommandContext struct {
	UserID         string
	ConversationID string
}

// CommandResult holds the output of a command.
type CommandResult struct {
	Command string      `json:"command"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Registry holds all registered commands.
type Registry struct {
	commands map[string]*Command
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command to the registry.
func (r *Registry) Register(cmd *Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name] = cmd
}

// IsCommand reports whether a chat message should be dispatched rather than
// mined for facts.
func IsCommand(input string) bool {
	s := strings.TrimSpace(input)
	return len(s) > 1 && s[0] == '/' && s[1] != ' ' && s[1] != '/'
}

// Dispatch parses a slash command string and executes the matching handler.
func (r *Registry) Dispatch(ctx context.Context, input string, cc *CommandContext) (*CommandResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Parse: "/command_name args..."
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ := strings.Cut(input, " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)

	cmd, ok := r.commands[name]
	if !ok {
		return &CommandResult{
			Command: name,
			Content: fmt.Sprintf("Unknown command: /%s. Type /help for available commands.", name),
		}, nil
	}

	res, err := cmd.Handler(ctx, args, cc)
	if res != nil {
		res.Command = name
	}
	return res, err
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
