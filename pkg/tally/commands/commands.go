// Package commands dispatches prefixed chat-style commands such as ".calc 2+2"
// to registered handlers and renders their replies.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// DefaultPrefix starts every command.
const DefaultPrefix = "."

// Message is an incoming command message.
type Message struct {
	SenderID string `json:"sender"`
	Text     string `json:"text"`
}

// Request is what a handler receives: the command name as typed and the text
// after it, trimmed.
type Request struct {
	Message Message
	Name    string
	Args    string
}

// Response is what a handler produces.
type Response struct {
	// Text is displayed in place of the command message.
	Text string
	// Result is the bare value behind Text, if the command computes one.
	Result string
}

// Reply is the text to display in place of the command message.
type Reply struct {
	Command string `json:"command"`
	Text    string `json:"text"`
	Result  string `json:"result,omitempty"`
	// Err is set when the handler failed; Text then holds the user message.
	Err error `json:"-"`
}

type Handler interface {
	Handle(ctx context.Context, req Request) (Response, error)
}

// HandlerFunc adapts an ordinary function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Example     string
	// TakesArgs commands match with trailing text; others only match alone.
	TakesArgs bool
	Handler   Handler
}

type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
	names    map[string]*Command // name and aliases, lower case
}

func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		names:    make(map[string]*Command),
	}
}

// Register adds cmd. Names and aliases are case-insensitive and must be unique.
func (r *Registry) Register(cmd Command) error {
	if cmd.Name == "" {
		return errors.New("command name is required")
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s: handler is required", cmd.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{cmd.Name}, cmd.Aliases...)
	for _, k := range keys {
		if _, exists := r.names[strings.ToLower(k)]; exists {
			return fmt.Errorf("command %s: name %q already registered", cmd.Name, k)
		}
	}

	c := cmd
	r.commands[strings.ToLower(cmd.Name)] = &c
	for _, k := range keys {
		r.names[strings.ToLower(k)] = &c
	}
	return nil
}

// Lookup finds a command by name or alias.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.names[strings.ToLower(name)]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Commands returns all registered commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatcher routes messages from authorized senders to registered commands.
type Dispatcher struct {
	registry *Registry
	auth     Authorizer
	prefix   string
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher. An empty prefix means DefaultPrefix and a
// nil logger means the standard logger.
func NewDispatcher(registry *Registry, auth Authorizer, prefix string, logger *log.Logger) *Dispatcher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		registry: registry,
		auth:     auth,
		prefix:   prefix,
		logger:   logger,
	}
}

// Registry returns the registry commands are looked up in.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Prefix returns the command prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// Dispatch handles msg. handled is false when the message is not a command,
// names an unknown command, or comes from a sender that is not allowed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) (reply Reply, handled bool) {
	name, args, ok := d.split(msg.Text)
	if !ok {
		return Reply{}, false
	}

	cmd, ok := d.registry.Lookup(name)
	if !ok {
		return Reply{}, false
	}
	if args != "" && !cmd.TakesArgs {
		return Reply{}, false
	}
	if d.auth != nil && !d.auth.Allowed(msg.SenderID) {
		d.logger.Printf("commands: ignoring %s from unauthorized sender %q", cmd.Name, msg.SenderID)
		return Reply{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("commands: %s panicked: %v", cmd.Name, r)
			err := fmt.Errorf("command %s failed", cmd.Name)
			reply, handled = Reply{Command: cmd.Name, Text: CodeBlock("Error: " + err.Error()), Err: err}, true
		}
	}()

	resp, err := cmd.Handler.Handle(ctx, Request{Message: msg, Name: name, Args: args})
	if err != nil {
		return Reply{Command: cmd.Name, Text: CodeBlock(UserMessage(err, d.prefix)), Err: err}, true
	}
	return Reply{Command: cmd.Name, Text: resp.Text, Result: resp.Result}, true
}

func (d *Dispatcher) split(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, d.prefix) {
		return "", "", false
	}
	text = text[len(d.prefix):]

	end := strings.IndexFunc(text, unicode.IsSpace)
	if end < 0 {
		name = text
	} else {
		name, args = text[:end], strings.TrimSpace(text[end:])
	}
	if name == "" {
		return "", "", false
	}
	return name, args, true
}

// CodeBlock wraps text in a fenced block, the way every reply is displayed.
func CodeBlock(text string) string {
	return "```\n" + text + "\n```"
}
