package gateway

import (
	"context"
	"strings"

	"botcast/internal/audit"
	"botcast/internal/authz"
	"botcast/internal/storage"
	kit "botcast/internal/transport"
	logx "botcast/pkg/logx"
)

// Messages are the user-facing reply templates. The welcome template supports
// %{username} and %{commands} placeholders.
type Messages struct {
	Unauthorized string
	Welcome      string
	Unsubscribed string
}

func DefaultMessages() Messages {
	return Messages{
		Unauthorized: "Sorry, you're not authorized to use this bot.",
		Welcome:      "Welcome %{username}! Available commands:\n%{commands}",
		Unsubscribed: "You've been unsubscribed. Send /start to resubscribe.",
	}
}

// Request carries one inbound command to its handler.
type Request struct {
	Msg  *kit.Message
	Args []string
}

// HandlerFunc handles a gated command and returns the reply text.
type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type command struct {
	name        string
	description string
	handle      HandlerFunc
}

// Gateway dispatches inbound bot commands: allowlist gate first, then the
// registered handler. Built-ins (start/stop/help) mutate the subscription
// store; hosts may register additional commands.
type Gateway struct {
	resolver *authz.Resolver
	store    storage.Store
	rec      *audit.Recorder
	adapter  kit.Adapter
	log      logx.Logger
	msgs     Messages

	// registry preserves first-seen order; names holds the dedup set.
	registry []command
	names    map[string]bool
}

func New(resolver *authz.Resolver, store storage.Store, rec *audit.Recorder, adapter kit.Adapter, msgs Messages, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	def := DefaultMessages()
	if msgs.Unauthorized == "" {
		msgs.Unauthorized = def.Unauthorized
	}
	if msgs.Welcome == "" {
		msgs.Welcome = def.Welcome
	}
	if msgs.Unsubscribed == "" {
		msgs.Unsubscribed = def.Unsubscribed
	}

	g := &Gateway{
		resolver: resolver,
		store:    store,
		rec:      rec,
		adapter:  adapter,
		log:      log,
		msgs:     msgs,
		names:    map[string]bool{},
	}
	g.register("start", "subscribe to broadcasts", g.handleStart)
	g.register("stop", "unsubscribe from broadcasts", g.handleStop)
	g.register("help", "list available commands", g.handleHelp)
	return g
}

// Register adds a host-defined command. Duplicate names are ignored so the
// built-ins can never be shadowed.
func (g *Gateway) Register(name, description string, handle HandlerFunc) {
	g.register(name, description, handle)
}

func (g *Gateway) register(name, description string, handle HandlerFunc) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "/")
	if name == "" || g.names[name] {
		return
	}
	g.names[name] = true
	g.registry = append(g.registry, command{name: name, description: description, handle: handle})
}

// CommandList renders the registry as "/name" lines: built-ins first, then
// host commands in registration order.
func (g *Gateway) CommandList() string {
	lines := make([]string, 0, len(g.registry))
	for _, c := range g.registry {
		lines = append(lines, "/"+c.name)
	}
	return strings.Join(lines, "\n")
}

// Run consumes updates until ctx is done. Commands are processed one at a
// time in arrival order; ordering across chats follows whatever the transport
// delivers.
func (g *Gateway) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			g.Handle(ctx, up.Message)
		}
	}
}

// Handle processes a single inbound message. Non-command text is ignored.
func (g *Gateway) Handle(ctx context.Context, msg *kit.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}

	var cmd *command
	for i := range g.registry {
		if g.registry[i].name == name {
			cmd = &g.registry[i]
			break
		}
	}
	if cmd == nil {
		return
	}

	// Gate: the allowlist is consulted before any command runs, host-defined
	// ones included. Unauthorized senders get the configured message and
	// nothing else happens.
	if !g.resolver.Authorized(ctx, msg.Username) {
		g.rec.Log(ctx, audit.TypeAuthFailure, audit.ActionUnauthorized, msg.ChatID, msg.Username, map[string]any{
			"command": name,
		})
		g.reply(ctx, msg.ChatID, g.msgs.Unauthorized)
		return
	}

	reply, err := cmd.handle(ctx, &Request{Msg: msg, Args: args})
	if err != nil {
		g.log.Warn("command failed",
			logx.String("command", name),
			logx.Int64("chat_id", msg.ChatID),
			logx.Err(err))
		return
	}
	if reply != "" {
		g.reply(ctx, msg.ChatID, reply)
	}
}

func (g *Gateway) handleStart(ctx context.Context, req *Request) (string, error) {
	m := req.Msg
	sub := storage.Subscription{
		ChatID:    m.ChatID,
		UserID:    m.FromID,
		Username:  m.Username,
		FirstName: m.FirstName,
		Active:    true,
	}
	// Find-or-create keyed by chat_id: a repeated /start refreshes the sender
	// identity and reactivates a stopped subscription.
	if err := g.store.UpsertSubscription(ctx, sub); err != nil {
		return "", err
	}
	g.rec.Log(ctx, audit.TypeCommand, audit.ActionStart, m.ChatID, m.Username, nil)

	return renderWelcome(g.msgs.Welcome, displayName(m), g.CommandList()), nil
}

func (g *Gateway) handleStop(ctx context.Context, req *Request) (string, error) {
	m := req.Msg
	// Missing subscription is a no-op, never an error.
	if _, err := g.store.SetSubscriptionActive(ctx, m.ChatID, false); err != nil {
		return "", err
	}
	g.rec.Log(ctx, audit.TypeCommand, audit.ActionStop, m.ChatID, m.Username, nil)
	return g.msgs.Unsubscribed, nil
}

func (g *Gateway) handleHelp(ctx context.Context, req *Request) (string, error) {
	m := req.Msg
	g.rec.Log(ctx, audit.TypeCommand, audit.ActionHelp, m.ChatID, m.Username, nil)
	return "Available commands:\n" + g.CommandList(), nil
}

func (g *Gateway) reply(ctx context.Context, chatID int64, text string) {
	if _, err := g.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		g.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// parseCommand extracts "/name[@bot] arg..." from message text.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")
	// Group chats address commands as /cmd@botname.
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

// displayName prefers the first name and falls back to the username.
func displayName(m *kit.Message) string {
	if m.FirstName != "" {
		return m.FirstName
	}
	return m.Username
}

func renderWelcome(tmpl, username, commands string) string {
	r := strings.NewReplacer("%{username}", username, "%{commands}", commands)
	return r.Replace(tmpl)
}
