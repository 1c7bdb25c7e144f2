// Package mcpserver exposes the engine as MCP tools over stdio, so another
// agent can read blocks, caption payloads and take turns.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/midi64-go/internal/exchange"
	"github.com/comigor/midi64-go/internal/interpret"
	"github.com/comigor/midi64-go/internal/logger"
	"github.com/comigor/midi64-go/internal/protocol"
	"github.com/comigor/midi64-go/internal/timeline"
)

const (
	serverName    = "midi64"
	serverVersion = "0.1.0"
)

// Sequencer is the part of exchange.Sequencer the take_turn tool drives.
type Sequencer interface {
	State() exchange.State
	Start(ctx context.Context) (protocol.Message, error)
	Step(ctx context.Context) (protocol.Message, error)
}

// Handlers holds the tool implementations. A nil Sequencer leaves
// take_turn unregistered.
type Handlers struct {
	Sequencer Sequencer
	Selector  *interpret.Selector
	Parser    *protocol.Parser
}

// New builds the MCP server with every available tool registered.
func New(h *Handlers) *server.MCPServer {
	if h.Selector == nil {
		h.Selector = interpret.New()
	}
	if h.Parser == nil {
		h.Parser = protocol.NewParser()
	}
	s := server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("parse_block",
		mcp.WithDescription("Find the first MIDI64 block (identifier line + base64 line) in text and describe it."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Text that contains a MIDI64 block")),
	), h.ParseBlock)

	s.AddTool(mcp.NewTool("interpret",
		mcp.WithDescription("Caption a base64 MIDI payload in an agent's voice."),
		mcp.WithString("agent", mcp.Required(), mcp.Description("Agent name, e.g. Kai")),
		mcp.WithString("payload", mcp.Required(), mcp.Description("Base64 payload")),
	), h.Interpret)

	s.AddTool(mcp.NewTool("timeline_stats",
		mcp.WithDescription("Load a directory of MIDI64 session files and summarise it."),
		mcp.WithString("dir", mcp.Required(), mcp.Description("Directory holding *.txt session files")),
	), h.TimelineStats)

	if h.Sequencer != nil {
		s.AddTool(mcp.NewTool("take_turn",
			mcp.WithDescription("Generate the next turn of the live exchange and return its block."),
		), h.TakeTurn)
	}
	return s
}

// Serve runs the server on stdin/stdout until the stream closes.
func Serve(h *Handlers) error {
	logger.L.Info("mcp server starting on stdio", "name", serverName)
	return server.ServeStdio(New(h))
}

func (h *Handlers) ParseBlock(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msg, err := protocol.FindBlock(text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("id: %s\nagent: %s\nsequence: %d\nbytes: %d\ninterpretation: %s",
		msg.Label(), msg.Agent(), msg.ID.Sequence, len(msg.Payload), h.Selector.Select(msg.Agent(), msg.Encoded))), nil
}

func (h *Handlers) Interpret(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := req.RequireString("agent")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := req.RequireString("payload")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(h.Selector.Select(agent, strings.TrimSpace(payload))), nil
}

func (h *Handlers) TimelineStats(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir, err := req.RequireString("dir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tl, err := timeline.LoadDir(dir, h.Parser)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var b strings.Builder
	b.WriteString(tl.Stats())
	for _, m := range tl.Markers() {
		fmt.Fprintf(&b, "\n%d %s", m.Index, m.Label)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *Handlers) TakeTurn(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		msg protocol.Message
		err error
	)
	if h.Sequencer.State() == exchange.Idle {
		msg, err = h.Sequencer.Start(ctx)
	} else {
		msg, err = h.Sequencer.Step(ctx)
	}
	if err != nil {
		if errors.Is(err, protocol.ErrSequenceOverflow) || errors.Is(err, exchange.ErrHalted) {
			return mcp.NewToolResultError("exchange halted: " + err.Error()), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(msg.Block() + "\n" + h.Selector.Select(msg.Agent(), msg.Encoded)), nil
}
