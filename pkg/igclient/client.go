// Package igclient looks up Implementation Guide content over MCP: variable
// definitions, domain summary tables and controlled-terminology mappings
// served by the content server the study team already maintains.
package igclient

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/XiaoConstantine/mcp-go/pkg/client"
	models "github.com/XiaoConstantine/mcp-go/pkg/model"
	"github.com/XiaoConstantine/mcp-go/pkg/transport"

	"github.com/vikasgaddu1/sdtmforge/pkg/config"
	"github.com/vikasgaddu1/sdtmforge/pkg/errors"
)

const initTimeout = 10 * time.Second

// ToolCaller is the slice of the MCP client the lookups need.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*models.CallToolResult, error)
}

// Client wraps the IG content server. Lookups return the server's rendered
// markdown, which flows into generation prompts as-is.
type Client struct {
	caller ToolCaller
	proc   *exec.Cmd
}

// NewClient wraps an already connected caller. Connect is the usual entry
// point; this one exists for embedding and tests.
func NewClient(caller ToolCaller) *Client {
	return &Client{caller: caller}
}

// Connect launches the configured MCP content server as a subprocess and
// performs the initialize handshake over stdio.
func Connect(ctx context.Context, cfg config.IGConfig) (*Client, error) {
	if cfg.ServerCommand == "" {
		return nil, errors.New(errors.InvalidInput, "ig server command is not configured")
	}

	cmd := exec.Command(cfg.ServerCommand, cfg.ServerArgs...)
	cmd.Stderr = os.Stderr

	serverIn, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to create server stdin pipe")
	}
	serverOut, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to create server stdout pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to start ig content server"),
			errors.Fields{"command": cfg.ServerCommand},
		)
	}

	t := transport.NewStdioTransport(serverOut, serverIn, newLoggerAdapter())
	mcpClient := client.NewClient(t,
		client.WithLogger(newLoggerAdapter()),
		client.WithClientInfo("sdtmforge", "0.1.0"),
	)

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()
	if _, err := mcpClient.Initialize(initCtx); err != nil {
		_ = cmd.Process.Kill()
		return nil, errors.Wrap(err, errors.Unknown, "ig content server handshake failed")
	}

	return &Client{caller: mcpClient, proc: cmd}, nil
}

// VariableDefinition returns the IG section for one variable of a domain.
func (c *Client) VariableDefinition(ctx context.Context, domain, variable string) (string, error) {
	return c.call(ctx, "sdtm_variable_lookup", map[string]interface{}{
		"domain":   domain,
		"variable": variable,
	})
}

// DomainSummary returns the domain's variable summary table.
func (c *Client) DomainSummary(ctx context.Context, domain string) (string, error) {
	return c.call(ctx, "sdtm_variable_lookup", map[string]interface{}{
		"domain": domain,
	})
}

// CodelistMappings returns the raw-to-submission value mappings for a
// codelist. checkValues, when given, asks the server to flag each value as
// mapped or unmapped.
func (c *Client) CodelistMappings(ctx context.Context, codelist string, checkValues []string) (string, error) {
	args := map[string]interface{}{"codelist_code": codelist}
	if len(checkValues) > 0 {
		args["check_values"] = checkValues
	}
	return c.call(ctx, "ct_lookup", args)
}

func (c *Client) call(ctx context.Context, tool string, args map[string]interface{}) (string, error) {
	result, err := c.caller.CallTool(ctx, tool, args)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.VocabularyLookupFailed, "ig lookup failed"),
			errors.Fields{"tool": tool},
		)
	}

	text := contentText(result.Content)
	if result.IsError || text == "" {
		return "", errors.WithFields(
			errors.New(errors.VocabularyLookupFailed, "ig lookup returned no usable content"),
			errors.Fields{"tool": tool, "detail": text},
		)
	}
	return text, nil
}

// Close terminates the server subprocess, if this client launched one.
func (c *Client) Close() error {
	if c.proc == nil {
		return nil
	}
	if err := c.proc.Process.Kill(); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to stop ig content server")
	}
	_ = c.proc.Wait()
	return nil
}

func contentText(content []models.Content) string {
	var b strings.Builder
	for _, item := range content {
		if tc, ok := item.(models.TextContent); ok {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
