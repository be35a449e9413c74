// Command calculator is an MCP server exposing calculator_tool over stdio,
// or over streamable HTTP with --http.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/toolgraph/internal/calc"
)

func main() {
	httpAddr := flag.String("http", "", "Serve streamable HTTP on this address instead of stdio")
	flag.Parse()

	s := newServer()

	var err error
	if *httpAddr != "" {
		err = server.NewStreamableHTTPServer(s).Start(*httpAddr)
	} else {
		err = server.ServeStdio(s)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer() *server.MCPServer {
	s := server.NewMCPServer("toolgraph-calculator", "0.1.0")
	s.AddTool(mcp.NewTool(calc.ToolName,
		mcp.WithDescription(calc.Description),
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Mathematical expression to evaluate, e.g. 'sqrt(16) + 2**3'"),
		),
	), handleCalculate)
	return s
}

// handleCalculate evaluates the expression. Evaluation failures are
// returned as text for the model to read, like the in-process tool.
func handleCalculate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(calc.Calculate(expr)), nil
}
