package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/aristath/ibkr-bridge/internal/risk"
)

// MCPServerName/Version identify this process to MCP clients.
const (
	MCPServerName    = "ibkr-bridge"
	MCPServerVersion = "0.1.0"
)

// newMCPServer builds an MCP tool registry with two read-only tools, risk
// checks and session state; order placement stays on the REST surface so
// the broker-mutating path has exactly one entrypoint. Nothing in the
// bridge calls it or serves the registry over an MCP transport.
func (s *Server) newMCPServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(MCPServerName, MCPServerVersion)

	srv.AddTool(
		mcp.NewTool("get_session_state",
			mcp.WithDescription("Returns the current daily risk-session snapshot: realized P&L, trade count, consecutive losses, and lock state."),
			mcp.WithReadOnlyHintAnnotation(true),
		),
		s.mcpGetSessionState,
	)

	srv.AddTool(
		mcp.NewTool("check_risk",
			mcp.WithDescription("Runs a hypothetical order through the risk gate without placing it, returning {allowed, reason}."),
			mcp.WithReadOnlyHintAnnotation(true),
			mcp.WithString("symbol", mcp.Required()),
			mcp.WithString("side", mcp.Required(), mcp.Enum("BUY", "SELL")),
			mcp.WithString("type", mcp.Required(), mcp.Enum("MKT", "LMT", "STP", "STP LMT", "TRAIL")),
			mcp.WithString("quantity", mcp.Required(), mcp.Description("order quantity, as a decimal string")),
			mcp.WithString("limit_price", mcp.Description("limit price, as a decimal string; omit if not applicable")),
			mcp.WithString("stop_price", mcp.Description("stop price, as a decimal string; omit if not applicable")),
		),
		s.mcpCheckRisk,
	)

	return srv
}

func (s *Server) mcpGetSessionState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.cfg.Session.Snapshot()
	body, err := json.Marshal(snap)
	if err != nil {
		return mcp.NewToolResultErrorf("marshal session snapshot: %s", err), nil
	}
	return mcp.NewToolResultText(string(body)), nil
}

func (s *Server) mcpCheckRisk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	symbol, err := request.RequireString("symbol")
	if err != nil {
		return mcp.NewToolResultError("symbol is required"), nil
	}
	side, err := request.RequireString("side")
	if err != nil {
		return mcp.NewToolResultError("side is required"), nil
	}
	orderType, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError("type is required"), nil
	}
	quantityStr, err := request.RequireString("quantity")
	if err != nil {
		return mcp.NewToolResultError("quantity is required"), nil
	}
	quantity, err := strconv.ParseFloat(quantityStr, 64)
	if err != nil {
		return mcp.NewToolResultErrorf("quantity must be numeric: %s", err), nil
	}

	req := placeOrderRequest{Symbol: symbol, Side: side, Type: orderType, Quantity: quantity}
	if v, err := request.RequireString("limit_price"); err == nil && v != "" {
		limitPrice, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return mcp.NewToolResultErrorf("limit_price must be numeric: %s", err), nil
		}
		req.LimitPrice = &limitPrice
	}
	if v, err := request.RequireString("stop_price"); err == nil && v != "" {
		stopPrice, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return mcp.NewToolResultErrorf("stop_price must be numeric: %s", err), nil
		}
		req.StopPrice = &stopPrice
	}

	order, err := req.toBrokerOrder()
	if err != nil {
		return mcp.NewToolResultErrorf("invalid order: %s", err), nil
	}

	decision := s.cfg.Gate.Check(risk.OrderRequest{
		Symbol:     order.Symbol(),
		Side:       string(order.Side()),
		Type:       string(order.Type()),
		Quantity:   order.Quantity(),
		LimitPrice: order.LimitPrice(),
		StopPrice:  order.StopPrice(),
	})
	body, _ := json.Marshal(decision)
	return mcp.NewToolResultText(string(body)), nil
}

// setupMCPRoutes mounts a read-only introspection endpoint on the REST
// router that lists the MCP server name, version and tool names. No MCP
// STDIO transport is started: cmd/bridge does not serve one in any mode.
func (s *Server) setupMCPRoutes(r chi.Router) {
	r.Get("/mcp/tools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"server":  MCPServerName,
			"version": MCPServerVersion,
			"tools":   []string{"get_session_state", "check_risk"},
		})
	})
}
