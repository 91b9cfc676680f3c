package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/hyperresearch/pkg/research"
)

// MCPSession represents an MCP session
type MCPSession struct {
	ID      string
	Created int64
}

// MCPRequest represents an MCP JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an MCP JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents an MCP error
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SessionToolArgs selects the research session a tool reads from
type SessionToolArgs struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status,omitempty"`
}

// MCPHandler exposes research state to MCP clients
func (h *Handler) MCPHandler(c *gin.Context) {
	sessionID := c.GetHeader("Mcp-Session-Id")

	var req MCPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			Error:   &MCPError{Code: -32700, Message: "Parse error"},
		})
		return
	}

	if req.Method == "initialize" {
		if sessionID == "" {
			sessionID = uuid.New().String()
			h.sessionMu.Lock()
			h.mcpSessions[sessionID] = &MCPSession{ID: sessionID, Created: time.Now().Unix()}
			h.sessionMu.Unlock()
		}
		c.Header("Mcp-Session-Id", sessionID)

		h.sendRaw(c, req.ID, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"serverInfo": map[string]interface{}{
				"name":    "hyperresearch-mcp",
				"version": "1.0.0",
			},
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
		})
		return
	}

	// Validate session for other requests
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &MCPError{Code: -32000, Message: "Bad Request: No valid session ID provided"},
		})
		return
	}

	h.sessionMu.RLock()
	_, exists := h.mcpSessions[sessionID]
	h.sessionMu.RUnlock()

	if !exists {
		c.JSON(http.StatusBadRequest, MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &MCPError{Code: -32000, Message: "Invalid session ID"},
		})
		return
	}

	switch req.Method {
	case "tools/list":
		h.handleToolsList(c, req)
	case "tools/call":
		h.handleToolsCall(c, req)
	case "ping":
		h.sendRaw(c, req.ID, map[string]interface{}{})
	default:
		h.sendError(c, req.ID, -32601, "Method not found")
	}
}

func sessionToolSchema(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{
		"session_id": map[string]interface{}{
			"type":        "string",
			"description": "The research session id.",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   []string{"session_id"},
	}
}

func (h *Handler) handleToolsList(c *gin.Context, req MCPRequest) {
	h.sendRaw(c, req.ID, map[string]interface{}{
		"tools": []map[string]interface{}{
			{
				"name":        "get_research_state",
				"description": "Get the full research state of a session: activity, sources and progress.",
				"inputSchema": sessionToolSchema(nil),
			},
			{
				"name":        "list_sources",
				"description": "List the sources discovered so far, in discovery order.",
				"inputSchema": sessionToolSchema(nil),
			},
			{
				"name":        "list_activity",
				"description": "List research activity, optionally filtered by status.",
				"inputSchema": sessionToolSchema(map[string]interface{}{
					"status": map[string]interface{}{
						"type":        "string",
						"description": "Only return activity with this status (pending, complete, error).",
					},
				}),
			},
		},
	})
}

func (h *Handler) handleToolsCall(c *gin.Context, req MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		h.sendError(c, req.ID, -32602, "Invalid params")
		return
	}

	var args SessionToolArgs
	if err := json.Unmarshal(params.Arguments, &args); err != nil {
		h.sendError(c, req.ID, -32602, "Invalid arguments")
		return
	}
	id, err := uuid.Parse(args.SessionID)
	if err != nil {
		h.sendError(c, req.ID, -32602, "Invalid session_id")
		return
	}

	sess, err := h.Service.Session(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, req.ID, -32603, err.Error())
		return
	}
	state := sess.Store.State()

	switch params.Name {
	case "get_research_state":
		h.sendResult(c, req.ID, state)
	case "list_sources":
		h.sendResult(c, req.ID, state.Sources)
	case "list_activity":
		items := make([]research.ActivityItem, 0, len(state.Activity))
		for _, item := range state.Activity {
			if args.Status == "" || string(item.Status) == args.Status {
				items = append(items, item)
			}
		}
		h.sendResult(c, req.ID, items)
	default:
		h.sendError(c, req.ID, -32601, fmt.Sprintf("Tool not found: %s", params.Name))
	}
}

func (h *Handler) sendError(c *gin.Context, id interface{}, code int, msg string) {
	c.JSON(http.StatusOK, MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &MCPError{Code: code, Message: msg},
	})
}

func (h *Handler) sendRaw(c *gin.Context, id interface{}, result interface{}) {
	c.JSON(http.StatusOK, MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

// sendResult wraps a tool result as a single JSON text content block
func (h *Handler) sendResult(c *gin.Context, id interface{}, result interface{}) {
	data, err := json.Marshal(result)
	if err != nil {
		h.sendError(c, id, -32603, err.Error())
		return
	}

	h.sendRaw(c, id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": string(data),
			},
		},
	})
}
