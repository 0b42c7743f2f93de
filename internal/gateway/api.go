// ABOUTME: HTTP API handlers for managing upstream server definitions.
// ABOUTME: Lists servers with live status and tools, and creates, updates and deletes definitions.

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/2389/mcphub/internal/mcp"
	"github.com/2389/mcphub/internal/settings"
	"github.com/2389/mcphub/internal/upstream"
)

// maxAPIBodySize bounds management request bodies.
const maxAPIBodySize = 1 << 20

// StatusDisconnected is reported for stored servers the manager has not
// attempted yet.
const StatusDisconnected = "disconnected"

// APIResponse is the envelope of every management response.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// ToolInfo is one tool exposed by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ServerInfo is the JSON shape of one server in GET /api/servers.
type ServerInfo struct {
	Name       string                    `json:"name"`
	Status     string                    `json:"status"`
	Transport  string                    `json:"transport"`
	Tools      []ToolInfo                `json:"tools"`
	Error      string                    `json:"error,omitempty"`
	ServerInfo *mcp.Implementation       `json:"serverInfo,omitempty"`
	Config     settings.ServerDefinition `json:"config"`
}

// SettingsResponse is the data of GET /api/settings.
type SettingsResponse struct {
	MCPServers map[string]settings.ServerDefinition `json:"mcpServers"`
}

// CreateServerRequest is the JSON request body for POST /api/servers.
type CreateServerRequest struct {
	Name   string                    `json:"name"`
	Config settings.ServerDefinition `json:"config"`
}

// UpdateServerRequest is the JSON request body for PUT /api/servers/:name.
type UpdateServerRequest struct {
	Config settings.ServerDefinition `json:"config"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIResponse{Success: false, Message: message})
}

// handleListServers handles GET /api/servers.
// Stored definitions are merged with the upstream manager's live view.
func (g *Gateway) handleListServers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defs, err := g.store.List(r.Context())
	if err != nil {
		g.logger.Error("failed to list servers", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list servers")
		return
	}

	statuses := make(map[string]upstream.ServerStatus)
	for _, st := range g.upstream.Status() {
		statuses[st.Name] = st
	}
	toolsByServer := make(map[string][]ToolInfo)
	for _, t := range g.tools.List() {
		toolsByServer[t.Server] = append(toolsByServer[t.Server], ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	servers := make([]ServerInfo, 0, len(defs))
	for _, def := range defs {
		info := ServerInfo{
			Name:      def.Name,
			Status:    StatusDisconnected,
			Transport: def.Transport(),
			Tools:     toolsByServer[def.Name],
			Config:    def,
		}
		if info.Tools == nil {
			info.Tools = []ToolInfo{}
		}
		if st, ok := statuses[def.Name]; ok {
			info.Status = st.State
			info.Error = st.Error
			if st.ServerInfo.Name != "" {
				impl := st.ServerInfo
				info.ServerInfo = &impl
			}
		}
		servers = append(servers, info)
	}

	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: servers})
}

// handleGetSettings handles GET /api/settings.
func (g *Gateway) handleGetSettings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	defs, err := g.store.List(r.Context())
	if err != nil {
		g.logger.Error("failed to read settings", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}

	resp := SettingsResponse{MCPServers: make(map[string]settings.ServerDefinition, len(defs))}
	for _, def := range defs {
		resp.MCPServers[def.Name] = def
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
}

// handleCreateServer handles POST /api/servers.
func (g *Gateway) handleCreateServer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req CreateServerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := req.Config
	def.Name = req.Name
	if err := def.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := g.store.Create(r.Context(), def)
	switch {
	case errors.Is(err, settings.ErrServerExists):
		writeError(w, http.StatusConflict, fmt.Sprintf("Server %q already exists", def.Name))
		return
	case err != nil:
		g.logger.Error("failed to create server", "server", def.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save server")
		return
	}

	g.logger.Info("server added", "server", def.Name, "transport", def.Transport())
	g.resyncAfterChange()
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: def.Name, Message: "Server added"})
}

// handleUpdateServer handles PUT /api/servers/:name.
func (g *Gateway) handleUpdateServer(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req UpdateServerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	def := req.Config
	def.Name = ps.ByName("name")
	if err := def.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := g.store.Update(r.Context(), def)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Server %q not found", def.Name))
		return
	case err != nil:
		g.logger.Error("failed to update server", "server", def.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save server")
		return
	}

	g.logger.Info("server updated", "server", def.Name)
	g.resyncAfterChange()
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: def.Name, Message: "Server updated"})
}

// handleDeleteServer handles DELETE /api/servers/:name.
func (g *Gateway) handleDeleteServer(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")

	err := g.store.Delete(r.Context(), name)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("Server %q not found", name))
		return
	case err != nil:
		g.logger.Error("failed to delete server", "server", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete server")
		return
	}

	g.logger.Info("server removed", "server", name)
	g.resyncAfterChange()
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: name, Message: "Server removed"})
}

// resyncAfterChange applies a stored change to the running servers. A failed
// start is reported through the server's status, not the API response.
func (g *Gateway) resyncAfterChange() {
	if err := g.syncUpstreams(g.ctx); err != nil {
		g.logger.Warn("upstream sync after change failed", "error", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
