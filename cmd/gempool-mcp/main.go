package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// sendRequest mirrors the pool API send model.
type sendRequest struct {
	Message    string   `json:"message"`
	MergePaths []string `json:"merge_paths,omitempty"`
	FilePaths  []string `json:"file_paths,omitempty"`
}

// acquireResponse covers all three acquire outcome shapes.
type acquireResponse struct {
	Status                string `json:"status"`
	SlotID                int    `json:"slot_id"`
	LeaseToken            string `json:"lease_token"`
	Reattached            bool   `json:"reattached"`
	ExpiresAfterInactiveS int    `json:"expires_after_inactive_s"`
	QueuePosition         int    `json:"queue_position"`
	EstimatedWaitS        int    `json:"estimated_wait_s"`
	Error                 string `json:"error"`
}

// sendResponse mirrors the pool API send response model.
type sendResponse struct {
	Response   string `json:"response"`
	DurationMs int64  `json:"duration_ms"`
	Format     string `json:"format"`
}

// errorDetail mirrors the pool API error model.
type errorDetail struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func main() {
	apiURL := os.Getenv("GEMPOOL_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:9200"
	}

	s := server.NewMCPServer(
		"gempool",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	acquireTool := mcp.NewTool("gemini_acquire",
		mcp.WithDescription("Acquire a Gemini session slot. Returns a slot_id and lease_token to use with gemini_send and gemini_release. Calling again with the same owner reattaches to the existing slot."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Stable identifier for the caller, e.g. an agent or task name"),
		),
	)
	s.AddTool(acquireTool, handleAcquire(apiURL))

	sendTool := mcp.NewTool("gemini_send",
		mcp.WithDescription("Send a message to Gemini on an acquired slot and wait for the full response. Supports merging text files into the prompt and attaching files for upload."),
		mcp.WithNumber("slot_id",
			mcp.Required(),
			mcp.Description("Slot ID from gemini_acquire"),
		),
		mcp.WithString("lease_token",
			mcp.Required(),
			mcp.Description("Lease token from gemini_acquire"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The message to send"),
		),
		mcp.WithArray("merge_paths",
			mcp.Description("Text files whose contents are inlined into the prompt before the message"),
		),
		mcp.WithArray("file_paths",
			mcp.Description("Files to attach to the conversation via upload"),
		),
	)
	s.AddTool(sendTool, handleSend(apiURL))

	releaseTool := mcp.NewTool("gemini_release",
		mcp.WithDescription("Release an acquired Gemini session slot so other callers can use it."),
		mcp.WithNumber("slot_id",
			mcp.Required(),
			mcp.Description("Slot ID from gemini_acquire"),
		),
		mcp.WithString("lease_token",
			mcp.Required(),
			mcp.Description("Lease token from gemini_acquire"),
		),
	)
	s.AddTool(releaseTool, handleRelease(apiURL))

	statusTool := mcp.NewTool("gemini_pool_status",
		mcp.WithDescription("Show the current state of the Gemini session pool: slot states, owners, queue, and browser health."),
	)
	s.AddTool(statusTool, handleStatus(apiURL))

	healthTool := mcp.NewTool("gemini_health",
		mcp.WithDescription("Check whether the Gemini session pool server is reachable."),
	)
	s.AddTool(healthTool, handleHealth(apiURL))

	resetTool := mcp.NewTool("gemini_pool_reset",
		mcp.WithDescription("Restart the browser and rebuild every slot. All leases are dropped. Use when the pool is wedged."),
	)
	s.AddTool(resetTool, handleReset(apiURL))

	shutdownTool := mcp.NewTool("gemini_shutdown",
		mcp.WithDescription("Gracefully shut down the Gemini session pool server."),
	)
	s.AddTool(shutdownTool, handleShutdown(apiURL))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiDo sends a request to the pool API and returns status code and body.
func apiDo(ctx context.Context, client *http.Client, method, url string, payload interface{}, leaseToken string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if leaseToken != "" {
		req.Header.Set("X-Lease-Token", leaseToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// apiError formats a non-2xx pool API response for the tool result.
func apiError(status int, body []byte) string {
	var detail errorDetail
	if err := json.Unmarshal(body, &detail); err == nil && detail.Error != "" {
		return fmt.Sprintf("[%s] %s", detail.Error, detail.Detail)
	}
	return fmt.Sprintf("HTTP %d: %s", status, strings.TrimSpace(string(body)))
}

func handleAcquire(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := request.RequireString("owner")
		if err != nil {
			return mcp.NewToolResultError("owner is required"), nil
		}

		status, body, err := apiDo(ctx, client, http.MethodPost,
			apiURL+"/api/session/acquire", map[string]string{"owner": owner}, "")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resp acquireResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		switch resp.Status {
		case "acquired":
			note := ""
			if resp.Reattached {
				note = " (reattached to existing lease)"
			}
			return mcp.NewToolResultText(fmt.Sprintf(
				"Acquired slot %d%s.\nlease_token: %s\nLease expires after %ds of inactivity.",
				resp.SlotID, note, resp.LeaseToken, resp.ExpiresAfterInactiveS)), nil
		case "queued":
			return mcp.NewToolResultText(fmt.Sprintf(
				"All slots busy. Queued at position %d, estimated wait %ds. Call gemini_acquire again with the same owner to claim a slot when one frees up.",
				resp.QueuePosition, resp.EstimatedWaitS)), nil
		case "rejected":
			return mcp.NewToolResultError("pool exhausted and queue full, try again later"), nil
		default:
			return mcp.NewToolResultError(apiError(status, body)), nil
		}
	}
}

func handleSend(apiURL string) server.ToolHandlerFunc {
	// Generation can legitimately run for a very long time on hard prompts.
	client := &http.Client{Timeout: 2500 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slotID, err := request.RequireInt("slot_id")
		if err != nil {
			return mcp.NewToolResultError("slot_id is required and must be a number"), nil
		}
		leaseToken, err := request.RequireString("lease_token")
		if err != nil {
			return mcp.NewToolResultError("lease_token is required"), nil
		}
		message, err := request.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError("message is required"), nil
		}

		payload := sendRequest{
			Message:    message,
			MergePaths: request.GetStringSlice("merge_paths", nil),
			FilePaths:  request.GetStringSlice("file_paths", nil),
		}

		status, body, err := apiDo(ctx, client, http.MethodPost,
			fmt.Sprintf("%s/api/session/%d/send", apiURL, slotID), payload, leaseToken)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}

		var resp sendResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}

		return mcp.NewToolResultText(resp.Response), nil
	}
}

func handleRelease(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		slotID, err := request.RequireInt("slot_id")
		if err != nil {
			return mcp.NewToolResultError("slot_id is required and must be a number"), nil
		}
		leaseToken, err := request.RequireString("lease_token")
		if err != nil {
			return mcp.NewToolResultError("lease_token is required"), nil
		}

		status, body, err := apiDo(ctx, client, http.MethodPost,
			fmt.Sprintf("%s/api/session/%d/release", apiURL, slotID), struct{}{}, leaseToken)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("Released slot %d.", slotID)), nil
	}
}

func handleStatus(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, body, err := apiDo(ctx, client, http.MethodGet, apiURL+"/api/pool/status", nil, "")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			pretty.Write(body)
		}
		return mcp.NewToolResultText(pretty.String()), nil
	}
}

func handleHealth(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, body, err := apiDo(ctx, client, http.MethodGet, apiURL+"/api/health", nil, "")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("pool server unreachable: %v", err)), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}
		return mcp.NewToolResultText("Pool server is up."), nil
	}
}

func handleReset(apiURL string) server.ToolHandlerFunc {
	// A full reset restarts Chrome and rebuilds every tab.
	client := &http.Client{Timeout: 300 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, body, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/pool/reset", struct{}{}, "")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}

		var resp struct {
			SlotsAvailable int `json:"slots_available"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Pool reset complete, %d slots available.", resp.SlotsAvailable)), nil
	}
}

func handleShutdown(apiURL string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, body, err := apiDo(ctx, client, http.MethodPost, apiURL+"/api/shutdown", struct{}{}, "")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if status != http.StatusOK {
			return mcp.NewToolResultError(apiError(status, body)), nil
		}
		return mcp.NewToolResultText("Shutdown initiated."), nil
	}
}
