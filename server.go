package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"rbridge/bridge"
	"rbridge/logging"
	"rbridge/serialization"
)

type fetchDatasetInput struct {
	Name string `json:"name" jsonschema:"dataset name as returned by list_datasets"`
}

type executeInput struct {
	Code           string               `json:"code" jsonschema:"R source to run; the data is bound to df"`
	Dataset        string               `json:"dataset,omitempty" jsonschema:"catalog dataset bound to df"`
	Upload         *bridge.UploadedData `json:"upload,omitempty" jsonschema:"inline table bound to df when no dataset is named"`
	RenderMarkdown bool                 `json:"render_markdown,omitempty" jsonschema:"also return the output rendered as HTML"`
}

// toolHandlers adapts the bridge operations to MCP tools
type toolHandlers struct {
	bridge *bridge.Bridge
	logger logging.Logger
}

func newMCPServer(b *bridge.Bridge, logger logging.Logger) *mcp.Server {
	h := &toolHandlers{bridge: b, logger: logger.WithComponent("mcp")}
	server := mcp.NewServer(&mcp.Implementation{Name: "rbridge", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_datasets",
		Description: "List the R datasets that can be bound to df, featured ones first.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.listDatasets)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_dataset",
		Description: "Return the rows and the str() summary of an R dataset.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, h.fetchDataset)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_r_code",
		Description: "Run R code against a dataset or an inline table bound to df. Missing packages are installed. Returns the printed output and any plot as PNG.",
	}, h.executeRCode)
	return server
}

// runMCPServer serves the tools over stdin/stdout until ctx ends
func runMCPServer(ctx context.Context, b *bridge.Bridge, logger logging.Logger) error {
	logger.Info("serving MCP over stdio")
	return newMCPServer(b, logger).Run(ctx, &mcp.StdioTransport{})
}

func (h *toolHandlers) listDatasets(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	options, err := h.bridge.ListDatasets(ctx)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(options)
}

func (h *toolHandlers) fetchDataset(ctx context.Context, _ *mcp.CallToolRequest, in fetchDatasetInput) (*mcp.CallToolResult, any, error) {
	ds, err := h.bridge.FetchDataset(ctx, in.Name)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}
	return jsonResult(ds)
}

func (h *toolHandlers) executeRCode(ctx context.Context, _ *mcp.CallToolRequest, in executeInput) (*mcp.CallToolResult, any, error) {
	res := h.bridge.ExecuteRCode(ctx, in.Code, in.Dataset, in.Upload, bridge.ExecuteOptions{RenderMarkdown: in.RenderMarkdown})

	text, err := serialization.Serialize(res, "text")
	if err != nil {
		return nil, nil, err
	}
	result := &mcp.CallToolResult{
		IsError: !res.Success,
		Content: []mcp.Content{&mcp.TextContent{Text: string(text)}},
	}
	if res.OutputHTML != "" {
		result.Content = append(result.Content, &mcp.TextContent{Text: res.OutputHTML})
	}
	if res.Plot != "" {
		png, err := res.PlotBytes()
		if err != nil {
			h.logger.Warn("dropping undecodable plot", logging.StringField("request_id", res.RequestID), logging.ErrorField("error", err))
		} else {
			result.Content = append(result.Content, &mcp.ImageContent{Data: png, MIMEType: "image/png"})
		}
	}
	return result, nil, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
	}
}
