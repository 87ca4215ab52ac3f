package protocol

import "github.com/mark3labs/mcp-go/mcp"

// ResultFromMCP converts an invoker result into the tool-result payload
// delivered to hosted applications. Only text-bearing content parts survive
// the crossing; structured content is preferred by apps anyway.
func ResultFromMCP(res *mcp.CallToolResult) ToolResultParams {
	if res == nil {
		return ToolResultParams{IsError: true, Content: []ContentItem{{Type: "text", Text: "no result"}}}
	}
	out := ToolResultParams{
		StructuredContent: res.StructuredContent,
		IsError:           res.IsError,
	}
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			out.Content = append(out.Content, ContentItem{Type: "text", Text: tc.Text})
		}
	}
	if out.Content == nil {
		out.Content = []ContentItem{}
	}
	return out
}
