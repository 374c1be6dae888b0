package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ListFilesTool is an Eino tool that lists the files indexed into one
// conversation so the model can refer to them or narrow a search by file.
type ListFilesTool struct {
	// lister reads the file manifest.
	lister FileLister

	// conversationID scopes the listing.
	conversationID string
}

// fileEntry is one file in the tool output.
type fileEntry struct {
	FileID    string `json:"file_id"`
	FileName  string `json:"file_name"`
	Chunks    int    `json:"chunks"`
	IndexedAt string `json:"indexed_at"`
}

// NewListFilesTool constructs a ListFilesTool bound to conversationID.
func NewListFilesTool(lister FileLister, conversationID string) *ListFilesTool {
	return &ListFilesTool{lister: lister, conversationID: conversationID}
}

// Name returns the tool name registered with the agent.
func (t *ListFilesTool) Name() string { return "list_documents" }

// Description returns the LLM-facing description of this tool.
func (t *ListFilesTool) Description() string {
	return "Lists the files uploaded to this conversation with their file IDs. " +
		"Use a file_id with search_documents to search a single file."
}

// Info returns the Eino tool metadata. The tool takes no parameters.
func (t *ListFilesTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        t.Name(),
		Desc:        t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

// InvokableRun returns the conversation's files as a JSON array.
func (t *ListFilesTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	files, err := t.lister.Files(ctx, t.conversationID)
	if err != nil {
		return "", fmt.Errorf("list_documents: %w", err)
	}

	entries := make([]fileEntry, 0, len(files))
	for _, f := range files {
		entries = append(entries, fileEntry{
			FileID:    f.FileID,
			FileName:  f.FileName,
			Chunks:    f.Chunks,
			IndexedAt: f.IndexedAt.UTC().Format(time.RFC3339),
		})
	}
	out, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("list_documents: encode: %w", err)
	}
	return string(out), nil
}
