package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	t.Parallel()
	root := NewRootCmd()

	want := []string{"index", "search", "ask", "delete-file", "delete-collection", "stats", "serve", "version"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("subcommand %q not registered", name)
		}
	}
	if root.PersistentFlags().Lookup("config") == nil {
		t.Error("persistent --config flag missing")
	}
}

// run executes cmd standalone, so the root's PersistentPreRunE does not load
// any config file.
func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_RequireConversation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cmd     func() *cobra.Command
		args    []string
		wantErr string
	}{
		{name: "index", cmd: NewIndexCmd, args: []string{"notes.md"}, wantErr: "index: --conversation is required"},
		{name: "search", cmd: NewSearchCmd, args: []string{"revenue"}, wantErr: "search: --conversation is required"},
		{name: "ask", cmd: NewAskCmd, args: []string{"what", "happened"}, wantErr: "ask: --conversation is required"},
		{name: "delete-file", cmd: NewDeleteFileCmd, args: []string{"-c", "c1"}, wantErr: "--file-id are required"},
		{name: "delete-collection", cmd: NewDeleteCollectionCmd, wantErr: "delete-collection: --conversation is required"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := run(t, tc.cmd(), tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestIndexCmd_SingleFileFlags(t *testing.T) {
	t.Parallel()

	_, err := run(t, NewIndexCmd(), "-c", "c1", "--file-id", "f1", "a.md", "b.md")
	if err == nil || !strings.Contains(err.Error(), "--file-id applies to a single file") {
		t.Fatalf("--file-id: error = %v", err)
	}
	_, err = run(t, NewIndexCmd(), "-c", "c1", "--name", "Report", "a.md", "b.md")
	if err == nil || !strings.Contains(err.Error(), "--name applies to a single file") {
		t.Fatalf("--name: error = %v", err)
	}
}

func TestSearchCmd_BlankQuery(t *testing.T) {
	t.Parallel()
	_, err := run(t, NewSearchCmd(), "-c", "c1", "   ")
	if err == nil || !strings.Contains(err.Error(), "query is required") {
		t.Fatalf("error = %v", err)
	}
}

func TestVersionCmd(t *testing.T) {
	t.Parallel()
	out, err := run(t, NewVersionCmd())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "convrag") {
		t.Errorf("output %q should name the binary", out)
	}
}
