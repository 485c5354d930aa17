package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/barysiuk/lettactl/cmd/lettactl/cmd"
	"github.com/barysiuk/lettactl/internal/letta"
	"github.com/barysiuk/lettactl/internal/letta/lettatest"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"lettactl": func() {
			if err := cmd.Execute(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		},
	})
}

func TestScript(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir:                 filepath.Join("testdata", "script"),
		RequireExplicitExec: true,
		Setup: func(e *testscript.Env) error {
			// Each script gets its own in-memory server. HOME points into
			// the work dir so ~/.lettactl/ is created inside it.
			srv := lettatest.New()
			e.Defer(srv.Close)
			e.Vars = append(e.Vars,
				"HOME="+e.WorkDir,
				"LETTA_BASE_URL="+srv.URL(),
			)
			return nil
		},
		Cmds: map[string]func(ts *testscript.TestScript, neg bool, args []string){
			// seed-agent creates a live agent directly on the test server,
			// bypassing the CLI.
			// Usage: seed-agent <name> [system-prompt]
			"seed-agent": cmdSeedAgent,
		},
	})
}

func cmdSeedAgent(ts *testscript.TestScript, neg bool, args []string) {
	if neg {
		ts.Fatalf("seed-agent does not support negation")
	}
	if len(args) < 1 {
		ts.Fatalf("usage: seed-agent <name> [system-prompt]")
	}
	prompt := "You are a seeded agent."
	if len(args) > 1 {
		prompt = args[1]
	}

	client := letta.NewClient(letta.ClientOptions{BaseURL: ts.Getenv("LETTA_BASE_URL")})
	_, err := client.CreateAgent(context.Background(), letta.AgentCreate{
		Name:         args[0],
		SystemPrompt: prompt,
		Model:        "openai/gpt-4.1",
	})
	ts.Check(err)
}
