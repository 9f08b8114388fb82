package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fordtom/minions/internal/env"
	"github.com/fordtom/minions/pkg/client"
)

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid process id %q", s)
	}
	return id, nil
}

// input builds the request body. Optional fields are sent only when their
// flag was given, so "--args ''" sets an empty string while omitting --args
// leaves the field absent.
func (f InputFlags) input() (client.Input, error) {
	in := client.Input{FlakeURL: f.FlakeURL}
	if f.set["name"] {
		in.Name = &f.Name
	}
	if f.set["args"] {
		in.Args = &f.Args
	}
	if f.set["env"] && f.set["env-file"] {
		return in, fmt.Errorf("--env and --env-file are mutually exclusive")
	}
	if f.set["env"] {
		in.EnvVars = &f.EnvVars
	}
	if f.set["env-file"] {
		// #nosec 304
		b, err := os.ReadFile(f.EnvFile)
		if err != nil {
			return in, fmt.Errorf("read env file: %w", err)
		}
		s := string(b)
		if len(env.Parse(s)) == 0 && strings.TrimSpace(s) != "" {
			return in, fmt.Errorf("%s: no KEY=value assignments", f.EnvFile)
		}
		in.EnvVars = &s
	}
	return in, nil
}
