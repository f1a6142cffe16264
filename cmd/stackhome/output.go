package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/brojonat/stackhome/client"
)

// Helper function to output JSON
func outputJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeYAML renders v as YAML using its JSON field names. The value goes
// through JSON first so json tags and MarshalText methods apply; decoding
// that JSON as YAML keeps integers intact.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to convert output to yaml: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

// emit writes v in the structured format requested by --json or --yaml and
// reports whether it did. Callers print their human format otherwise.
func emit(c *cli.Context, v any) (bool, error) {
	switch {
	case c.Bool("yaml"):
		return true, writeYAML(os.Stdout, v)
	case c.Bool("json"):
		return true, outputJSON(v)
	}
	return false, nil
}

func serviceClient(c *cli.Context) (*client.Client, error) {
	serverURL := c.String("server-url")
	if serverURL == "" {
		return nil, fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
	}
	// Only errors to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(serverURL, nil, logger), nil
}
