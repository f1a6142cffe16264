package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/brojonat/stackhome/service/stacking"
)

// classification is the classify command's structured output.
type classification struct {
	CardState    stacking.HomeCardState `json:"card_state"`
	StillLoading bool                   `json:"still_loading"`
	Vector       stacking.StatusVector  `json:"vector"`
}

func classifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "classify",
		Usage:     "Classify a status vector into a home card state without a server",
		ArgsUsage: "[FILE]",
		Description: `Reads a status vector as JSON or YAML from FILE (or stdin when FILE is
omitted or "-") and prints the card state the home view would show.

Example:
  echo '{"balance": 5, "minimum_required": 10, "delegated": false,
         "stacker_info": {"status": "not-started"}}' | stackhome classify`,
		Action: func(c *cli.Context) error {
			var in io.Reader = os.Stdin
			if path := c.Args().First(); path != "" && path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open status vector: %w", err)
				}
				defer f.Close()
				in = f
			}

			vector, err := readStatusVector(in)
			if err != nil {
				return err
			}
			result := classification{
				CardState:    stacking.Classify(vector),
				StillLoading: vector.StillLoading(),
				Vector:       vector,
			}

			if done, err := emit(c, result); done {
				return err
			}
			fmt.Println(result.CardState)
			return nil
		},
	}
}

// readStatusVector decodes a status vector written as YAML or JSON. YAML is
// normalized through JSON so both formats share the json field names.
func readStatusVector(r io.Reader) (stacking.StatusVector, error) {
	var vector stacking.StatusVector

	data, err := io.ReadAll(r)
	if err != nil {
		return vector, fmt.Errorf("failed to read status vector: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return vector, fmt.Errorf("status vector is empty")
	}

	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return vector, fmt.Errorf("failed to parse status vector: %w", err)
	}
	normalized, err := json.Marshal(generic)
	if err != nil {
		return vector, fmt.Errorf("failed to normalize status vector: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(normalized))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&vector); err != nil {
		return vector, fmt.Errorf("invalid status vector: %w", err)
	}
	if vector.StackerInfo != nil {
		if _, err := stacking.ParseStackerStatus(string(vector.StackerInfo.Status)); err != nil {
			return vector, fmt.Errorf("invalid status vector: %w", err)
		}
	}
	return vector, nil
}
