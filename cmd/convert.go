package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/davincible/toolrelay/internal/toolcall/jsonintag"
	"github.com/davincible/toolrelay/internal/toolcall/mixedjson"
	"github.com/davincible/toolrelay/internal/toolcall/variants"
	"github.com/davincible/toolrelay/internal/toolcall/xmlastool"
	"github.com/davincible/toolrelay/internal/toolcall/yamlinxml"
)

var (
	convertProtocol  string
	convertToolsPath string
)

var convertCmd = &cobra.Command{
	Use:   "convert [text]",
	Short: "Parse one block of model output through a tool-call protocol",
	Long: `Reads model-generated text (from an argument or stdin) and runs it
through the named tool-call protocol's parser, printing the resulting
content parts as JSON. Useful for scripting and debugging a protocol
without standing up the proxy.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertProtocol, "protocol", "p", "json-in-tag", "protocol to parse with (json-in-tag, xml-as-tool, yaml-in-xml, mixed-json, hermes, gemma, guided)")
	convertCmd.Flags().StringVarP(&convertToolsPath, "tools", "t", "", "path to a JSON file holding the []toolcall.ToolDefinition catalog (optional)")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	var text string
	if len(args) == 1 {
		text = args[0]
	} else {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(raw)
	}

	tools, err := loadToolDefinitions(convertToolsPath)
	if err != nil {
		return err
	}

	registry := newConvertRegistry()
	protocol, err := registry.MustGet(convertProtocol)
	if err != nil {
		return err
	}

	parts := protocol.ParseGeneratedText(context.Background(), text, tools, toolcall.ParseOptions{})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(parts)
}

func loadToolDefinitions(path string) ([]toolcall.ToolDefinition, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools file: %w", err)
	}
	var tools []toolcall.ToolDefinition
	if err := json.Unmarshal(data, &tools); err != nil {
		return nil, fmt.Errorf("decode tools file: %w", err)
	}
	return tools, nil
}

// newConvertRegistry mirrors internal/server.newProtocolRegistry, built
// standalone here so the CLI doesn't need to construct a whole server to
// exercise one protocol.
func newConvertRegistry() *toolcall.Registry {
	r := toolcall.NewRegistry()
	r.Register(jsonintag.NewDefault())
	r.Register(xmlastool.New())
	r.Register(yamlinxml.New())
	r.Register(mixedjson.New())
	r.Register(variants.NewHermes())
	r.Register(variants.NewGemma())
	r.Register(variants.NewGuided())
	return r
}
