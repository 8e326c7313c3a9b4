// Package benchmark times one-shot and streaming parsing across every
// shipped protocol, so a regression in the shared stream machinery shows
// up as a number instead of only as a correctness failure.
package benchmark

import (
	"context"
	"testing"

	"github.com/davincible/toolrelay/internal/toolcall"
	"github.com/davincible/toolrelay/internal/toolcall/jsonintag"
	"github.com/davincible/toolrelay/internal/toolcall/mixedjson"
	"github.com/davincible/toolrelay/internal/toolcall/variants"
	"github.com/davincible/toolrelay/internal/toolcall/xmlastool"
	"github.com/davincible/toolrelay/internal/toolcall/yamlinxml"
)

var weatherTool = toolcall.ToolDefinition{
	Name:        "get_weather",
	Description: "Look up the current weather for a city",
}

func protocols() map[string]toolcall.Protocol {
	return map[string]toolcall.Protocol{
		"json-in-tag": jsonintag.NewDefault(),
		"xml-as-tool": xmlastool.New(),
		"yaml-in-xml": yamlinxml.New(),
		"mixed-json":  mixedjson.New(),
		"hermes":      variants.NewHermes(),
		"gemma":       variants.NewGemma(),
		"guided":      variants.NewGuided(),
	}
}

func sampleFor(name string) string {
	switch name {
	case "xml-as-tool":
		return `Let me check.<get_weather><city>Lyon</city></get_weather>`
	case "yaml-in-xml":
		return "Let me check.\n<get_weather>\ncity: Lyon\n</get_weather>\n"
	case "mixed-json":
		return `Let me check. {"tool": "get_weather", "arguments": {"city": "Lyon"}}`
	case "gemma":
		return "Let me check.\n```tool_call\n{\"name\": \"get_weather\", \"arguments\": {\"city\": \"Lyon\"}}\n```\n"
	default:
		return "Let me check.\n<tool_call>\n{\"name\": \"get_weather\", \"arguments\": {\"city\": \"Lyon\"}}\n</tool_call>\n"
	}
}

func BenchmarkParseGeneratedText(b *testing.B) {
	tools := []toolcall.ToolDefinition{weatherTool}
	ctx := context.Background()

	for name, protocol := range protocols() {
		protocol := protocol
		text := sampleFor(name)
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				protocol.ParseGeneratedText(ctx, text, tools, toolcall.ParseOptions{})
			}
		})
	}
}

func BenchmarkStreamParse(b *testing.B) {
	tools := []toolcall.ToolDefinition{weatherTool}

	for name, protocol := range protocols() {
		protocol := protocol
		text := sampleFor(name)
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				parser := protocol.CreateStreamParser(tools, toolcall.ParseOptions{})
				for j := 0; j < len(text); j++ {
					parser.Push(string(text[j]))
				}
				parser.Finish()
			}
		})
	}
}
