// Command toolrelay runs the LLM tool-call relay: an HTTP proxy that lets
// models without native function calling participate in tool-use dialogues
// by speaking one of the text-based tool-call protocols in internal/toolcall.
package main

import "github.com/davincible/toolrelay/cmd"

func main() {
	cmd.Execute()
}
