package main

import "github.com/codeweaver-ai/llm-bridge-go/cmd"

func main() {
	cmd.Execute()
}
