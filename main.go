package main

import "doc-qa/cmd"

func main() {
	cmd.Execute()
}
