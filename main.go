package main

import "papervault/cmd"

func main() {
	cmd.Execute()
}
