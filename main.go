package main

import "github.com/ngld/labelsel/cmd"

func main() {
	cmd.Execute()
}
