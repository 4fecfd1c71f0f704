package main

import "github.com/example/moutai-scheduler/cmd"

func main() {
	cmd.Execute()
}
