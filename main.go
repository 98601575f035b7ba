package main

import "github.com/congregio/checkin-engine/cmd"

func main() {
	cmd.Execute()
}
