package main

import "github.com/Tutortoise/vision-service/cmd"

func main() {
	cmd.Execute()
}
