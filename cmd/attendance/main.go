package main

import "github.com/lakshay-lagyan/smart-attendance-cv/cmd"

func main() {
	cmd.Execute()
}
