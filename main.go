package main

import "github.com/norvik/vatn/cli"

func main() {
	cli.Execute()
}
