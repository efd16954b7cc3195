package main

import "github.com/Tyrowin/gorelay/internal/cli"

func main() {
	cli.Main()
}
