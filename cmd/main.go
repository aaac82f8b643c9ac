package main

import "github.com/midhunp1/visual-intelligent-automation-sub000/internal/cli"

func main() {
	cli.Execute()
}
