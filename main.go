package main

import "github.com/tonimelisma/onedrive-extractor/cmd"

func main() {
	cmd.Execute()
}
