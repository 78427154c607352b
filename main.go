package main

import "github.com/gartnera/restricted-backup/cmd"

func main() {
	cmd.Execute()
}
