package main

import "github.com/nextlevelbuilder/walink/cmd"

func main() {
	cmd.Execute()
}
