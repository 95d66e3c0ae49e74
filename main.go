package main

import "github.com/ValentinKolb/pbwire/cmd"

func main() {
	cmd.Execute()
}
