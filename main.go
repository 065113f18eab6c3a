package main

import "github.com/ValentinKolb/sectorkv/cmd"

func main() {
	cmd.Execute()
}
