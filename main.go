package main

import (
	"github.com/ValentinKolb/statesync/cmd"
)

func main() {
	cmd.Execute()
}
