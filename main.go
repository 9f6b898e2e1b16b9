package main

import "github.com/viniolvs/mwfaas/cmd"

func main() {
	cmd.Execute()
}
