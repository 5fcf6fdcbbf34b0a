package main

import "github.com/AvaProtocol/ap-staking/cmd"

func main() {
	cmd.Execute()
}
