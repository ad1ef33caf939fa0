package main

import "github.com/master-pd/bot-master/cmd"

func main() {
	cmd.Execute()
}
