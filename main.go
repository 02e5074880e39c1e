package main

import "git.wyat.me/zuul-gateway/cmd"

func main() {
	cmd.Execute()
}
