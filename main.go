package main

import "grimm.is/foldwatch/cmd"

func main() {
	cmd.Main()
}
