package main

import "image-volume-builder/cmd"

func main() {
	cmd.Execute()
}
