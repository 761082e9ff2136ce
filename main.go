package main

import "lensbook/cli"

func main() {
	cli.Execute()
}
