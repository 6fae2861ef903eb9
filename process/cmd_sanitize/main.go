package main

import "bankledger/process/sanitize"

func main() {
	sanitize.Run()
}
