package main

import "github.com/eleven-am/voice-stream/internal/bootstrap"

func main() {
	bootstrap.Run()
}
