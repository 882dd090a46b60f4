package main

import (
	"secbrief/cmd/handlers"
	"secbrief/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
