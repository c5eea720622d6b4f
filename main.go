package main

import (
	"github.com/Coworker2000/acr/server"
)

func main() {
	s := server.NewServer()
	s.Start(s.Config.Server.Addr)
}
