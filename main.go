package main

import (
	"flag"
	"log"
	"net"

	"github.com/gin-gonic/gin"

	"github.com/sivtsovame/battle-of-sea/constants"
)

func main() {
	addr := flag.String("addr", constants.DefaultServerAddr, "HTTP/WebSocket listen address")
	tcpAddr := flag.String("tcp-addr", "", "legacy line-JSON listen address (empty disables)")
	turnTime := flag.Duration("turn-time", constants.DefaultTurnTime, "turn duration")
	flag.Parse()

	manager := NewManager(*turnTime)
	server := NewServer(manager)

	router := gin.Default()
	server.Routes(router)

	if *tcpAddr != "" {
		ln, err := net.Listen("tcp", *tcpAddr)
		if err != nil {
			log.Fatalf("[Server] tcp listen failed: %v", err)
		}
		log.Printf("[Server] legacy tcp listener on %s", *tcpAddr)
		go server.ServeTCP(ln)
	}

	log.Printf("[Server] listening on %s", *addr)
	if err := router.Run(*addr); err != nil {
		log.Fatalf("[Server] %v", err)
	}
}
