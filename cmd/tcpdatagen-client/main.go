// Command tcpdatagen-client is the minimal measurement peer: it opens one
// connection to the server, sends its flow id, then reads the payload
// stream until the server closes the connection. All measurement happens
// on the server side.
//
// Usage:
//
//	tcpdatagen-client server_ip flowid server_port
package main

import (
	"flag"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

func main() {
	flag.Parse()
	if flag.NArg() != 3 {
		log.Fatal("usage: tcpdatagen-client server_ip flowid server_port")
	}
	serverIP, flowID, serverPort := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	addr := net.JoinHostPort(serverIP, serverPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatal("cannot connect", "addr", addr, "error", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(flowID + "\n")); err != nil {
		log.Fatal("cannot send identification header", "error", err)
	}
	log.Info("connected", "addr", addr, "flowid", flowID)

	start := time.Now()
	n, err := io.Copy(io.Discard, conn)
	if err != nil {
		log.Fatal("read failed", "error", err)
	}
	elapsed := time.Since(start)
	log.Info("stream finished", "bytes", n, "runtime", elapsed,
		"rate_mbps", float64(n)*8/elapsed.Seconds()/1e6)
}
