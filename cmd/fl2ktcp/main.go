// fl2ktcp relays a raw sample stream from a TCP server into an FL2000
// DAC, reconnecting when the connection drops.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/osmo-rf/gofl2k/fl2k"
	"github.com/osmo-rf/gofl2k/source"
)

var (
	addr       = flag.String("a", "127.0.0.1", "server address")
	port       = flag.Int("p", 1234, "server port")
	device     = flag.Int("d", 0, "device index")
	sampleRate = flag.Uint("s", 100000000, "sample rate in Hz")
	bufCount   = flag.Int("b", 0, "buffer count (0 = default)")
	unsigned   = flag.Bool("u", false, "treat samples as unsigned instead of signed")
)

func main() {
	flag.Parse()

	src := source.NewTCP(net.JoinHostPort(*addr, strconv.Itoa(*port)))
	src.Signed = !*unsigned
	defer src.Close()

	dev, err := fl2k.Open(*device)
	if err != nil {
		log.Fatalf("opening device %d: %v", *device, err)
	}
	defer dev.Close()

	if err := dev.StartTx(src, nil, *bufCount); err != nil {
		log.Fatalf("starting stream: %v", err)
	}
	achieved, err := dev.SetSampleRate(uint32(*sampleRate))
	if err != nil {
		log.Fatalf("setting sample rate: %v", err)
	}
	log.Printf("relaying %s:%d at %d Hz", *addr, *port, achieved)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigs:
		log.Println("signal caught, exiting")
	case <-src.Done():
		log.Println("stream ended")
	}
	dev.StopTx()
}
