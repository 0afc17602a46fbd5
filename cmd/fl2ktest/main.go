// fl2ktest measures the actual DAC clock of an FL2000 adapter by
// streaming a square wave at half the sample rate and comparing the
// consumed sample count to the wall clock. The PPM figures it prints
// are the deviation of the device's crystal from the requested rate.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/osmo-rf/gofl2k/fl2k"
	"github.com/osmo-rf/gofl2k/source"
)

var (
	device     = flag.Int("d", 0, "device index")
	sampleRate = flag.Uint("s", 100000000, "sample rate in Hz")
	interval   = flag.Duration("p", 10*time.Second, "PPM report interval")
)

// settle is how long measurements are discarded while the transfer
// pipeline and the host clock source stabilize.
const settle = 3 * time.Second

func main() {
	flag.Parse()

	src := source.NewSquare()
	dev, err := fl2k.Open(*device)
	if err != nil {
		log.Fatalf("opening device %d: %v", *device, err)
	}
	defer dev.Close()

	if err := dev.StartTx(src, nil, 0); err != nil {
		log.Fatalf("starting stream: %v", err)
	}
	achieved, err := dev.SetSampleRate(uint32(*sampleRate))
	if err != nil {
		log.Fatalf("setting sample rate: %v", err)
	}
	nominal := float64(achieved)
	log.Printf("streaming square wave at %d Hz (signal at %d Hz)",
		achieved, achieved/2)
	log.Printf("discarding the first %v of samples", settle)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("signal caught, exiting")
		cancel()
	}()

	time.Sleep(settle)
	startBufs := src.Buffers()
	start := time.Now()
	lastBufs := startBufs
	last := start

	limiter := rate.NewLimiter(rate.Every(*interval), 1)
	limiter.Allow() // burn the initial token so the first wait is a full interval
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		if dev.Lost() {
			log.Println("device lost")
			break
		}
		now := time.Now()
		bufs := src.Buffers()

		cur := float64(bufs-lastBufs) * fl2k.BufLen / now.Sub(last).Seconds()
		cum := float64(bufs-startBufs) * fl2k.BufLen / now.Sub(start).Seconds()
		log.Printf("real rate: %.0f Hz, ppm: %+.1f (cumulative %+.1f), underflows: %d",
			cur,
			(cur/nominal-1)*1e6,
			(cum/nominal-1)*1e6,
			dev.Underflows())

		lastBufs = bufs
		last = now
	}
	dev.StopTx()
}
