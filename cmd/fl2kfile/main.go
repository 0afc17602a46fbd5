// fl2kfile streams a raw or WAV sample file out of an FL2000 DAC.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/theckman/yacspin"

	"github.com/osmo-rf/gofl2k/fl2k"
	"github.com/osmo-rf/gofl2k/source"
)

var (
	device     = flag.Int("d", 0, "device index")
	sampleRate = flag.Uint("s", 0, "sample rate in Hz (default 100000000, or the WAV file's rate)")
	repeat     = flag.Bool("r", false, "repeat the file on EOF")
	signed     = flag.Bool("signed", false, "treat raw input as signed 8 bit samples")
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: fl2kfile [flags] <filename>")
	fmt.Fprintln(os.Stderr, "  filename '-' reads samples from stdin; .wav files are decoded")
	flag.PrintDefaults()
}

// doneSource is the part of a source the progress loop needs.
type doneSource interface {
	fl2k.SampleSource
	Done() <-chan struct{}
	Repeats() uint32
}

func openSource(name string) (doneSource, io.Closer, uint32, error) {
	if name == "-" {
		if *repeat {
			return nil, nil, 0, fmt.Errorf("cannot repeat samples from stdin")
		}
		f := source.NewFile(os.Stdin)
		f.Signed = *signed
		return f, nil, 0, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, 0, err
	}
	if strings.HasSuffix(strings.ToLower(name), ".wav") {
		w, err := source.NewWAV(f)
		if err != nil {
			f.Close()
			return nil, nil, 0, err
		}
		w.Repeat = *repeat
		return w, f, w.SampleRate(), nil
	}
	src := source.NewFile(f)
	src.Signed = *signed
	src.Repeat = *repeat
	return src, f, 0, nil
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	src, closer, fileRate, err := openSource(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	if closer != nil {
		defer closer.Close()
	}

	rate := uint32(*sampleRate)
	if rate == 0 {
		rate = fileRate
	}
	if rate == 0 {
		rate = 100000000
	}

	dev, err := fl2k.Open(*device)
	if err != nil {
		log.Fatalf("opening device %d: %v", *device, err)
	}
	defer dev.Close()

	if err := dev.StartTx(src, nil, 0); err != nil {
		log.Fatalf("starting stream: %v", err)
	}
	achieved, err := dev.SetSampleRate(rate)
	if err != nil {
		log.Fatalf("setting sample rate: %v", err)
	}
	log.Printf("streaming at %d Hz", achieved)

	spinner, err := yacspin.New(yacspin.Config{
		Frequency:     250 * time.Millisecond,
		CharSet:       yacspin.CharSets[14],
		Suffix:        " streaming",
		StopCharacter: "done",
	})
	if err == nil {
		spinner.Start()
		defer spinner.Stop()
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

loop:
	for {
		select {
		case <-sigs:
			log.Println("signal caught, exiting")
			break loop
		case <-src.Done():
			break loop
		case <-tick.C:
			if spinner != nil {
				spinner.Message(fmt.Sprintf("underflows %d, repeats %d",
					dev.Underflows(), src.Repeats()))
			}
		}
	}
	dev.StopTx()
	if dev.Lost() {
		log.Println("device lost")
	}
}
